package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "github.com/jfinnert/bite-map/internal/adapters/redis"
)

type detailStub struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisad.New(mr.Addr(), "", 0), mr
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	var miss detailStub
	ok, err := c.Get(ctx, "place:1:detail", &miss)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected miss on empty cache")
	}

	want := detailStub{ID: 1, Name: "Joe's Diner"}
	if err := c.Set(ctx, "place:1:detail", want, 60); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got detailStub
	ok, err = c.Get(ctx, "place:1:detail", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != want {
		t.Fatalf("got ok=%v %+v, want %+v", ok, got, want)
	}
}

func TestCacheDel(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	if err := c.Set(ctx, "place:2:detail", detailStub{ID: 2}, 60); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Del(ctx, "place:2:detail"); err != nil {
		t.Fatalf("Del: %v", err)
	}

	var got detailStub
	ok, err := c.Get(ctx, "place:2:detail", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	if err := c.Set(ctx, "place:3:detail", detailStub{ID: 3}, 30); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(31 * time.Second)

	var got detailStub
	ok, err := c.Get(ctx, "place:3:detail", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire")
	}
}
