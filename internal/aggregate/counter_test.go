package aggregate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jfinnert/bite-map/internal/aggregate"
	"github.com/jfinnert/bite-map/internal/domain"
)

// fakeStore counts sources per place like the real repository would.
type fakeStore struct {
	mu      sync.Mutex
	active  map[int64]int64
	scans   int32
	scanErr error
}

func (f *fakeStore) CountSourcesByStatus(ctx context.Context, placeID int64, statuses []domain.SourceStatus) (int64, error) {
	atomic.AddInt32(&f.scans, 1)
	if f.scanErr != nil {
		return 0, f.scanErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[placeID], nil
}

func (f *fakeStore) set(placeID, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[int64]int64{}
	}
	f.active[placeID] = n
}

func TestCountFor_LazyRebuildThenIncremental(t *testing.T) {
	st := &fakeStore{}
	st.set(7, 2)
	agg := aggregate.New(st)
	ctx := context.Background()

	n, err := agg.CountFor(ctx, 7)
	if err != nil || n != 2 {
		t.Fatalf("CountFor: %d, %v", n, err)
	}

	// Pending does not count; activation does.
	agg.Apply(domain.SourceChange{PlaceID: 7, Kind: domain.ChangeCreate, To: domain.StatusPending})
	if n, _ := agg.CountFor(ctx, 7); n != 2 {
		t.Fatalf("pending create changed count: %d", n)
	}
	agg.Apply(domain.SourceChange{PlaceID: 7, Kind: domain.ChangeStatus, From: domain.StatusPending, To: domain.StatusActive})
	if n, _ := agg.CountFor(ctx, 7); n != 3 {
		t.Fatalf("activation not counted: %d", n)
	}
	agg.Apply(domain.SourceChange{PlaceID: 7, Kind: domain.ChangeDelete, From: domain.StatusActive})
	if n, _ := agg.CountFor(ctx, 7); n != 2 {
		t.Fatalf("delete not counted: %d", n)
	}
	if got := atomic.LoadInt32(&st.scans); got != 1 {
		t.Fatalf("incremental path should not rescan; scans=%d", got)
	}
}

func TestApply_NegativeForcesRecount(t *testing.T) {
	st := &fakeStore{}
	st.set(3, 0)
	agg := aggregate.New(st)
	ctx := context.Background()

	if n, _ := agg.CountFor(ctx, 3); n != 0 {
		t.Fatalf("want 0, got %d", n)
	}
	// A duplicate delete notification would drive the counter below zero.
	agg.Apply(domain.SourceChange{PlaceID: 3, Kind: domain.ChangeDelete, From: domain.StatusActive})

	// The entry was dropped; next read recounts from the store and the
	// count is never observed negative.
	st.set(3, 5)
	n, err := agg.CountFor(ctx, 3)
	if err != nil || n != 5 {
		t.Fatalf("recount after clamp: %d, %v", n, err)
	}
	if atomic.LoadInt32(&st.scans) != 2 {
		t.Fatalf("expected a second scan after clamp; scans=%d", st.scans)
	}
}

func TestApply_UnloadedCounterStaysLazy(t *testing.T) {
	st := &fakeStore{}
	st.set(9, 4)
	agg := aggregate.New(st)

	// Changes before the first read must not seed a partial counter.
	agg.Apply(domain.SourceChange{PlaceID: 9, Kind: domain.ChangeCreate, To: domain.StatusActive})

	if n, _ := agg.CountFor(context.Background(), 9); n != 4 {
		t.Fatalf("want store truth 4, got %d", n)
	}
}

func TestRebuild_SwapsAndForgetDrops(t *testing.T) {
	st := &fakeStore{}
	st.set(11, 1)
	agg := aggregate.New(st)
	ctx := context.Background()

	if n, _ := agg.CountFor(ctx, 11); n != 1 {
		t.Fatalf("want 1, got %d", n)
	}
	st.set(11, 6)
	if err := agg.Rebuild(ctx, 11); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n, _ := agg.CountFor(ctx, 11); n != 6 {
		t.Fatalf("rebuild did not swap: got %d", n)
	}

	agg.Forget(11)
	st.set(11, 9)
	if n, _ := agg.CountFor(ctx, 11); n != 9 {
		t.Fatalf("forget did not drop entry: got %d", n)
	}
}

func TestCountFor_ConcurrentSamePlaceSingleScan(t *testing.T) {
	st := &fakeStore{}
	st.set(21, 3)
	agg := aggregate.New(st)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := agg.CountFor(context.Background(), 21); err != nil || n != 3 {
				t.Errorf("CountFor: %d, %v", n, err)
			}
		}()
	}
	wg.Wait()
	// Singleflight collapses the cold reads; allow a tiny race margin but
	// nothing near one scan per reader.
	if s := atomic.LoadInt32(&st.scans); s > 3 {
		t.Fatalf("expected deduplicated rebuilds, got %d scans", s)
	}
}

func TestCountFor_ConcurrentDifferentPlaces(t *testing.T) {
	st := &fakeStore{}
	for i := int64(1); i <= 50; i++ {
		st.set(i, i)
	}
	agg := aggregate.New(st)

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			agg.Apply(domain.SourceChange{PlaceID: id, Kind: domain.ChangeCreate, To: domain.StatusActive})
			if n, err := agg.CountFor(context.Background(), id); err != nil || n < id {
				t.Errorf("place %d: count %d, err %v", id, n, err)
			}
		}(i)
	}
	wg.Wait()
}
