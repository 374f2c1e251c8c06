package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jfinnert/bite-map/internal/app"
	"github.com/jfinnert/bite-map/internal/adapters/extract"
	"github.com/jfinnert/bite-map/internal/domain"
)

type fakeExtractor struct {
	meta domain.VideoMeta
	err  error
}

func (f *fakeExtractor) Fetch(ctx context.Context, p domain.Platform, url string) (domain.VideoMeta, error) {
	return f.meta, f.err
}

type fakeGeocoder struct {
	result domain.GeoResult
	err    error
	calls  int
}

func (f *fakeGeocoder) Geocode(ctx context.Context, query string) (domain.GeoResult, error) {
	f.calls++
	return f.result, f.err
}

func newIngest(pr *fakePlaceRepo, sr *fakeSourceRepo, ex domain.Extractor, geo domain.Geocoder) *app.IngestService {
	return app.NewIngestService(pr, sr, ex, geo, &fakeCache{})
}

func TestIngestLink_AttachToExistingSlug(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	ex := &fakeExtractor{meta: domain.VideoMeta{Title: "BEST Pizza in NYC", ThumbnailURL: "https://i.example/p.jpg"}}
	geo := &fakeGeocoder{}
	ing := newIngest(pr, sr, ex, geo)

	id, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:       "https://www.youtube.com/watch?v=abc123",
		PlaceSlug: "joes-diner-new-york",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	src, _ := sr.GetSource(context.Background(), id)
	if src.PlaceID != 1 || src.Platform != domain.PlatformYouTube {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.Status != domain.StatusActive {
		t.Fatalf("validated source should be active, got %s", src.Status)
	}
	if src.Title == nil || *src.Title != "BEST Pizza in NYC" {
		t.Fatalf("title not captured: %+v", src)
	}
	if geo.calls != 0 {
		t.Fatalf("slug path must not geocode")
	}
	if len(pr.places) != 3 {
		t.Fatalf("no place should have been created")
	}
}

func TestIngestLink_CreatesPlaceFromGeocode(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	ex := &fakeExtractor{meta: domain.VideoMeta{Title: "Taco crawl"}}
	geo := &fakeGeocoder{result: domain.GeoResult{
		Name:    "La Taqueria",
		Address: "La Taqueria, 2889 Mission St, San Francisco, CA 94110, United States",
		Lat:     37.7509, Lng: -122.4183,
	}}
	ing := newIngest(pr, sr, ex, geo)

	id, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:        "https://www.tiktok.com/@foodie/video/999",
		PlaceQuery: "La Taqueria San Francisco",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(pr.places) != 4 {
		t.Fatalf("expected a new place, have %d", len(pr.places))
	}
	created := pr.places[3]
	if created.Slug != "la-taqueria-san-francisco" {
		t.Fatalf("slug: %q", created.Slug)
	}
	if created.City == nil || *created.City != "San Francisco" {
		t.Fatalf("city not parsed: %+v", created)
	}
	if created.Country == nil || *created.Country != "United States" {
		t.Fatalf("country not parsed: %+v", created)
	}
	if created.PostalCode == nil || *created.PostalCode != "94110" {
		t.Fatalf("postal not parsed: %+v", created)
	}
	src, _ := sr.GetSource(context.Background(), id)
	if src.PlaceID != created.ID || src.Platform != domain.PlatformTikTok {
		t.Fatalf("source not attached to new place: %+v", src)
	}
}

func TestIngestLink_NearbyDuplicateReused(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	ex := &fakeExtractor{}
	// ~30m from Joe's Diner, different capitalization in the name.
	geo := &fakeGeocoder{result: domain.GeoResult{
		Name: "joe's diner", Address: "Joe's Diner, New York, USA",
		Lat: 40.7101, Lng: -74.0003,
	}}
	ing := newIngest(pr, sr, ex, geo)

	id, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:        "https://youtu.be/dup1",
		PlaceQuery: "joes diner nyc",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(pr.places) != 3 {
		t.Fatalf("duplicate place created")
	}
	src, _ := sr.GetSource(context.Background(), id)
	if src.PlaceID != 1 {
		t.Fatalf("expected attach to place 1, got %d", src.PlaceID)
	}
}

func TestIngestLink_UnknownPlatformRejected(t *testing.T) {
	ing := newIngest(seedPlaces(), &fakeSourceRepo{}, &fakeExtractor{}, &fakeGeocoder{})

	_, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:       "https://vimeo.com/123",
		PlaceSlug: "joes-diner-new-york",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestLink_GoneVideoRecordedAsFailed(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	ing := newIngest(pr, sr, &fakeExtractor{err: extract.ErrNotFound}, &fakeGeocoder{})

	id, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:       "https://youtu.be/deleted",
		PlaceSlug: "joes-diner-new-york",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	src, _ := sr.GetSource(context.Background(), id)
	if src.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", src.Status)
	}
}

func TestIngestLink_TransientExtractFailureStoresNothing(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	ing := newIngest(pr, sr, &fakeExtractor{err: errors.New("remote 503")}, &fakeGeocoder{})

	_, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:       "https://youtu.be/flaky",
		PlaceSlug: "joes-diner-new-york",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(sr.sources) != 0 {
		t.Fatalf("transient failure must not persist a source")
	}
}

func TestIngestLink_SlugCollisionGetsSuffix(t *testing.T) {
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	// Same name/city as place 1's slug but far away, so no proximity match.
	pr.places[0].Slug = "joes-diner-new-york"
	geo := &fakeGeocoder{result: domain.GeoResult{
		Name: "Joe's Diner", Address: "Joe's Diner, 100 Broadway, New York, NY 10027, USA",
		Lat: 40.80, Lng: -73.90,
	}}
	ing := newIngest(pr, sr, &fakeExtractor{}, geo)

	_, err := ing.IngestLink(context.Background(), app.IngestTask{
		URL:        "https://youtu.be/other-joes",
		PlaceQuery: "Joe's Diner uptown",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	created := pr.places[len(pr.places)-1]
	if created.Slug != "joes-diner-new-york-2" {
		t.Fatalf("expected suffixed slug, got %q", created.Slug)
	}
}

func TestRemoveSource_ActiveGoesThroughRemoved(t *testing.T) {
	pr := seedPlaces()
	var changes []domain.SourceChange
	sr := &fakeSourceRepo{notify: func(ch domain.SourceChange) { changes = append(changes, ch) }}
	ing := newIngest(pr, sr, &fakeExtractor{}, &fakeGeocoder{})
	ctx := context.Background()

	id, err := ing.IngestLink(ctx, app.IngestTask{URL: "https://youtu.be/x", PlaceSlug: "joes-diner-new-york"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	changes = changes[:0]

	if err := ing.RemoveSource(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := sr.GetSource(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("source should be gone")
	}
	if len(changes) != 2 || changes[0].Kind != domain.ChangeStatus || changes[0].To != domain.StatusRemoved || changes[1].Kind != domain.ChangeDelete {
		t.Fatalf("unexpected change stream: %+v", changes)
	}
}

func TestIngestThenCounts_EndToEndWithAggregator(t *testing.T) {
	// Wire the real fakes together the way main does: source mutations feed
	// the counter through the notify hook.
	pr := seedPlaces()
	sr := &fakeSourceRepo{}
	counterSeen := map[int64]int64{}
	sr.notify = func(ch domain.SourceChange) {
		// mimic countable-set accounting: +1 into active, -1 out of it
		if ch.From == domain.StatusActive {
			counterSeen[ch.PlaceID]--
		}
		if ch.To == domain.StatusActive {
			counterSeen[ch.PlaceID]++
		}
	}
	ing := newIngest(pr, sr, &fakeExtractor{meta: domain.VideoMeta{Title: "t"}}, &fakeGeocoder{})
	ctx := context.Background()

	id, _ := ing.IngestLink(ctx, app.IngestTask{URL: "https://youtu.be/1", PlaceSlug: "joes-diner-new-york"})
	if counterSeen[1] != 1 {
		t.Fatalf("activation not observed: %v", counterSeen)
	}
	_ = ing.RemoveSource(ctx, id)
	if counterSeen[1] != 0 {
		t.Fatalf("removal not observed: %v", counterSeen)
	}
}
