package domain

import "context"

type PlaceRepository interface {
	// Write paths
	PutPlace(ctx context.Context, p Place) (int64, error)
	DeletePlace(ctx context.Context, id int64, cascade bool) error

	// Read paths
	GetPlace(ctx context.Context, id int64) (Place, error)
	GetPlaceBySlug(ctx context.Context, slug string) (Place, error)
	// ScanBBox yields every place inside the box, edges inclusive.
	// Order is unspecified; the query engine applies ordering.
	ScanBBox(ctx context.Context, b BBox) ([]Place, error)
}

type SourceRepository interface {
	PutSource(ctx context.Context, s Source) (int64, error)
	GetSource(ctx context.Context, id int64) (Source, error)
	// ListSourcesByPlace orders by created_at DESC, id DESC (stable).
	ListSourcesByPlace(ctx context.Context, placeID int64) ([]Source, error)
	UpdateSourceStatus(ctx context.Context, id int64, to SourceStatus) error
	DeleteSource(ctx context.Context, id int64) error
	// CountSourcesByStatus is the aggregation recompute primitive.
	CountSourcesByStatus(ctx context.Context, placeID int64, statuses []SourceStatus) (int64, error)
}

// Counter is the read side of the aggregation engine.
type Counter interface {
	CountFor(ctx context.Context, placeID int64) (int64, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// VideoMeta is what an extractor learns about a video reference.
type VideoMeta struct {
	Title        string
	ThumbnailURL string
	AuthorName   string
}

// Extractor fetches metadata for a platform video URL.
// ErrNotFound means the video is confirmed gone, not a transient failure.
type Extractor interface {
	Fetch(ctx context.Context, platform Platform, url string) (VideoMeta, error)
}

// GeoResult is a resolved location for a free-text place query.
type GeoResult struct {
	Name     string
	Address  string
	Lat, Lng float64
}

type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeoResult, error)
}

// Read models & queries

type PlacesQuery struct {
	BBox   *BBox
	Q      string
	Limit  int
	Offset int
}

// PlaceHit is one result row: a place plus its derived review count.
type PlaceHit struct {
	Place
	ReviewCount int64
}

type PlacesPage struct {
	Items  []PlaceHit
	Total  int
	Limit  int
	Offset int
	Page   int
	Pages  int
}

type PlaceDetail struct {
	Place
	ReviewCount int64
	Sources     []Source
}
