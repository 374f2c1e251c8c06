package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"github.com/jfinnert/bite-map/internal/adapters/extract"
	"github.com/jfinnert/bite-map/internal/domain"
)

const (
	// DefaultDedupeRadius: a new location this close to an existing place
	// is treated as the same physical place.
	DefaultDedupeRadius = 100.0 // meters

	maxSlugLen = 60
)

// IngestTask is one unit of upstream work: a discovered video link plus a
// place identity, either a known slug or free text for the geocoder.
type IngestTask struct {
	URL        string
	PlaceSlug  string
	PlaceQuery string
}

// IngestService implements the upstream producer contract: attach the
// video reference to an existing place, or create the place first.
type IngestService struct {
	places       domain.PlaceRepository
	sources      domain.SourceRepository
	extractor    domain.Extractor
	geocoder     domain.Geocoder
	cache        domain.Cache
	dedupeRadius float64
}

func NewIngestService(p domain.PlaceRepository, s domain.SourceRepository, e domain.Extractor, g domain.Geocoder, cache domain.Cache) *IngestService {
	return &IngestService{
		places: p, sources: s, extractor: e, geocoder: g, cache: cache,
		dedupeRadius: DefaultDedupeRadius,
	}
}

// SetDedupeRadius overrides the distance within which two geocoded
// results are treated as the same place. Non-positive values are ignored.
func (s *IngestService) SetDedupeRadius(meters float64) {
	if meters > 0 {
		s.dedupeRadius = meters
	}
}

// IngestLink processes one task end to end and returns the new source id.
// The source is written pending, then moved to active once the platform
// confirms the video, or to failed when the platform says it is gone.
// Transient extractor failures abort before anything is stored, so the
// task can be retried wholesale.
func (s *IngestService) IngestLink(ctx context.Context, t IngestTask) (int64, error) {
	platform, ok := extract.DetectPlatform(t.URL)
	if !ok {
		return 0, domain.Invalidf("unsupported video platform for url %q", t.URL)
	}

	meta, fetchErr := s.extractor.Fetch(ctx, platform, t.URL)
	gone := errors.Is(fetchErr, extract.ErrNotFound) || errors.Is(fetchErr, extract.ErrForbidden)
	if fetchErr != nil && !gone {
		return 0, fmt.Errorf("extract %s: %w", t.URL, fetchErr)
	}

	place, err := s.resolvePlace(ctx, t)
	if err != nil {
		return 0, err
	}

	src := domain.Source{
		PlaceID:  place.ID,
		URL:      t.URL,
		Platform: platform,
		Status:   domain.StatusPending,
	}
	if fetchErr == nil {
		if meta.Title != "" {
			title := meta.Title
			src.Title = &title
		}
		if meta.ThumbnailURL != "" {
			thumb := meta.ThumbnailURL
			src.ThumbnailURL = &thumb
		}
	}
	id, err := s.sources.PutSource(ctx, src)
	if err != nil {
		return 0, err
	}

	next := domain.StatusActive
	if gone {
		next = domain.StatusFailed
	}
	if err := s.sources.UpdateSourceStatus(ctx, id, next); err != nil {
		return id, err
	}
	s.invalidatePlace(ctx, place.ID)

	log.Info().Int64("source_id", id).Int64("place_id", place.ID).
		Str("platform", string(platform)).Str("status", string(next)).
		Msg("link ingested")
	return id, nil
}

// RemoveSource retires a confirmed-gone video: active sources pass through
// removed first, then the record is deleted.
func (s *IngestService) RemoveSource(ctx context.Context, id int64) error {
	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if src.Status == domain.StatusActive {
		if err := s.sources.UpdateSourceStatus(ctx, id, domain.StatusRemoved); err != nil {
			return err
		}
	}
	if err := s.sources.DeleteSource(ctx, id); err != nil {
		return err
	}
	s.invalidatePlace(ctx, src.PlaceID)
	return nil
}

func (s *IngestService) invalidatePlace(ctx context.Context, placeID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, detailCacheKey(placeID))
}

// resolvePlace finds the owning place for a task: by slug when upstream
// already knows it, otherwise geocode + proximity dedupe, creating the
// place only when nothing nearby matches.
func (s *IngestService) resolvePlace(ctx context.Context, t IngestTask) (domain.Place, error) {
	if t.PlaceSlug != "" {
		return s.places.GetPlaceBySlug(ctx, t.PlaceSlug)
	}
	if strings.TrimSpace(t.PlaceQuery) == "" {
		return domain.Place{}, domain.Invalidf("task needs a place slug or a place query")
	}

	geo, err := s.geocoder.Geocode(ctx, t.PlaceQuery)
	if err != nil {
		return domain.Place{}, fmt.Errorf("geocode %q: %w", t.PlaceQuery, err)
	}

	if dup, ok, err := s.findNearbyDuplicate(ctx, geo); err != nil {
		return domain.Place{}, err
	} else if ok {
		log.Debug().Int64("place_id", dup.ID).Str("name", dup.Name).Msg("reusing nearby place")
		return dup, nil
	}

	parts := parseAddress(geo.Address)
	p := domain.Place{
		Name:       geo.Name,
		Address:    optional(geo.Address),
		City:       parts.city,
		State:      parts.state,
		Country:    parts.country,
		PostalCode: parts.postal,
		Lat:        geo.Lat,
		Lng:        geo.Lng,
	}
	var cityHint string
	if parts.city != nil {
		cityHint = *parts.city
	}
	p.Slug, err = s.uniqueSlug(ctx, geo.Name, cityHint)
	if err != nil {
		return domain.Place{}, err
	}
	p.ID, err = s.places.PutPlace(ctx, p)
	if err != nil {
		return domain.Place{}, err
	}
	log.Info().Int64("place_id", p.ID).Str("slug", p.Slug).Msg("place created")
	return p, nil
}

// findNearbyDuplicate scans a small box around the candidate point and
// picks an exact name match first, otherwise the closest place within the
// dedupe radius.
func (s *IngestService) findNearbyDuplicate(ctx context.Context, geo domain.GeoResult) (domain.Place, bool, error) {
	box := domain.BBoxAround(geo.Lat, geo.Lng, s.dedupeRadius)
	nearby, err := s.places.ScanBBox(ctx, box)
	if err != nil {
		return domain.Place{}, false, err
	}

	var best domain.Place
	bestDist := s.dedupeRadius + 1
	for _, p := range nearby {
		d := domain.DistanceMeters(geo.Lat, geo.Lng, p.Lat, p.Lng)
		if d > s.dedupeRadius {
			continue
		}
		if strings.EqualFold(p.Name, geo.Name) {
			return p, true, nil
		}
		if d < bestDist {
			best, bestDist = p, d
		}
	}
	if bestDist <= s.dedupeRadius {
		return best, true, nil
	}
	return domain.Place{}, false, nil
}

// uniqueSlug builds name(-city), slugified and capped, then de-collides
// with a numeric suffix against the store.
func (s *IngestService) uniqueSlug(ctx context.Context, name, city string) (string, error) {
	base := slug.Make(name)
	if city != "" {
		base = base + "-" + slug.Make(city)
	}
	if len(base) > maxSlugLen {
		base = strings.Trim(base[:maxSlugLen], "-")
	}
	candidate := base
	for i := 2; ; i++ {
		_, err := s.places.GetPlaceBySlug(ctx, candidate)
		if errors.Is(err, domain.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

type addressParts struct {
	city, state, country, postal *string
}

// parseAddress splits a geocoder display_name ("Name, Street, City, State
// PostalCode, Country") into coarse components. Best effort; components the
// split cannot place stay nil.
func parseAddress(addr string) addressParts {
	var out addressParts
	fields := strings.Split(addr, ", ")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	n := len(fields)
	if n == 0 || (n == 1 && fields[0] == "") {
		return out
	}
	out.country = optional(fields[n-1])
	if n >= 2 {
		// Second to last often carries "State 10001" or a bare postal code.
		sp := fields[n-2]
		if ws := strings.LastIndexByte(sp, ' '); ws > 0 && looksPostal(sp[ws+1:]) {
			out.state = optional(sp[:ws])
			out.postal = optional(sp[ws+1:])
		} else if looksPostal(sp) {
			out.postal = optional(sp)
		} else {
			out.state = optional(sp)
		}
	}
	// Display names open with the place name itself; only trust a city
	// component when there are enough fields for name+street to precede it.
	if n >= 4 {
		out.city = optional(fields[n-3])
	}
	return out
}

func looksPostal(s string) bool {
	if len(s) < 3 {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 >= len(s)
}
