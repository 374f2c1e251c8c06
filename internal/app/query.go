package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jfinnert/bite-map/internal/domain"
)

const (
	DefaultLimit = 25
	MaxLimit     = 200
)

// QueryService is the spatial query engine: it resolves a bounding box
// and/or free-text term into a deterministic, paginated set of places with
// derived review counts.
type QueryService struct {
	places   domain.PlaceRepository
	sources  domain.SourceRepository
	counts   domain.Counter
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(p domain.PlaceRepository, s domain.SourceRepository, c domain.Counter, cache domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{places: p, sources: s, counts: c, cache: cache, cacheTTL: ttl}
}

// textMatches: case-insensitive substring match on name and address.
func textMatches(p domain.Place, term string) bool {
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), term) {
		return true
	}
	return p.Address != nil && strings.Contains(strings.ToLower(*p.Address), term)
}

// ListPlaces answers bbox and/or text queries. Both filters absent is a
// valid request: the whole corpus, paginated. Results are ordered by id
// ascending before pagination, so fixed filters with shifting offsets walk
// the set without skips or duplicates (concurrent inserts may still shift
// pages; that is the documented relaxed guarantee).
func (s *QueryService) ListPlaces(ctx context.Context, q domain.PlacesQuery) (domain.PlacesPage, error) {
	box := domain.WorldBBox()
	if q.BBox != nil {
		if err := q.BBox.Validate(); err != nil {
			return domain.PlacesPage{}, err
		}
		box = *q.BBox
	}
	if q.Offset < 0 {
		return domain.PlacesPage{}, domain.Invalidf("offset must be >= 0, got %d", q.Offset)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	scanned, err := s.places.ScanBBox(ctx, box)
	if err != nil {
		return domain.PlacesPage{}, err
	}

	term := strings.ToLower(strings.TrimSpace(q.Q))
	matched := scanned[:0]
	for _, p := range scanned {
		if textMatches(p, term) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	page := domain.PlacesPage{
		Total:  total,
		Limit:  limit,
		Offset: q.Offset,
		Page:   q.Offset/limit + 1,
		Pages:  (total + limit - 1) / limit,
	}

	lo := q.Offset
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}
	for _, p := range matched[lo:hi] {
		n, err := s.counts.CountFor(ctx, p.ID)
		if err != nil {
			// No silent partial results: a failed count fails the query.
			return domain.PlacesPage{}, fmt.Errorf("count for place %d: %w", p.ID, err)
		}
		page.Items = append(page.Items, domain.PlaceHit{Place: p, ReviewCount: n})
	}
	return page, nil
}

func detailCacheKey(id int64) string { return fmt.Sprintf("place:%d:detail", id) }

// GetPlaceDetail joins one place with its full ordered source list. A
// place with zero sources answers with an empty list, not an error.
func (s *QueryService) GetPlaceDetail(ctx context.Context, id int64) (domain.PlaceDetail, error) {
	key := detailCacheKey(id)
	var out domain.PlaceDetail
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}

	p, err := s.places.GetPlace(ctx, id)
	if err != nil {
		return domain.PlaceDetail{}, err
	}
	srcs, err := s.sources.ListSourcesByPlace(ctx, id)
	if err != nil {
		return domain.PlaceDetail{}, err
	}
	n, err := s.counts.CountFor(ctx, id)
	if err != nil {
		return domain.PlaceDetail{}, err
	}

	out = domain.PlaceDetail{Place: p, ReviewCount: n, Sources: srcs}

	// copy before caching to avoid aliasing the repo's backing array
	cached := out
	if len(srcs) > 0 {
		cached.Sources = make([]domain.Source, len(srcs))
		copy(cached.Sources, srcs)
	}
	_ = s.cache.Set(ctx, key, cached, int(s.cacheTTL.Seconds()))
	return out, nil
}
