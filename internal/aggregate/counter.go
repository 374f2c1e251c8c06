// Package aggregate keeps per-place review counts consistent with the
// source store without scanning sources on every query. Counters live in a
// striped in-memory table: updates for one place serialize on its stripe,
// updates for different places proceed independently, and the query path
// never takes a global lock.
package aggregate

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jfinnert/bite-map/internal/adapters/observability"
	"github.com/jfinnert/bite-map/internal/domain"
)

const shardCount = 64

// Recounter is the full-scan fallback, satisfied by the source repository.
type Recounter interface {
	CountSourcesByStatus(ctx context.Context, placeID int64, statuses []domain.SourceStatus) (int64, error)
}

// DefaultCountable: only verified-live sources count as reviews. Pending
// sources are videos not yet validated; counting them would surface
// phantom reviews.
var DefaultCountable = []domain.SourceStatus{domain.StatusActive}

type shard struct {
	mu     sync.Mutex
	counts map[int64]int64
}

type Aggregator struct {
	recount   Recounter
	countable map[domain.SourceStatus]bool
	statuses  []domain.SourceStatus
	shards    [shardCount]shard
	sf        singleflight.Group
}

func New(r Recounter, countable ...domain.SourceStatus) *Aggregator {
	if len(countable) == 0 {
		countable = DefaultCountable
	}
	a := &Aggregator{recount: r, countable: map[domain.SourceStatus]bool{}, statuses: countable}
	for _, s := range countable {
		a.countable[s] = true
	}
	for i := range a.shards {
		a.shards[i].counts = map[int64]int64{}
	}
	return a
}

func (a *Aggregator) shardFor(placeID int64) *shard {
	return &a.shards[uint64(placeID)%shardCount]
}

// delta maps a source change onto the counter: +1 entering the countable
// set, -1 leaving it, 0 otherwise.
func (a *Aggregator) delta(ch domain.SourceChange) int64 {
	var d int64
	if a.countable[ch.From] {
		d--
	}
	if a.countable[ch.To] {
		d++
	}
	return d
}

// Apply folds one change notification into the counter table. Unloaded
// counters are left absent: the next CountFor recomputes them from the
// store, so a missed or early notification cannot introduce drift. An
// update that would drive a counter negative means the incremental path
// lost track; the entry is dropped and the next read does a full recount.
func (a *Aggregator) Apply(ch domain.SourceChange) {
	d := a.delta(ch)
	if d == 0 {
		return
	}
	sh := a.shardFor(ch.PlaceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.counts[ch.PlaceID]
	if !ok {
		return
	}
	next := cur + d
	if next < 0 {
		delete(sh.counts, ch.PlaceID)
		observability.ObserveAggregate("clamp")
		log.Warn().Int64("place_id", ch.PlaceID).Int64("count", cur).Int64("delta", d).
			Msg("review counter would go negative; forcing recount")
		return
	}
	sh.counts[ch.PlaceID] = next
	if d > 0 {
		observability.ObserveAggregate("increment")
	} else {
		observability.ObserveAggregate("decrement")
	}
}

// CountFor returns the review count for a place, recomputing it from the
// source store on first access. Concurrent first reads of the same place
// collapse into one scan; reads of other places are unaffected.
func (a *Aggregator) CountFor(ctx context.Context, placeID int64) (int64, error) {
	sh := a.shardFor(placeID)
	sh.mu.Lock()
	if n, ok := sh.counts[placeID]; ok {
		sh.mu.Unlock()
		return n, nil
	}
	sh.mu.Unlock()
	return a.rebuild(ctx, placeID)
}

// Rebuild forces a full recount for one place, replacing whatever the
// incremental path holds. Used after bulk ingestion or store recovery.
func (a *Aggregator) Rebuild(ctx context.Context, placeID int64) error {
	_, err := a.rebuild(ctx, placeID)
	return err
}

func (a *Aggregator) rebuild(ctx context.Context, placeID int64) (int64, error) {
	v, err, _ := a.sf.Do(strconv.FormatInt(placeID, 10), func() (any, error) {
		// Scan off-lock; readers keep seeing the old value (or recompute
		// in this same flight) until the swap below.
		n, err := a.recount.CountSourcesByStatus(ctx, placeID, a.statuses)
		if err != nil {
			return int64(0), err
		}
		sh := a.shardFor(placeID)
		sh.mu.Lock()
		sh.counts[placeID] = n
		sh.mu.Unlock()
		observability.ObserveAggregate("rebuild")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Forget drops a place's counter, e.g. after the place itself is deleted.
func (a *Aggregator) Forget(placeID int64) {
	sh := a.shardFor(placeID)
	sh.mu.Lock()
	delete(sh.counts, placeID)
	sh.mu.Unlock()
}
