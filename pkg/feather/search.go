package feather

import (
	"fmt"
	"sort"

	"github.com/featherdb/featherdb/pkg/cache"
	"github.com/featherdb/featherdb/pkg/filter"
	"github.com/featherdb/featherdb/pkg/math/vector"
	"github.com/featherdb/featherdb/pkg/scoring"
	"github.com/featherdb/featherdb/pkg/store"
)

// SearchOptions refines a search. The zero value (or nil) searches the
// "text" modality with no filter and pure-similarity scoring.
type SearchOptions struct {
	// Modality to search. "" means "text".
	Modality string

	// Filter restricts results to records whose metadata matches every set
	// predicate. Applied after ANN retrieval but before top-k truncation.
	Filter *filter.Filter

	// Scoring re-ranks candidates with the living-context model. Nil (or a
	// zero Weight) returns raw similarity and is bit-identical to unscored
	// search.
	Scoring *scoring.Config
}

// SearchHit is one search result. Metadata is the record's state after the
// recall was counted.
type SearchHit struct {
	ID       uint64         `json:"id"`
	Score    float64        `json:"score"`
	Metadata store.Metadata `json:"metadata"`
}

// filterPoolFloor is the minimum candidate pool used when a filter or scorer
// widens retrieval beyond k.
const filterPoolFloor = 50

// Search returns the top k records of a modality by similarity to q,
// optionally filtered and re-ranked. Every returned record is touched: its
// recall counter increments and its last-recalled timestamp advances.
//
// An empty or missing modality yields an empty result, never an error.
// k <= 0 fails with ErrInvalidArgument; a query of the wrong length fails
// with ErrDimensionMismatch.
func (db *DB) Search(q []float32, k int, opts *SearchOptions) ([]SearchHit, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	name, err := normalizeModality(opts.Modality)
	if err != nil {
		return nil, err
	}

	mod := db.getModality(name)
	if mod == nil {
		return []SearchHit{}, nil
	}
	if len(q) != mod.vectors.Dim() {
		return nil, fmt.Errorf("%w: query length %d, modality %q dim is %d",
			ErrDimensionMismatch, len(q), name, mod.vectors.Dim())
	}

	// Time-weighted scores drift with the clock, so only pure-similarity
	// searches are cacheable.
	cacheable := db.results != nil && (opts.Scoring == nil || opts.Scoring.Weight == 0)
	var key string
	if cacheable {
		key = cache.Key(db.results.Epoch(), name, k, q, opts.Filter)
		if hits, ok := db.results.Get(key); ok {
			return db.materialize(hits)
		}
	}

	ranked := db.retrieve(mod, q, k, opts)

	if cacheable {
		cached := make([]cache.Hit, len(ranked))
		for i, c := range ranked {
			cached[i] = cache.Hit{ID: c.id, Score: c.score}
		}
		db.results.Put(key, cached)
	}

	hits := make([]SearchHit, 0, len(ranked))
	for _, c := range ranked {
		_ = db.meta.Touch(c.id)
		meta, err := db.meta.Get(c.id)
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{ID: c.id, Score: c.score, Metadata: meta})
	}
	return hits, nil
}

type rankedCandidate struct {
	id    uint64
	slot  uint32
	dist  float64
	score float64
}

// retrieve runs ANN retrieval with pool growth: filtered and time-weighted
// searches start from a pool of max(k*4, 50) and double it until either k
// candidates survive the filter or the index is exhausted.
//
// A zero-weight scorer must NOT widen the pool: ef changes what an
// approximate search explores, and the weight-0 ordering is required to be
// bit-identical to the unscored one.
func (db *DB) retrieve(mod *modality, q []float32, k int, opts *SearchOptions) []rankedCandidate {
	pool := k
	if !opts.Filter.IsEmpty() || (opts.Scoring != nil && opts.Scoring.Weight != 0) {
		pool = k * 4
		if pool < filterPoolFloor {
			pool = filterPoolFloor
		}
	}

	now := db.now()
	var survivors []rankedCandidate

	for {
		mod.mu.RLock()
		total := mod.index.Len()
		raw := mod.index.Search(q, pool, pool)
		ids := make([]uint64, len(raw))
		for i, r := range raw {
			ids[i] = mod.vectors.ID(r.Slot)
		}
		mod.mu.RUnlock()

		survivors = survivors[:0]
		for i, r := range raw {
			meta, err := db.meta.Get(ids[i])
			if err != nil {
				continue
			}
			if !opts.Filter.Matches(&meta) {
				continue
			}
			sim := vector.Similarity(r.Dist)
			score := sim
			if opts.Scoring != nil {
				score = scoring.Score(sim, meta, *opts.Scoring, now)
			}
			survivors = append(survivors, rankedCandidate{id: ids[i], slot: r.Slot, dist: r.Dist, score: score})
		}

		if len(survivors) >= k || len(raw) >= total || pool >= 2*total {
			break
		}
		pool *= 2
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].score != survivors[j].score {
			return survivors[i].score > survivors[j].score
		}
		if survivors[i].dist != survivors[j].dist {
			return survivors[i].dist < survivors[j].dist
		}
		return survivors[i].slot < survivors[j].slot
	})

	if len(survivors) > k {
		survivors = survivors[:k]
	}
	return survivors
}

// materialize turns cached (id, score) pairs back into hits, touching each
// record and reading its fresh metadata.
func (db *DB) materialize(cached []cache.Hit) ([]SearchHit, error) {
	hits := make([]SearchHit, 0, len(cached))
	for _, c := range cached {
		_ = db.meta.Touch(c.ID)
		meta, err := db.meta.Get(c.ID)
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{ID: c.ID, Score: c.Score, Metadata: meta})
	}
	return hits, nil
}
