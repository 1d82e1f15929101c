// Package cache provides the search-result cache for Feather.
//
// The cache keeps ranked (id, score) pairs keyed by the full identity of a
// search: modality, k, query vector, filter — plus a global epoch that every
// mutation bumps. A stale entry can therefore never be served: its key died
// with the epoch. Metadata is deliberately not cached; the engine re-reads
// it (and counts the recall) on every hit, so cached and uncached searches
// return identical results.
//
// Only pure-similarity searches are cached. Time-weighted scores drift with
// the clock, and the epoch scheme cannot see the clock move.
package cache

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/featherdb/featherdb/pkg/filter"
)

// Hit is one cached ranking entry.
type Hit struct {
	ID    uint64
	Score float64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Epoch  uint64 `json:"epoch"`
}

// ResultCache is a ristretto-backed cache of ranked search results.
type ResultCache struct {
	rc     *ristretto.Cache[string, []Hit]
	epoch  atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResultCache creates a cache bounded to roughly maxCost cached result
// entries.
func NewResultCache(maxCost int64) (*ResultCache, error) {
	if maxCost <= 0 {
		maxCost = 10_000
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []Hit]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ResultCache{rc: rc}, nil
}

// Epoch returns the current invalidation epoch. Keys embed it.
func (c *ResultCache) Epoch() uint64 {
	return c.epoch.Load()
}

// Invalidate advances the epoch, orphaning every existing entry. Ristretto
// evicts the orphans under its normal cost pressure.
func (c *ResultCache) Invalidate() {
	c.epoch.Add(1)
}

// Get returns the cached ranking for key.
func (c *ResultCache) Get(key string) ([]Hit, bool) {
	hits, ok := c.rc.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return hits, ok
}

// Put stores a ranking. Admission is best-effort; a rejected entry just
// means the next identical search recomputes.
func (c *ResultCache) Put(key string, hits []Hit) {
	c.rc.Set(key, hits, int64(len(hits))+1)
}

// Stats returns hit/miss counters and the current epoch.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Epoch:  c.epoch.Load(),
	}
}

// Close releases the underlying cache.
func (c *ResultCache) Close() {
	c.rc.Close()
}

// Key derives the cache key for a search from everything that determines its
// ranking.
func Key(epoch uint64, modality string, k int, q []float32, f *filter.Filter) string {
	h := fnv.New64a()

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], epoch)
	h.Write(b[:])
	h.Write([]byte(modality))
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	h.Write(b[:])
	for _, x := range q {
		binary.LittleEndian.PutUint32(b[:4], math.Float32bits(x))
		h.Write(b[:4])
	}
	writeFilter(h, f)

	return strconv.FormatUint(h.Sum64(), 16)
}

func writeFilter(h interface{ Write([]byte) (int, error) }, f *filter.Filter) {
	if f.IsEmpty() {
		return
	}
	writeOptStr := func(tag byte, s *string) {
		if s != nil {
			h.Write([]byte{tag})
			h.Write([]byte(*s))
		}
	}
	writeOptStr(1, f.NamespaceID)
	writeOptStr(2, f.EntityID)
	writeOptStr(3, f.Source)
	writeOptStr(4, f.SourcePrefix)
	if f.ImportanceGTE != nil {
		var b [5]byte
		b[0] = 5
		binary.LittleEndian.PutUint32(b[1:], math.Float32bits(*f.ImportanceGTE))
		h.Write(b[:])
	}
	attrKeys := make([]string, 0, len(f.AttributesMatch))
	for k := range f.AttributesMatch {
		attrKeys = append(attrKeys, k)
	}
	sort.Strings(attrKeys)
	for _, k := range attrKeys {
		h.Write([]byte{6})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(f.AttributesMatch[k]))
	}
	writeOptI64 := func(tag byte, v *int64) {
		if v != nil {
			var b [9]byte
			b[0] = tag
			binary.LittleEndian.PutUint64(b[1:], uint64(*v))
			h.Write(b[:])
		}
	}
	writeOptI64(7, f.TimestampAfter)
	writeOptI64(8, f.TimestampBefore)
	for _, t := range f.TagsContains {
		h.Write([]byte{9})
		h.Write([]byte(t))
	}
	for _, t := range f.Types {
		h.Write([]byte{10, byte(t)})
	}
}
