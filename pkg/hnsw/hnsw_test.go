package hnsw

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/featherdb/featherdb/pkg/math/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource backs the index with a plain slice of vectors for testing.
type sliceSource struct {
	vecs [][]float32
}

func (s *sliceSource) Vector(slot uint32) []float32 { return s.vecs[slot] }

func (s *sliceSource) add(v []float32) uint32 {
	s.vecs = append(s.vecs, v)
	return uint32(len(s.vecs) - 1)
}

func TestInsertAndSearchBasic(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)

	idx.Insert(src.add([]float32{1, 0, 0}))
	idx.Insert(src.add([]float32{0, 1, 0}))
	idx.Insert(src.add([]float32{0, 0, 1}))

	results := idx.Search([]float32{0.9, 0.1, 0}, 10, 1)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(0), results[0].Slot)
}

func TestEmptyIndexReturnsNoResults(t *testing.T) {
	idx := New(DefaultConfig(), &sliceSource{})
	assert.Empty(t, idx.Search([]float32{1, 0}, 10, 5))
}

func TestInsertIsIdempotent(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)
	slot := src.add([]float32{1, 2})
	idx.Insert(slot)
	idx.Insert(slot)
	assert.Equal(t, 1, idx.Len())
}

func TestSearchReturnsSortedByDistance(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)
	for i := 0; i < 50; i++ {
		idx.Insert(src.add([]float32{float32(i), 0}))
	}

	results := idx.Search([]float32{0, 0}, 50, 10)
	require.Len(t, results, 10)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Dist, results[i-1].Dist)
	}
	assert.Equal(t, uint32(0), results[0].Slot)
}

func TestTieBreakPrefersSmallerSlot(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)
	// Three identical vectors: all at distance zero from the query.
	for i := 0; i < 3; i++ {
		idx.Insert(src.add([]float32{1, 1}))
	}

	results := idx.Search([]float32{1, 1}, 10, 3)
	require.Len(t, results, 3)
	slots := []uint32{results[0].Slot, results[1].Slot, results[2].Slot}
	assert.Equal(t, []uint32{0, 1, 2}, slots)
}

func TestRecallAgainstBruteForce(t *testing.T) {
	// Calibration: >= 0.9 recall@10 over 10k unit vectors of dim 128.
	if testing.Short() {
		t.Skip("skipping recall calibration in -short mode")
	}

	const (
		n   = 10000
		dim = 128
		k   = 10
	)

	rng := rand.New(rand.NewSource(42))
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)

	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vector.NormalizeInPlace(v)
		idx.Insert(src.add(v))
	}

	var hits, total int
	for q := 0; q < 20; q++ {
		query := make([]float32, dim)
		for j := range query {
			query[j] = float32(rng.NormFloat64())
		}
		vector.NormalizeInPlace(query)

		// Brute force ground truth.
		type pair struct {
			slot uint32
			dist float64
		}
		exact := make([]pair, n)
		for s := 0; s < n; s++ {
			exact[s] = pair{uint32(s), vector.SquaredL2(query, src.vecs[s])}
		}
		sort.Slice(exact, func(i, j int) bool {
			if exact[i].dist != exact[j].dist {
				return exact[i].dist < exact[j].dist
			}
			return exact[i].slot < exact[j].slot
		})
		truth := make(map[uint32]bool, k)
		for _, p := range exact[:k] {
			truth[p.slot] = true
		}

		for _, r := range idx.Search(query, 100, k) {
			if truth[r.Slot] {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@10 below calibration floor")
}

func TestUpsertedVectorMovesInSearchGeometry(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)
	a := src.add([]float32{1, 0})
	b := src.add([]float32{0, 1})
	idx.Insert(a)
	idx.Insert(b)

	results := idx.Search([]float32{0, 1}, 10, 1)
	require.Equal(t, uint32(1), results[0].Slot)

	// Move slot 0 onto the query point; the index reads vectors through the
	// source, so the next search sees the new position.
	src.vecs[a] = []float32{0, 1}
	results = idx.Search([]float32{0, 1}, 10, 1)
	assert.Equal(t, uint32(0), results[0].Slot)
}

func TestExportImportState(t *testing.T) {
	src := &sliceSource{}
	idx := New(DefaultConfig(), src)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		v := []float32{float32(rng.NormFloat64()), float32(rng.NormFloat64()), float32(rng.NormFloat64())}
		idx.Insert(src.add(v))
	}

	query := []float32{0.5, -0.25, 1}
	before := idx.Search(query, 64, 10)

	restored := FromState(DefaultConfig(), src, idx.ExportState())
	require.Equal(t, idx.Len(), restored.Len())

	after := restored.Search(query, 64, 10)
	assert.Equal(t, before, after, "restored index must search identically")
}

func TestDegreeCapsRespected(t *testing.T) {
	src := &sliceSource{}
	cfg := DefaultConfig()
	idx := New(cfg, src)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		idx.Insert(src.add([]float32{float32(rng.NormFloat64()), float32(rng.NormFloat64())}))
	}

	for _, n := range idx.nodes {
		if n.level < 0 {
			continue
		}
		for l, nbs := range n.neighbors {
			limit := cfg.M
			if l == 0 {
				limit = cfg.M0
			}
			assert.LessOrEqual(t, len(nbs), limit)
		}
	}
}
