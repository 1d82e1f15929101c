// Package hnsw provides the per-modality approximate nearest neighbor index
// for Feather.
//
// The index is a hierarchical proximity graph (HNSW) over dense slot indices.
// Vectors themselves are owned by the modality's vector store; the index holds
// only graph structure and reads vectors through a VectorSource on every
// distance computation. That keeps a single copy of each vector in memory and
// means an upserted vector is immediately reflected in search geometry.
//
// The index is NOT internally synchronized. Callers hold the modality's
// reader-writer lock: inserts under the writer lock, searches under the
// reader lock. This matches how the vector store and the index are always
// mutated together.
//
// Distance metric is squared Euclidean. For L2-normalized inputs this ranks
// identically to cosine distance.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/featherdb/featherdb/pkg/math/vector"
)

// Config contains construction and search parameters for the index.
type Config struct {
	M               int     // Max connections per node per layer above 0 (default: 16)
	M0              int     // Max connections on the base layer (default: 2*M)
	EfConstruction  int     // Candidate pool size during construction (default: 200)
	EfSearch        int     // Minimum candidate pool size during search (default: 50)
	LevelMultiplier float64 // Level picker multiplier, 1/ln(M)
	Seed            int64   // Level picker RNG seed
}

// DefaultConfig returns sensible defaults for the index.
func DefaultConfig() Config {
	return Config{
		M:               16,
		M0:              32,
		EfConstruction:  200,
		EfSearch:        50,
		LevelMultiplier: 1.0 / math.Log(16.0),
		Seed:            1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.M <= 0 {
		c.M = d.M
	}
	if c.M0 <= 0 {
		c.M0 = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	if c.LevelMultiplier <= 0 {
		c.LevelMultiplier = 1.0 / math.Log(float64(c.M))
	}
	return c
}

// VectorSource resolves a slot index to its vector. The vector store of the
// owning modality implements this.
type VectorSource interface {
	Vector(slot uint32) []float32
}

// Result is one search hit: a slot index and its squared-L2 distance to the
// query.
type Result struct {
	Slot uint32
	Dist float64
}

// node holds the per-slot graph structure. level == -1 marks a slot that has
// not been inserted yet.
type node struct {
	level     int
	neighbors [][]uint32
}

// Index is an HNSW proximity graph over dense slot indices.
type Index struct {
	cfg        Config
	source     VectorSource
	nodes      []node
	entryPoint uint32
	maxLevel   int
	count      int
	rng        *rand.Rand
}

// New creates an empty index reading vectors from source.
func New(cfg Config, source VectorSource) *Index {
	cfg = cfg.withDefaults()
	return &Index{
		cfg:      cfg,
		source:   source,
		maxLevel: -1,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Len returns the number of inserted slots.
func (idx *Index) Len() int {
	return idx.count
}

// Contains reports whether a slot has been inserted.
func (idx *Index) Contains(slot uint32) bool {
	return int(slot) < len(idx.nodes) && idx.nodes[slot].level >= 0
}

// Insert adds a slot to the graph. Inserting a slot that is already present
// is a no-op: vector upserts flow through the VectorSource, so the graph
// needs no rewiring for them.
func (idx *Index) Insert(slot uint32) {
	if idx.Contains(slot) {
		return
	}
	for int(slot) >= len(idx.nodes) {
		idx.nodes = append(idx.nodes, node{level: -1})
	}

	vec := idx.source.Vector(slot)
	level := idx.randomLevel()

	n := &idx.nodes[slot]
	n.level = level
	n.neighbors = make([][]uint32, level+1)
	for l := range n.neighbors {
		n.neighbors[l] = make([]uint32, 0, idx.maxDegree(l))
	}
	idx.count++

	if idx.count == 1 {
		idx.entryPoint = slot
		idx.maxLevel = level
		return
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		ep = idx.greedyClosest(vec, ep, l)
	}

	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayer(vec, ep, idx.cfg.EfConstruction, l)
		chosen := idx.selectNeighbors(vec, candidates, idx.maxDegree(l))

		n.neighbors[l] = make([]uint32, len(chosen))
		for i, c := range chosen {
			n.neighbors[l][i] = c.Slot
		}

		for _, c := range chosen {
			idx.connect(c.Slot, slot, l)
		}

		if len(candidates) > 0 {
			ep = candidates[0].Slot
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = slot
		idx.maxLevel = level
	}
}

// Search returns the k nearest inserted slots to q, using a candidate pool of
// at least max(ef, k, EfSearch). Results are sorted by distance ascending;
// ties break toward the smaller slot index. An empty index returns nil.
func (idx *Index) Search(q []float32, ef, k int) []Result {
	if idx.count == 0 || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k
	}
	if ef < idx.cfg.EfSearch {
		ef = idx.cfg.EfSearch
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.greedyClosest(q, ep, l)
	}

	results := idx.searchLayer(q, ep, ef, 0)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// maxDegree is the out-degree cap for a layer.
func (idx *Index) maxDegree(layer int) int {
	if layer == 0 {
		return idx.cfg.M0
	}
	return idx.cfg.M
}

func (idx *Index) randomLevel() int {
	r := idx.rng.Float64()
	for r == 0 {
		r = idx.rng.Float64()
	}
	return int(-math.Log(r) * idx.cfg.LevelMultiplier)
}

func (idx *Index) dist(q []float32, slot uint32) float64 {
	return vector.SquaredL2(q, idx.source.Vector(slot))
}

// greedyClosest descends one layer: repeatedly move to the closest neighbor
// until no neighbor improves on the current position.
func (idx *Index) greedyClosest(q []float32, entry uint32, layer int) uint32 {
	current := entry
	currentDist := idx.dist(q, current)

	for {
		changed := false
		for _, nb := range idx.layerNeighbors(current, layer) {
			d := idx.dist(q, nb)
			if d < currentDist || (d == currentDist && nb < current) {
				current = nb
				currentDist = d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

func (idx *Index) layerNeighbors(slot uint32, layer int) []uint32 {
	n := &idx.nodes[slot]
	if layer > n.level {
		return nil
	}
	return n.neighbors[layer]
}

// searchLayer runs bounded best-first search on one layer with candidate pool
// size ef. Returns up to ef results sorted by distance ascending, tie toward
// the smaller slot.
func (idx *Index) searchLayer(q []float32, entry uint32, ef, layer int) []Result {
	visited := make(map[uint32]bool, ef*2)
	visited[entry] = true

	entryDist := idx.dist(q, entry)

	candidates := &distHeap{}
	results := &distHeap{max: true}
	heap.Push(candidates, Result{Slot: entry, Dist: entryDist})
	heap.Push(results, Result{Slot: entry, Dist: entryDist})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(Result)

		if results.Len() >= ef && closest.Dist > results.items[0].Dist {
			break
		}

		for _, nb := range idx.layerNeighbors(closest.Slot, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d := idx.dist(q, nb)
			if results.Len() < ef || d < results.items[0].Dist {
				heap.Push(candidates, Result{Slot: nb, Dist: d})
				heap.Push(results, Result{Slot: nb, Dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]Result, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(Result)
	}
	return out
}

// selectNeighbors applies the HNSW diversity heuristic: walk candidates in
// distance order, keeping one only if it is closer to the query than to every
// already-kept neighbor. Remaining capacity is filled from the pruned
// candidates so nodes keep their full degree.
func (idx *Index) selectNeighbors(q []float32, candidates []Result, m int) []Result {
	if len(candidates) <= m {
		return candidates
	}

	kept := make([]Result, 0, m)
	pruned := make([]Result, 0, len(candidates))

	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		cvec := idx.source.Vector(c.Slot)
		diverse := true
		for _, r := range kept {
			if vector.SquaredL2(cvec, idx.source.Vector(r.Slot)) < c.Dist {
				diverse = false
				break
			}
		}
		if diverse {
			kept = append(kept, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	for _, c := range pruned {
		if len(kept) >= m {
			break
		}
		kept = append(kept, c)
	}
	return kept
}

// connect adds a reverse link from an existing node to the newly inserted
// one, re-pruning with the same heuristic when the degree cap is exceeded.
func (idx *Index) connect(from, to uint32, layer int) {
	n := &idx.nodes[from]
	if layer > n.level {
		return
	}
	limit := idx.maxDegree(layer)
	if len(n.neighbors[layer]) < limit {
		n.neighbors[layer] = append(n.neighbors[layer], to)
		return
	}

	fvec := idx.source.Vector(from)
	all := make([]Result, 0, len(n.neighbors[layer])+1)
	for _, nb := range n.neighbors[layer] {
		all = append(all, Result{Slot: nb, Dist: idx.dist(fvec, nb)})
	}
	all = append(all, Result{Slot: to, Dist: idx.dist(fvec, to)})
	sortResults(all)

	chosen := idx.selectNeighbors(fvec, all, limit)
	n.neighbors[layer] = n.neighbors[layer][:0]
	for _, c := range chosen {
		n.neighbors[layer] = append(n.neighbors[layer], c.Slot)
	}
}

func sortResults(rs []Result) {
	// Insertion sort: the slices here are at most one past the degree cap.
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && less(rs[j], rs[j-1]); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func less(a, b Result) bool {
	if a.Dist != b.Dist {
		return a.Dist < b.Dist
	}
	return a.Slot < b.Slot
}

// distHeap is a min-heap (or max-heap when max is set) over Results,
// tie-breaking toward the smaller slot on the min side so search ordering is
// deterministic.
type distHeap struct {
	items []Result
	max   bool
}

func (h *distHeap) Len() int { return len(h.items) }

func (h *distHeap) Less(i, j int) bool {
	if h.max {
		if h.items[i].Dist != h.items[j].Dist {
			return h.items[i].Dist > h.items[j].Dist
		}
		return h.items[i].Slot > h.items[j].Slot
	}
	return less(h.items[i], h.items[j])
}

func (h *distHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *distHeap) Push(x interface{}) {
	h.items = append(h.items, x.(Result))
}

func (h *distHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
