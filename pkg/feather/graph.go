package feather

import (
	"fmt"
	"math"
	"sort"

	"github.com/featherdb/featherdb/pkg/math/vector"
	"github.com/featherdb/featherdb/pkg/store"
)

// Link upserts a typed, weighted edge from src to tgt and refreshes src's
// links cache. An empty relType means "related_to". Duplicate
// (src, tgt, rel) triples keep one edge with the latest weight. Self-loops
// are allowed; "multimodal_of" uses them to tie a record's modalities
// together. The source record must exist.
func (db *DB) Link(src, tgt uint64, relType string, weight float32) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if relType == "" {
		relType = store.RelRelatedTo
	}
	if !db.meta.Has(src) {
		return fmt.Errorf("%w: source record %d", ErrNotFound, src)
	}

	db.graph.Link(src, tgt, relType, weight)
	db.meta.SetLinks(src, db.graph.Targets(src))
	db.invalidate()
	return nil
}

// GetEdges returns the outgoing edges of id. Unknown IDs yield an empty
// list.
func (db *DB) GetEdges(id uint64) []store.Edge {
	return db.graph.Edges(id)
}

// GetIncoming returns the reverse-index entries of id: who points at it.
func (db *DB) GetIncoming(id uint64) []store.IncomingEdge {
	return db.graph.Incoming(id)
}

// AutoLink batch-creates edges driven by vector similarity: for every record
// with a vector in the modality, its nearest candidates at similarity >=
// threshold get an edge record → neighbor with the similarity as weight.
// Self-edges are never created and existing (src, tgt, rel) triples are not
// duplicated (their weight is overwritten with the similarity and they do not
// count as created), so iteration order cannot change the final state.
// Returns the number of edges created.
//
// The similarity compared against threshold is the engine's canonical
// 1/(1+d) mapping; thresholds are only meaningful when callers insert
// L2-normalized vectors. candidates <= 0 means 15.
func (db *DB) AutoLink(modalityName string, threshold float64, relType string, candidates int) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	if threshold < -1 || threshold > 1 {
		return 0, fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidArgument, threshold)
	}
	if relType == "" {
		relType = store.RelRelatedTo
	}
	if candidates <= 0 {
		candidates = 15
	}
	name, err := normalizeModality(modalityName)
	if err != nil {
		return 0, err
	}
	mod := db.getModality(name)
	if mod == nil {
		return 0, nil
	}

	mod.mu.RLock()
	ids := mod.vectors.IDs()
	mod.mu.RUnlock()

	created := 0
	for slot, from := range ids {
		mod.mu.RLock()
		q := append([]float32(nil), mod.vectors.Vector(uint32(slot))...)
		raw := mod.index.Search(q, candidates+1, candidates+1)
		neighbors := make([]struct {
			id  uint64
			sim float64
		}, 0, len(raw))
		for _, r := range raw {
			neighbors = append(neighbors, struct {
				id  uint64
				sim float64
			}{mod.vectors.ID(r.Slot), vector.Similarity(r.Dist)})
		}
		mod.mu.RUnlock()

		linked := false
		for _, nb := range neighbors {
			if nb.id == from || nb.sim < threshold {
				continue
			}
			if db.graph.Link(from, nb.id, relType, float32(nb.sim)) {
				created++
				linked = true
			}
		}
		if linked {
			db.meta.SetLinks(from, db.graph.Targets(from))
		}
	}

	if created > 0 {
		db.invalidate()
	}
	return created, nil
}

// ContextNode is one node of a context chain: a search seed (hop 0) or a
// record reached through the graph.
type ContextNode struct {
	ID         uint64         `json:"id"`
	Score      float64        `json:"score"`
	Similarity float64        `json:"similarity"` // 0 when reached via graph expansion
	Hop        int            `json:"hop"`
	Metadata   store.Metadata `json:"metadata"`
}

// ContextEdge is one traversed edge of a context chain.
type ContextEdge struct {
	Source  uint64  `json:"source"`
	Target  uint64  `json:"target"`
	RelType string  `json:"rel_type"`
	Weight  float32 `json:"weight"`
}

// ContextChainResult is a scored subgraph: nodes sorted by score descending,
// plus every traversed edge deduplicated.
type ContextChainResult struct {
	Nodes []ContextNode `json:"nodes"`
	Edges []ContextEdge `json:"edges"`
}

// HopDecay returns the per-hop attenuation 0.5^hop applied to scores during
// context-chain expansion.
func HopDecay(hop int) float64 {
	return math.Pow(0.5, float64(hop))
}

// ContextChain seeds a breadth-first graph expansion with a vector search:
// the top k hits become hop-0 nodes, then outgoing edges are followed up to
// hops levels. A discovered node's score is
// parent.score × edge.weight × 0.5^hop; a node reachable over several paths
// keeps its best score and its first (smallest) hop.
func (db *DB) ContextChain(q []float32, k, hops int, modalityName string) (*ContextChainResult, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if hops < 0 {
		return nil, fmt.Errorf("%w: hops must be non-negative, got %d", ErrInvalidArgument, hops)
	}

	seeds, err := db.Search(q, k, &SearchOptions{Modality: modalityName})
	if err != nil {
		return nil, err
	}

	type visit struct {
		score float64
		sim   float64
		hop   int
	}
	visited := make(map[uint64]*visit, len(seeds))
	frontier := make([]uint64, 0, len(seeds))
	for _, s := range seeds {
		visited[s.ID] = &visit{score: s.Score, sim: s.Score, hop: 0}
		frontier = append(frontier, s.ID)
	}

	edgeSeen := make(map[string]bool)
	var edges []ContextEdge

	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		decay := HopDecay(hop)
		var next []uint64
		for _, cur := range frontier {
			parent := visited[cur]
			for _, e := range db.graph.Edges(cur) {
				ek := fmt.Sprintf("%d→%d:%s", cur, e.Target, e.RelType)
				if !edgeSeen[ek] {
					edgeSeen[ek] = true
					edges = append(edges, ContextEdge{Source: cur, Target: e.Target, RelType: e.RelType, Weight: e.Weight})
				}

				score := parent.score * float64(e.Weight) * decay
				if v, ok := visited[e.Target]; ok {
					if score > v.score {
						v.score = score
					}
					continue
				}
				visited[e.Target] = &visit{score: score, hop: hop}
				next = append(next, e.Target)
			}
		}
		frontier = next
	}

	result := &ContextChainResult{Edges: edges}
	for id, v := range visited {
		meta, err := db.meta.Get(id)
		if err != nil {
			meta = store.Metadata{}
		}
		result.Nodes = append(result.Nodes, ContextNode{
			ID:         id,
			Score:      v.score,
			Similarity: v.sim,
			Hop:        v.hop,
			Metadata:   meta,
		})
	}
	sort.Slice(result.Nodes, func(i, j int) bool {
		if result.Nodes[i].Score != result.Nodes[j].Score {
			return result.Nodes[i].Score > result.Nodes[j].Score
		}
		return result.Nodes[i].ID < result.Nodes[j].ID
	})
	return result, nil
}
