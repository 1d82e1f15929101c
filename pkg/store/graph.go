package store

import "sync"

// GraphStore owns the typed, weighted context graph: an outgoing adjacency
// map and its reverse index. The two are mutated together under one lock, so
// edge (a,b,r,w) exists in out[a] exactly when IncomingEdge (a,r,w) exists in
// in[b].
//
// Multi-edges with different rel types between the same pair are allowed;
// duplicate (src, tgt, rel) triples are deduplicated with last-write-wins on
// weight. Self-loops are allowed (multimodal_of uses them).
type GraphStore struct {
	mu  sync.RWMutex
	out map[uint64][]Edge
	in  map[uint64][]IncomingEdge
}

// NewGraphStore creates an empty graph.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		out: make(map[uint64][]Edge),
		in:  make(map[uint64][]IncomingEdge),
	}
}

// Link upserts edge (src, tgt, rel, weight). Returns true when a new edge was
// created, false when an existing (src, tgt, rel) triple had its weight
// updated.
func (gs *GraphStore) Link(src, tgt uint64, relType string, weight float32) bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for i, e := range gs.out[src] {
		if e.Target == tgt && e.RelType == relType {
			gs.out[src][i].Weight = weight
			for j, ie := range gs.in[tgt] {
				if ie.Source == src && ie.RelType == relType {
					gs.in[tgt][j].Weight = weight
					break
				}
			}
			return false
		}
	}

	gs.out[src] = append(gs.out[src], Edge{Target: tgt, RelType: relType, Weight: weight})
	gs.in[tgt] = append(gs.in[tgt], IncomingEdge{Source: src, RelType: relType, Weight: weight})
	return true
}

// Edges returns a copy of the outgoing edges of id. Unknown IDs yield nil.
func (gs *GraphStore) Edges(id uint64) []Edge {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return append([]Edge(nil), gs.out[id]...)
}

// Incoming returns a copy of the reverse-index entries of id.
func (gs *GraphStore) Incoming(id uint64) []IncomingEdge {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return append([]IncomingEdge(nil), gs.in[id]...)
}

// Targets returns the distinct outgoing edge targets of id, in first-seen
// order. This is the source of truth behind the metadata links cache.
func (gs *GraphStore) Targets(id uint64) []uint64 {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	seen := make(map[uint64]bool, len(gs.out[id]))
	var targets []uint64
	for _, e := range gs.out[id] {
		if !seen[e.Target] {
			seen[e.Target] = true
			targets = append(targets, e.Target)
		}
	}
	return targets
}

// Sources returns the IDs that have at least one outgoing edge.
func (gs *GraphStore) Sources() []uint64 {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	ids := make([]uint64, 0, len(gs.out))
	for id := range gs.out {
		ids = append(ids, id)
	}
	return ids
}

// EdgeCount returns the total number of edges.
func (gs *GraphStore) EdgeCount() int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	n := 0
	for _, edges := range gs.out {
		n += len(edges)
	}
	return n
}

// RemoveRecord deletes every edge touching id, both directions. Used by the
// archive sweep when a record leaves the hot set.
func (gs *GraphStore) RemoveRecord(id uint64) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for _, e := range gs.out[id] {
		gs.in[e.Target] = removeIncoming(gs.in[e.Target], id)
		if len(gs.in[e.Target]) == 0 {
			delete(gs.in, e.Target)
		}
	}
	delete(gs.out, id)

	for _, ie := range gs.in[id] {
		gs.out[ie.Source] = removeOutgoing(gs.out[ie.Source], id)
		if len(gs.out[ie.Source]) == 0 {
			delete(gs.out, ie.Source)
		}
	}
	delete(gs.in, id)
}

func removeIncoming(list []IncomingEdge, source uint64) []IncomingEdge {
	kept := list[:0]
	for _, ie := range list {
		if ie.Source != source {
			kept = append(kept, ie)
		}
	}
	return kept
}

func removeOutgoing(list []Edge, target uint64) []Edge {
	kept := list[:0]
	for _, e := range list {
		if e.Target != target {
			kept = append(kept, e)
		}
	}
	return kept
}

// RestoreOutgoing installs the outgoing adjacency of one source verbatim and
// mirrors it into the reverse index. Snapshot load and archive restore use
// this; it assumes id has no existing edges.
func (gs *GraphStore) RestoreOutgoing(id uint64, edges []Edge) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if len(edges) == 0 {
		return
	}
	gs.out[id] = append([]Edge(nil), edges...)
	for _, e := range edges {
		gs.in[e.Target] = append(gs.in[e.Target], IncomingEdge{Source: id, RelType: e.RelType, Weight: e.Weight})
	}
}

// RebuildReverse reconstructs the whole reverse index from the outgoing
// adjacency, replacing its previous contents. Snapshot load does not call it:
// RestoreOutgoing already mirrors each source's edges into the reverse index.
func (gs *GraphStore) RebuildReverse() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.in = make(map[uint64][]IncomingEdge, len(gs.out))
	for src, edges := range gs.out {
		for _, e := range edges {
			gs.in[e.Target] = append(gs.in[e.Target], IncomingEdge{Source: src, RelType: e.RelType, Weight: e.Weight})
		}
	}
}

// Range calls fn with every source and a copy of its outgoing edges until fn
// returns false.
func (gs *GraphStore) Range(fn func(src uint64, edges []Edge) bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	for src, edges := range gs.out {
		if !fn(src, append([]Edge(nil), edges...)) {
			return
		}
	}
}
