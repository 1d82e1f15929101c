package hnsw

// NodeState is the serializable graph structure of one slot.
type NodeState struct {
	Level     int
	Neighbors [][]uint32 // adjacency per layer, 0..Level
}

// State is a serializable snapshot of the index graph. Vectors are not part
// of the state; on import the index reattaches to its VectorSource.
type State struct {
	EntryPoint uint32
	MaxLevel   int
	Nodes      []NodeState // slot-indexed; Level == -1 marks an absent slot
}

// ExportState captures the current graph for persistence. The caller holds
// the modality writer lock (or otherwise guarantees no concurrent insert).
func (idx *Index) ExportState() *State {
	st := &State{
		EntryPoint: idx.entryPoint,
		MaxLevel:   idx.maxLevel,
		Nodes:      make([]NodeState, len(idx.nodes)),
	}
	for i, n := range idx.nodes {
		ns := NodeState{Level: n.level}
		if n.level >= 0 {
			ns.Neighbors = make([][]uint32, len(n.neighbors))
			for l, nbs := range n.neighbors {
				ns.Neighbors[l] = append([]uint32(nil), nbs...)
			}
		}
		st.Nodes[i] = ns
	}
	return st
}

// FromState reconstructs an index from a persisted graph snapshot.
func FromState(cfg Config, source VectorSource, st *State) *Index {
	idx := New(cfg, source)
	idx.entryPoint = st.EntryPoint
	idx.maxLevel = st.MaxLevel
	idx.nodes = make([]node, len(st.Nodes))
	for i, ns := range st.Nodes {
		n := node{level: ns.Level}
		if ns.Level >= 0 {
			n.neighbors = make([][]uint32, len(ns.Neighbors))
			for l, nbs := range ns.Neighbors {
				n.neighbors[l] = append([]uint32(nil), nbs...)
			}
			idx.count++
		}
		idx.nodes[i] = n
	}
	return idx
}
