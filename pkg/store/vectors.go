package store

import "fmt"

// VectorStore owns one modality's vectors in a single contiguous float32
// buffer, keyed by dense slot index. An id → slot map translates external
// IDs. Rows are constant size, so slot lookup is O(1) and the buffer is
// SIMD-friendly.
//
// The store is externally synchronized: the engine holds the modality's
// writer lock across Upsert together with the matching ANN insert, and the
// reader lock across searches.
type VectorStore struct {
	dim      int
	data     []float32
	slotToID []uint64
	idToSlot map[uint64]uint32
}

// NewVectorStore creates an empty store with the modality's fixed dimension.
func NewVectorStore(dim int) *VectorStore {
	return &VectorStore{
		dim:      dim,
		idToSlot: make(map[uint64]uint32),
	}
}

// Dim returns the fixed row width.
func (vs *VectorStore) Dim() int { return vs.dim }

// Len returns the number of live slots.
func (vs *VectorStore) Len() int { return len(vs.slotToID) }

// Upsert stores vec for id, appending a new slot on first insert and
// overwriting the row in place afterwards. Returns the slot and whether it
// was newly created. Fails with ErrDimensionMismatch when len(vec) ≠ dim.
func (vs *VectorStore) Upsert(id uint64, vec []float32) (slot uint32, created bool, err error) {
	if len(vec) != vs.dim {
		return 0, false, fmt.Errorf("%w: got %d, modality dim is %d", ErrDimensionMismatch, len(vec), vs.dim)
	}

	if s, ok := vs.idToSlot[id]; ok {
		copy(vs.data[int(s)*vs.dim:], vec)
		return s, false, nil
	}

	slot = uint32(len(vs.slotToID))
	vs.data = append(vs.data, vec...)
	vs.slotToID = append(vs.slotToID, id)
	vs.idToSlot[id] = slot
	return slot, true, nil
}

// Vector returns the row for a slot as a subslice of the shared buffer.
// Callers must not mutate or retain it past the modality lock. Implements
// hnsw.VectorSource.
func (vs *VectorStore) Vector(slot uint32) []float32 {
	off := int(slot) * vs.dim
	return vs.data[off : off+vs.dim : off+vs.dim]
}

// VectorByID returns a copy of the row for an external ID.
func (vs *VectorStore) VectorByID(id uint64) ([]float32, bool) {
	s, ok := vs.idToSlot[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vs.Vector(s)...), true
}

// Slot translates an external ID to its slot.
func (vs *VectorStore) Slot(id uint64) (uint32, bool) {
	s, ok := vs.idToSlot[id]
	return s, ok
}

// ID translates a slot back to its external ID.
func (vs *VectorStore) ID(slot uint32) uint64 {
	return vs.slotToID[slot]
}

// IDs returns the external IDs in slot order.
func (vs *VectorStore) IDs() []uint64 {
	return append([]uint64(nil), vs.slotToID...)
}

// RestoreVectorStore rebuilds a store from snapshot state: ids in slot order
// and the contiguous row data.
func RestoreVectorStore(dim int, ids []uint64, data []float32) *VectorStore {
	vs := &VectorStore{
		dim:      dim,
		data:     append([]float32(nil), data...),
		slotToID: append([]uint64(nil), ids...),
		idToSlot: make(map[uint64]uint32, len(ids)),
	}
	for slot, id := range ids {
		vs.idToSlot[id] = uint32(slot)
	}
	return vs
}
