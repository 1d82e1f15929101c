package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStoreUpsert(t *testing.T) {
	vs := NewVectorStore(3)

	t.Run("first insert creates a slot", func(t *testing.T) {
		slot, created, err := vs.Upsert(1, []float32{1, 0, 0})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, uint32(0), slot)
		assert.Equal(t, 1, vs.Len())
	})

	t.Run("second insert overwrites in place", func(t *testing.T) {
		slot, created, err := vs.Upsert(1, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, uint32(0), slot)
		assert.Equal(t, 1, vs.Len())
		assert.Equal(t, []float32{0, 1, 0}, vs.Vector(0))
	})

	t.Run("dim mismatch", func(t *testing.T) {
		_, _, err := vs.Upsert(2, []float32{1, 2})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("slot and id translate both ways", func(t *testing.T) {
		_, _, err := vs.Upsert(42, []float32{1, 2, 3})
		require.NoError(t, err)
		slot, ok := vs.Slot(42)
		require.True(t, ok)
		assert.Equal(t, uint64(42), vs.ID(slot))
	})

	t.Run("VectorByID copies", func(t *testing.T) {
		v, ok := vs.VectorByID(42)
		require.True(t, ok)
		v[0] = 99
		again, _ := vs.VectorByID(42)
		assert.Equal(t, float32(1), again[0])
	})
}

func TestMetadataStoreUpsertPreservesCounters(t *testing.T) {
	ms := NewMetadataStore()
	ms.SetClock(func() int64 { return 1000 })

	meta := NewMetadata()
	meta.Content = "first"
	ms.Upsert(7, meta)

	require.NoError(t, ms.Touch(7))
	require.NoError(t, ms.Touch(7))

	replacement := NewMetadata()
	replacement.Content = "second"
	replacement.RecallCount = 0 // callers cannot reset counters
	ms.Upsert(7, replacement)

	got, err := ms.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
	assert.Equal(t, uint32(2), got.RecallCount)
	assert.Equal(t, int64(1000), got.LastRecalledAt)
}

func TestMetadataStoreUpdate(t *testing.T) {
	ms := NewMetadataStore()

	t.Run("unknown id fails", func(t *testing.T) {
		assert.ErrorIs(t, ms.Update(1, NewMetadata()), ErrNotFound)
		assert.ErrorIs(t, ms.UpdateImportance(1, 0.5), ErrNotFound)
		assert.ErrorIs(t, ms.Touch(1), ErrNotFound)
	})

	t.Run("update importance replaces only that field", func(t *testing.T) {
		meta := NewMetadata()
		meta.Content = "keep me"
		ms.Upsert(1, meta)
		require.NoError(t, ms.UpdateImportance(1, 0.25))
		got, err := ms.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "keep me", got.Content)
		assert.Equal(t, float32(0.25), got.Importance)
	})

	t.Run("update preserves links cache", func(t *testing.T) {
		ms.SetLinks(1, []uint64{5, 6})
		require.NoError(t, ms.Update(1, NewMetadata()))
		got, err := ms.Get(1)
		require.NoError(t, err)
		assert.Equal(t, []uint64{5, 6}, got.Links)
	})
}

func TestMetadataStoreTouchMonotone(t *testing.T) {
	ms := NewMetadataStore()
	now := int64(100)
	ms.SetClock(func() int64 { return now })
	ms.Upsert(1, NewMetadata())

	for i := 1; i <= 5; i++ {
		require.NoError(t, ms.Touch(1))
		got, _ := ms.Get(1)
		assert.Equal(t, uint32(i), got.RecallCount)
	}

	// A clock that goes backwards never rewinds LastRecalledAt.
	now = 50
	require.NoError(t, ms.Touch(1))
	got, _ := ms.Get(1)
	assert.Equal(t, int64(100), got.LastRecalledAt)
	assert.Equal(t, uint32(6), got.RecallCount)
}

func TestMetadataStoreGetClones(t *testing.T) {
	ms := NewMetadataStore()
	meta := NewMetadata()
	meta.Attributes = map[string]string{"k": "v"}
	ms.Upsert(1, meta)

	got, err := ms.Get(1)
	require.NoError(t, err)
	got.Attributes["k"] = "mutated"

	again, _ := ms.Get(1)
	assert.Equal(t, "v", again.Attributes["k"])
}

func TestGraphStoreLinkDedup(t *testing.T) {
	gs := NewGraphStore()

	assert.True(t, gs.Link(1, 2, RelDerivedFrom, 0.8))
	assert.False(t, gs.Link(1, 2, RelDerivedFrom, 0.5), "same triple dedups")
	assert.True(t, gs.Link(1, 2, RelSupports, 0.9), "different rel is a new edge")

	edges := gs.Edges(1)
	require.Len(t, edges, 2)
	assert.Equal(t, float32(0.5), edges[0].Weight, "last write wins on weight")

	incoming := gs.Incoming(2)
	require.Len(t, incoming, 2)
	assert.Equal(t, uint64(1), incoming[0].Source)
	assert.Equal(t, float32(0.5), incoming[0].Weight, "reverse index mirrors the weight update")
}

func TestGraphStoreSymmetry(t *testing.T) {
	gs := NewGraphStore()
	gs.Link(1, 2, RelRelatedTo, 1.0)
	gs.Link(1, 3, RelCausedBy, 0.4)
	gs.Link(3, 1, RelPrecedes, 0.6)
	gs.Link(2, 2, RelMultimodalOf, 1.0) // self-loop

	assertSymmetric(t, gs)
}

func assertSymmetric(t *testing.T, gs *GraphStore) {
	t.Helper()
	gs.Range(func(src uint64, edges []Edge) bool {
		for _, e := range edges {
			found := false
			for _, ie := range gs.Incoming(e.Target) {
				if ie.Source == src && ie.RelType == e.RelType && ie.Weight == e.Weight {
					found = true
					break
				}
			}
			assert.True(t, found, "edge (%d,%d,%s) missing from reverse index", src, e.Target, e.RelType)
		}
		return true
	})
}

func TestGraphStoreTargetsDistinct(t *testing.T) {
	gs := NewGraphStore()
	gs.Link(1, 2, RelRelatedTo, 1.0)
	gs.Link(1, 2, RelSupports, 0.5)
	gs.Link(1, 3, RelRelatedTo, 0.7)

	assert.Equal(t, []uint64{2, 3}, gs.Targets(1))
}

func TestGraphStoreRemoveRecord(t *testing.T) {
	gs := NewGraphStore()
	gs.Link(1, 2, RelRelatedTo, 1.0)
	gs.Link(2, 3, RelRelatedTo, 1.0)
	gs.Link(3, 2, RelSupports, 0.8)

	gs.RemoveRecord(2)

	assert.Empty(t, gs.Edges(2))
	assert.Empty(t, gs.Incoming(2))
	assert.Empty(t, gs.Edges(1), "edge into removed record is gone")
	assert.Empty(t, gs.Incoming(3), "edge out of removed record is gone")
	assertSymmetric(t, gs)
}

func TestGraphStoreRebuildReverse(t *testing.T) {
	gs := NewGraphStore()
	gs.RestoreOutgoing(1, []Edge{{Target: 2, RelType: RelRelatedTo, Weight: 1}})
	gs.RestoreOutgoing(2, []Edge{{Target: 1, RelType: RelDerivedFrom, Weight: 0.3}})

	// Clobber the reverse index, then rebuild it from scratch.
	gs.in = make(map[uint64][]IncomingEdge)
	gs.RebuildReverse()

	assertSymmetric(t, gs)
	require.Len(t, gs.Incoming(2), 1)
	assert.Equal(t, uint64(1), gs.Incoming(2)[0].Source)
}
