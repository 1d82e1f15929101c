package feather

import (
	"errors"
	"fmt"

	"github.com/featherdb/featherdb/pkg/archive"
	"github.com/featherdb/featherdb/pkg/hnsw"
	"github.com/featherdb/featherdb/pkg/scoring"
	"github.com/featherdb/featherdb/pkg/store"
)

// AttachArchive connects a cold store. Sweep and restore fail until one is
// attached.
func (db *DB) AttachArchive(a *archive.Store) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.archive = a
}

// isSoftDeleted reports the conventional tombstone: importance zero plus the
// "deleted" attribute.
func isSoftDeleted(meta *store.Metadata) bool {
	return meta.Importance == 0 && meta.Attributes["deleted"] == "true"
}

// SweepArchive moves cold records into the attached archive and hard-deletes
// them from the hot set. A record is swept when it is soft-deleted
// (importance 0 and attributes["deleted"]=="true") or when its time
// component under cfg falls below threshold. Affected modalities rebuild
// their ANN indexes immediately, so swept records leave search results at
// once. Returns the number of records moved.
func (db *DB) SweepArchive(threshold float64, cfg scoring.Config) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	db.mu.RLock()
	arc := db.archive
	db.mu.RUnlock()
	if arc == nil {
		return 0, fmt.Errorf("%w: no archive attached", ErrInvalidArgument)
	}

	now := db.now()
	var victims []uint64
	db.meta.Range(func(id uint64, meta store.Metadata) bool {
		if isSoftDeleted(&meta) {
			victims = append(victims, id)
			return true
		}
		if threshold > 0 && scoring.TimeComponent(meta, cfg, now) < threshold {
			victims = append(victims, id)
		}
		return true
	})
	if len(victims) == 0 {
		return 0, nil
	}

	moved := 0
	dirty := make(map[string]map[uint64]bool) // modality → ids to drop
	for _, id := range victims {
		meta, err := db.meta.Get(id)
		if err != nil {
			continue
		}

		rec := &archive.Record{
			ID:         id,
			Metadata:   meta,
			Vectors:    make(map[string][]float32),
			Edges:      db.graph.Edges(id),
			ArchivedAt: now,
		}
		for _, name := range db.Modalities() {
			mod := db.getModality(name)
			mod.mu.RLock()
			if vec, ok := mod.vectors.VectorByID(id); ok {
				rec.Vectors[name] = vec
				if dirty[name] == nil {
					dirty[name] = make(map[uint64]bool)
				}
				dirty[name][id] = true
			}
			mod.mu.RUnlock()
		}

		if err := arc.Put(rec); err != nil {
			return moved, err
		}

		// Hard delete: edges first (collecting sources whose links caches
		// reference the victim), then metadata.
		var staleSources []uint64
		for _, ie := range db.graph.Incoming(id) {
			staleSources = append(staleSources, ie.Source)
		}
		db.graph.RemoveRecord(id)
		for _, src := range staleSources {
			db.meta.SetLinks(src, db.graph.Targets(src))
		}
		db.meta.Delete(id)
		moved++
	}

	for name, drop := range dirty {
		db.rebuildModality(name, drop)
	}

	db.invalidate()
	return moved, nil
}

// RestoreFromArchive moves a record from the archive back into the hot set:
// vectors re-insert into their modalities, metadata (including recall
// counters) restores verbatim, and outgoing edges re-attach. The archived
// copy is removed on success.
func (db *DB) RestoreFromArchive(id uint64) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.mu.RLock()
	arc := db.archive
	db.mu.RUnlock()
	if arc == nil {
		return fmt.Errorf("%w: no archive attached", ErrInvalidArgument)
	}

	rec, err := arc.Get(id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("%w: id %d not in archive", ErrNotFound, id)
		}
		return err
	}

	for name, vec := range rec.Vectors {
		mod := db.getOrCreateModality(name, len(vec))
		mod.mu.Lock()
		slot, _, err := mod.vectors.Upsert(id, vec)
		if err == nil {
			mod.index.Insert(slot)
		}
		mod.mu.Unlock()
		if err != nil {
			return fmt.Errorf("feather: restore %d into %q: %w", id, name, err)
		}
	}

	db.meta.Restore(id, rec.Metadata)
	db.graph.RestoreOutgoing(id, rec.Edges)
	db.meta.SetLinks(id, db.graph.Targets(id))

	if err := arc.Delete(id); err != nil {
		return err
	}
	db.invalidate()
	return nil
}

// rebuildModality reinserts every surviving record of a modality into a
// fresh vector store and ANN graph, dropping the given IDs. Hard deletes
// require this because slots are dense and append-only.
func (db *DB) rebuildModality(name string, drop map[uint64]bool) {
	mod := db.getModality(name)
	if mod == nil {
		return
	}

	mod.mu.Lock()
	defer mod.mu.Unlock()

	oldIDs := mod.vectors.IDs()
	fresh := store.NewVectorStore(mod.vectors.Dim())
	index := hnsw.New(db.cfg.Index, fresh)
	for slot, id := range oldIDs {
		if drop[id] {
			continue
		}
		vec := mod.vectors.Vector(uint32(slot))
		newSlot, _, err := fresh.Upsert(id, vec)
		if err == nil {
			index.Insert(newSlot)
		}
	}
	mod.vectors = fresh
	mod.index = index
}
