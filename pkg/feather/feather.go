// Package feather provides the embedded Feather database API.
//
// Feather unifies three primitives behind one 64-bit key space:
//   - per-modality approximate nearest-neighbor vector indexes,
//   - a typed, weighted directed property graph over the same IDs,
//   - rich per-record metadata with a living-context scoring model
//     (time decay modulated by recall stickiness and importance).
//
// A DB is a value with an Open/Close lifecycle and no global state. All
// public operations are safe to call from any goroutine: each modality's
// vectors and ANN index share one reader-writer lock, and the metadata and
// graph stores carry their own.
//
// Example Usage:
//
//	db, err := feather.Open("./memories.feather", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	meta := store.NewMetadata()
//	meta.Content = "user prefers summer colorways"
//	meta.Type = store.TypePreference
//	if err := db.Add(1, embedding, &meta, "text"); err != nil {
//		log.Fatal(err)
//	}
//
//	hits, err := db.Search(queryVec, 5, nil)
//	for _, h := range hits {
//		fmt.Printf("[%.3f] %s\n", h.Score, h.Metadata.Content)
//	}
package feather

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/featherdb/featherdb/pkg/archive"
	"github.com/featherdb/featherdb/pkg/cache"
	"github.com/featherdb/featherdb/pkg/hnsw"
	"github.com/featherdb/featherdb/pkg/snapshot"
	"github.com/featherdb/featherdb/pkg/store"
)

// Errors surfaced by the public API. Dimension, lookup and argument errors
// are re-exported from the store layer so errors.Is works across packages.
var (
	ErrNotFound          = store.ErrNotFound
	ErrDimensionMismatch = store.ErrDimensionMismatch
	ErrInvalidArgument   = store.ErrInvalidArgument
	ErrClosed            = store.ErrClosed
	ErrCorruptSnapshot   = snapshot.ErrCorruptSnapshot
)

// DefaultModality is the modality used when callers pass an empty name.
const DefaultModality = "text"

var modalityNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config holds engine construction options.
type Config struct {
	// DefaultDim is the dimension given to the "text" modality when opening
	// a path with no existing snapshot. Default: 768.
	DefaultDim int

	// Index holds the HNSW construction/search parameters shared by every
	// modality.
	Index hnsw.Config

	// CacheEnabled turns on the ristretto-backed search-result cache.
	CacheEnabled bool

	// CacheMaxCost bounds the cache's memory, in cached result entries.
	CacheMaxCost int64
}

// DefaultConfig returns the stated defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultDim:   768,
		Index:        hnsw.DefaultConfig(),
		CacheEnabled: false,
		CacheMaxCost: 10_000,
	}
}

// modality bundles one vector space with its ANN index under a shared lock:
// inserts take the writer lock, searches the reader lock, so a search always
// observes a self-consistent graph.
type modality struct {
	mu      sync.RWMutex
	name    string
	vectors *store.VectorStore
	index   *hnsw.Index
}

// DB is an embedded Feather database.
type DB struct {
	mu         sync.RWMutex // guards modalities map, closed flag
	path       string
	cfg        Config
	modalities map[string]*modality
	meta       *store.MetadataStore
	graph      *store.GraphStore
	results    *cache.ResultCache
	archive    *archive.Store
	closed     bool
	now        func() int64
}

// Open opens the snapshot at path, or initializes an empty database when the
// file does not exist yet. With a nil config the defaults apply.
func Open(path string, cfg *Config) (*DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DefaultDim <= 0 {
		cfg.DefaultDim = DefaultConfig().DefaultDim
	}

	db := &DB{
		path:       path,
		cfg:        *cfg,
		modalities: make(map[string]*modality),
		meta:       store.NewMetadataStore(),
		graph:      store.NewGraphStore(),
		now:        func() int64 { return time.Now().Unix() },
	}
	if cfg.CacheEnabled {
		rc, err := cache.NewResultCache(cfg.CacheMaxCost)
		if err != nil {
			return nil, fmt.Errorf("feather: result cache: %w", err)
		}
		db.results = rc
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		snap, err := snapshot.Load(path)
		if err != nil {
			return nil, err
		}
		if err := db.restore(snap); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		db.modalities[DefaultModality] = db.newModality(DefaultModality, cfg.DefaultDim)
	default:
		return nil, fmt.Errorf("feather: stat %s: %w", path, err)
	}

	return db, nil
}

func (db *DB) newModality(name string, dim int) *modality {
	vs := store.NewVectorStore(dim)
	return &modality{
		name:    name,
		vectors: vs,
		index:   hnsw.New(db.cfg.Index, vs),
	}
}

func (db *DB) restore(snap *snapshot.Snapshot) error {
	for _, m := range snap.Modalities {
		mod := &modality{
			name:    m.Name,
			vectors: store.RestoreVectorStore(m.Dim, m.IDs, m.Vectors),
		}
		if m.Graph != nil && len(m.Graph.Nodes) >= len(m.IDs) {
			mod.index = hnsw.FromState(db.cfg.Index, mod.vectors, m.Graph)
		} else {
			// ANN section absent: rebuild the graph from the stored vectors.
			mod.index = hnsw.New(db.cfg.Index, mod.vectors)
			for slot := range m.IDs {
				mod.index.Insert(uint32(slot))
			}
		}
		db.modalities[m.Name] = mod
	}

	for id, meta := range snap.Metadata {
		db.meta.Restore(id, meta)
	}
	for src, edges := range snap.Edges {
		db.graph.RestoreOutgoing(src, edges)
	}
	// The links cache is a derived view; rebuild it from the graph rather
	// than trusting any persisted copy.
	for _, src := range db.graph.Sources() {
		db.meta.SetLinks(src, db.graph.Targets(src))
	}

	if len(db.modalities) == 0 {
		db.modalities[DefaultModality] = db.newModality(DefaultModality, db.cfg.DefaultDim)
	}
	return nil
}

// checkOpen returns ErrClosed after Close.
func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// invalidate bumps the result-cache epoch after any mutation.
func (db *DB) invalidate() {
	if db.results != nil {
		db.results.Invalidate()
	}
}

// getModality returns the named modality, or nil when absent.
func (db *DB) getModality(name string) *modality {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.modalities[name]
}

// getOrCreateModality returns the named modality, creating it with dim fixed
// at first insertion.
func (db *DB) getOrCreateModality(name string, dim int) *modality {
	db.mu.Lock()
	defer db.mu.Unlock()
	if m, ok := db.modalities[name]; ok {
		return m
	}
	m := db.newModality(name, dim)
	db.modalities[name] = m
	return m
}

func normalizeModality(name string) (string, error) {
	if name == "" {
		return DefaultModality, nil
	}
	if !modalityNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: malformed modality name %q", ErrInvalidArgument, name)
	}
	return name, nil
}

// Add upserts a vector for id into the given modality ("" means "text") and,
// when meta is non-nil, upserts the metadata record. The modality's dimension
// is fixed by the first insert; later inserts with a different length fail
// with ErrDimensionMismatch. A record always gets a metadata entry — when
// meta is nil and none exists, a default one is created.
func (db *DB) Add(id uint64, vec []float32, meta *store.Metadata, modalityName string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	name, err := normalizeModality(modalityName)
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidArgument)
	}

	mod := db.getOrCreateModality(name, len(vec))

	mod.mu.Lock()
	slot, _, err := mod.vectors.Upsert(id, vec)
	if err == nil {
		mod.index.Insert(slot)
	}
	mod.mu.Unlock()
	if err != nil {
		return fmt.Errorf("feather: add to %q: %w", name, err)
	}

	if meta != nil {
		db.meta.Upsert(id, *meta)
	} else {
		db.meta.EnsureExists(id)
	}

	db.invalidate()
	return nil
}

// GetMetadata returns a copy of the record's metadata.
func (db *DB) GetMetadata(id uint64) (store.Metadata, error) {
	if err := db.checkOpen(); err != nil {
		return store.Metadata{}, err
	}
	return db.meta.Get(id)
}

// GetVector returns a copy of the record's vector in the given modality.
func (db *DB) GetVector(id uint64, modalityName string) ([]float32, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	name, err := normalizeModality(modalityName)
	if err != nil {
		return nil, err
	}
	mod := db.getModality(name)
	if mod == nil {
		return nil, fmt.Errorf("%w: modality %q", ErrNotFound, name)
	}
	mod.mu.RLock()
	defer mod.mu.RUnlock()
	vec, ok := mod.vectors.VectorByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d in modality %q", ErrNotFound, id, name)
	}
	return vec, nil
}

// UpdateMetadata replaces all mutable metadata fields of an existing record,
// preserving recall counters and the links cache.
func (db *DB) UpdateMetadata(id uint64, meta store.Metadata) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.meta.Update(id, meta); err != nil {
		return err
	}
	db.invalidate()
	return nil
}

// UpdateImportance replaces only the record's importance.
func (db *DB) UpdateImportance(id uint64, importance float32) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.meta.UpdateImportance(id, importance); err != nil {
		return err
	}
	db.invalidate()
	return nil
}

// Touch records a recall of id: the recall counter increments by exactly one
// and the last-recalled timestamp advances.
func (db *DB) Touch(id uint64) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.meta.Touch(id)
}

// Dim returns the fixed dimension of a modality, or 0 when it has never been
// created.
func (db *DB) Dim(modalityName string) int {
	name, err := normalizeModality(modalityName)
	if err != nil {
		return 0
	}
	mod := db.getModality(name)
	if mod == nil {
		return 0
	}
	return mod.vectors.Dim()
}

// Size returns the number of metadata records.
func (db *DB) Size() int {
	return db.meta.Len()
}

// AllIDs returns the external IDs present in a modality, in slot order.
func (db *DB) AllIDs(modalityName string) []uint64 {
	name, err := normalizeModality(modalityName)
	if err != nil {
		return nil
	}
	mod := db.getModality(name)
	if mod == nil {
		return nil
	}
	mod.mu.RLock()
	defer mod.mu.RUnlock()
	return mod.vectors.IDs()
}

// Modalities returns the modality names in sorted order.
func (db *DB) Modalities() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.modalities))
	for name := range db.modalities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save serializes the whole database to its path: temp file plus atomic
// rename, safe to invoke concurrently with readers. Sections are snapshotted
// under their own reader locks, modalities in sorted name order.
func (db *DB) Save() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return snapshot.Save(db.path, db.buildSnapshot())
}

func (db *DB) buildSnapshot() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Metadata: make(map[uint64]store.Metadata),
		Edges:    make(map[uint64][]store.Edge),
	}

	for _, name := range db.Modalities() {
		mod := db.getModality(name)
		if mod == nil {
			continue
		}
		mod.mu.RLock()
		ids := mod.vectors.IDs()
		vecs := make([]float32, 0, len(ids)*mod.vectors.Dim())
		for slot := range ids {
			vecs = append(vecs, mod.vectors.Vector(uint32(slot))...)
		}
		snap.Modalities = append(snap.Modalities, snapshot.Modality{
			Name:    name,
			Dim:     mod.vectors.Dim(),
			IDs:     ids,
			Vectors: vecs,
			Graph:   mod.index.ExportState(),
		})
		mod.mu.RUnlock()
	}

	db.meta.Range(func(id uint64, meta store.Metadata) bool {
		snap.Metadata[id] = meta
		return true
	})
	db.graph.Range(func(src uint64, edges []store.Edge) bool {
		snap.Edges[src] = edges
		return true
	})
	return snap
}

// Close saves the database and marks it closed. Closing twice is an error
// only in the sense that operations after the first Close fail with
// ErrClosed; the second Close itself is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if err := snapshot.Save(db.path, db.buildSnapshot()); err != nil {
		return err
	}
	if db.results != nil {
		db.results.Close()
	}
	return nil
}

// Stats summarizes the database for introspection endpoints.
type Stats struct {
	Records    int            `json:"records"`
	Edges      int            `json:"edges"`
	Modalities map[string]int `json:"modalities"` // name → vector count
}

// Stats returns record, edge and per-modality vector counts.
func (db *DB) Stats() Stats {
	st := Stats{
		Records:    db.meta.Len(),
		Edges:      db.graph.EdgeCount(),
		Modalities: make(map[string]int),
	}
	for _, name := range db.Modalities() {
		if mod := db.getModality(name); mod != nil {
			mod.mu.RLock()
			st.Modalities[name] = mod.vectors.Len()
			mod.mu.RUnlock()
		}
	}
	return st
}
