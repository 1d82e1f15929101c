package server

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/featherdb/featherdb/pkg/config"
	"github.com/featherdb/featherdb/pkg/feather"
	"github.com/featherdb/featherdb/pkg/hnsw"
	"github.com/featherdb/featherdb/pkg/store"
)

// namespaceRe limits tenant identifiers to filesystem-safe names.
var namespaceRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrBadNamespace is returned for tenant identifiers outside [A-Za-z0-9_-]+.
var ErrBadNamespace = fmt.Errorf("%w: namespace must match [A-Za-z0-9_-]+", store.ErrInvalidArgument)

// Registry maps tenant namespaces to lazily-opened Feather databases, one
// .feather file per namespace under the data directory.
type Registry struct {
	mu      sync.Mutex
	dataDir string
	cfg     *config.Config
	dbs     map[string]*feather.DB
}

// NewRegistry creates a registry rooted at cfg.DataDir.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		dataDir: cfg.DataDir,
		cfg:     cfg,
		dbs:     make(map[string]*feather.DB),
	}
}

func (r *Registry) path(namespace string) string {
	return filepath.Join(r.dataDir, namespace+".feather")
}

// Get returns the namespace's database, opening it on first use. With create
// false, a namespace with no snapshot file fails with ErrNotFound.
func (r *Registry) Get(namespace string, create bool) (*feather.DB, error) {
	if !namespaceRe.MatchString(namespace) {
		return nil, ErrBadNamespace
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[namespace]; ok {
		return db, nil
	}

	path := r.path(namespace)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: namespace %q", store.ErrNotFound, namespace)
		}
	}

	fcfg := feather.DefaultConfig()
	fcfg.DefaultDim = r.cfg.DefaultDim
	fcfg.Index = hnsw.Config{
		M:              r.cfg.Index.M,
		EfConstruction: r.cfg.Index.EfConstruction,
		EfSearch:       r.cfg.Index.EfSearch,
	}
	fcfg.CacheEnabled = r.cfg.Cache.Enabled
	fcfg.CacheMaxCost = r.cfg.Cache.MaxCost

	db, err := feather.Open(path, fcfg)
	if err != nil {
		return nil, err
	}
	r.dbs[namespace] = db
	return db, nil
}

// List returns every known namespace: open databases plus snapshot files on
// disk, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.dbs))
	for ns := range r.dbs {
		seen[ns] = true
	}
	if entries, err := os.ReadDir(r.dataDir); err == nil {
		for _, e := range entries {
			name := e.Name()
			if !e.IsDir() && strings.HasSuffix(name, ".feather") {
				seen[strings.TrimSuffix(name, ".feather")] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// CloseAll saves and closes every open database. The first error is
// returned; closing continues regardless.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for ns, db := range r.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close namespace %q: %w", ns, err)
		}
		delete(r.dbs, ns)
	}
	return firstErr
}
