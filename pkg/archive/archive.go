// Package archive provides the cold store for records evicted from a Feather
// database's hot set.
//
// The hot snapshot stays small and fast when stale or soft-deleted records
// move out of it; the archive keeps their full state — metadata, every
// modality vector, and outgoing edges — in a BadgerDB keyspace so they can
// be restored later or inspected offline.
//
// Key structure: a single-byte prefix plus the big-endian record ID, values
// JSON-encoded. Badger gives the archive ACID transactions, crash recovery,
// and an in-memory mode for tests.
//
// Example:
//
//	arc, err := archive.Open(archive.Options{Dir: "./archive"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer arc.Close()
//
//	db.AttachArchive(arc)
//	moved, err := db.SweepArchive(0.05, scoring.DefaultConfig())
package archive

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/featherdb/featherdb/pkg/store"
)

// Errors.
var (
	ErrNotFound = errors.New("archive: record not found")
	ErrClosed   = errors.New("archive: closed")
)

// prefixRecord namespaces archived records within the Badger keyspace.
const prefixRecord = byte(0x01)

// Record is the archived form of one record: everything needed to restore it
// into the hot set.
type Record struct {
	ID         uint64               `json:"id"`
	Metadata   store.Metadata       `json:"metadata"`
	Vectors    map[string][]float32 `json:"vectors"` // modality → vector
	Edges      []store.Edge         `json:"edges"`   // outgoing at archive time
	ArchivedAt int64                `json:"archived_at"`
}

// Options configures the archive store.
type Options struct {
	// Dir is the Badger directory. Required unless InMemory.
	Dir string

	// InMemory runs Badger without disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// Store is a Badger-backed archive of cold records.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the archive.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("archive: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func recordKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixRecord
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores or replaces an archived record.
func (s *Store) Put(rec *Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record %d: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("archive: put record %d: %w", rec.ID, err)
	}
	return nil
}

// Get returns an archived record, or ErrNotFound.
func (s *Store) Get(id uint64) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get record %d: %w", id, err)
	}
	return &rec, nil
}

// Delete removes an archived record. Deleting an absent record is a no-op.
func (s *Store) Delete(id uint64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	})
	if err != nil {
		return fmt.Errorf("archive: delete record %d: %w", id, err)
	}
	return nil
}

// Count returns the number of archived records.
func (s *Store) Count() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixRecord}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return count, nil
}

// Range calls fn with every archived record until fn returns false.
func (s *Store) Range(fn func(rec *Record) bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixRecord}, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if !fn(&rec) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive: range: %w", err)
	}
	return nil
}

// Close releases the Badger store. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
