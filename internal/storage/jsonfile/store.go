// Package jsonfile provides the default session store: a single JSON file
// rewritten in full on every mutation.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/louisbranch/riftmeter/internal/platform/id"
	"github.com/louisbranch/riftmeter/internal/storage"
)

// Store persists session records in one JSON array file. All operations
// are read-modify-write under the store mutex; two writers to the same
// backing file must share one Store.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open prepares a store at path. The file is created on first mutation;
// corrupt or missing content is treated as an empty collection.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	return &Store{path: filepath.Clean(path)}, nil
}

// Close is a no-op; the file is not held open between calls.
func (s *Store) Close() error { return nil }

// List returns all records newest-first with snapshots stripped.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	return storage.ListView(records), nil
}

// Get returns the full record including its snapshot.
func (s *Store) Get(ctx context.Context, recordID string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.load() {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return storage.Record{}, storage.ErrNotFound
}

// Add appends a record, assigning an id when the record carries none.
func (s *Store) Add(ctx context.Context, rec storage.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		generated, err := id.NewID()
		if err != nil {
			return "", fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = generated
	}
	records := append(s.load(), rec)
	if err := s.save(records); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Delete removes a record if present.
func (s *Store) Delete(ctx context.Context, recordID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	kept := records[:0]
	removed := false
	for _, rec := range records {
		if rec.ID == recordID {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	if !removed {
		return false, nil
	}
	if err := s.save(kept); err != nil {
		return false, err
	}
	return true, nil
}

// Clear empties the store.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(nil)
}

// load reads the backing file. Missing or corrupt content recovers as an
// empty collection, and a fresh empty collection is written back so the
// next read succeeds cleanly. Callers must hold s.mu.
func (s *Store) load() []storage.Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("read session store %s: %v", s.path, err)
		}
		if err := s.save(nil); err != nil {
			log.Printf("rewrite empty session store %s: %v", s.path, err)
		}
		return nil
	}
	var records []storage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("session store %s corrupt, resetting: %v", s.path, err)
		if err := s.save(nil); err != nil {
			log.Printf("rewrite empty session store %s: %v", s.path, err)
		}
		return nil
	}
	return records
}

// save rewrites the whole backing file. Callers must hold s.mu.
func (s *Store) save(records []storage.Record) error {
	if records == nil {
		records = []storage.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}
