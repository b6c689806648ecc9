// Package memory provides an in-process RecordStore used in tests and
// for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vadimbarashkov/shortlink/internal/models"
	"github.com/vadimbarashkov/shortlink/internal/storage"
)

// RecordStore is a map-backed implementation of storage.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*models.URL
	nextID  int64
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]*models.URL),
		nextID:  1,
	}
}

func (s *RecordStore) Save(_ context.Context, url *models.URL) (*models.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *url
	rec.Extension = models.CloneExtension(url.Extension)
	if existing, ok := s.records[url.ShortCode]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = s.nextID
		s.nextID++
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
	}
	rec.UpdatedAt = time.Now()

	s.records[url.ShortCode] = &rec

	return cloneRecord(&rec), nil
}

func (s *RecordStore) Get(_ context.Context, shortCode string) (*models.URL, error) {
	const op = "storage.memory.RecordStore.Get"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[shortCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	return cloneRecord(rec), nil
}

// cloneRecord copies the record and its extension so callers never share
// state with the store. IncrementStats mutates stored extensions in place;
// an aliased extension would race with readers of a previously returned
// record.
func cloneRecord(rec *models.URL) *models.URL {
	out := *rec
	out.Extension = models.CloneExtension(rec.Extension)
	return &out
}

func (s *RecordStore) Exists(_ context.Context, shortCode string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[shortCode]
	return ok, nil
}

func (s *RecordStore) Delete(_ context.Context, shortCode string) error {
	const op = "storage.memory.RecordStore.Delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[shortCode]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	delete(s.records, shortCode)
	return nil
}

func (s *RecordStore) IncrementStats(_ context.Context, shortCode string, visit models.Visit) error {
	const op = "storage.memory.RecordStore.IncrementStats"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[shortCode]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	rec.ApplyVisit(visit)
	rec.UpdatedAt = time.Now()
	return nil
}
