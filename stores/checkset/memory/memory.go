// Package memory is a process-local check-set, used in tests and single instance deployments.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/stores/checkset"
	"github.com/dolthub/swiss"
)

type Memory struct {
	mu   sync.Mutex
	sets map[string]*swiss.Map[model.BlobID, float64]
}

func New() *Memory {
	return &Memory{
		sets: make(map[string]*swiss.Map[model.BlobID, float64]),
	}
}

func (m *Memory) set(namespaceID string) *swiss.Map[model.BlobID, float64] {
	s, ok := m.sets[namespaceID]
	if !ok {
		s = swiss.NewMap[model.BlobID, float64](64)
		m.sets[namespaceID] = s
	}

	return s
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "Memory CheckSet", nil
}

func (m *Memory) Add(_ context.Context, namespaceID string, entries ...checkset.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.set(namespaceID)

	for _, e := range entries {
		s.Put(e.ID, e.Score)
	}

	return nil
}

func (m *Memory) AddNX(_ context.Context, namespaceID string, entries ...checkset.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.set(namespaceID)

	for _, e := range entries {
		if !s.Has(e.ID) {
			s.Put(e.ID, e.Score)
		}
	}

	return nil
}

func (m *Memory) Range(_ context.Context, namespaceID string, limit int) ([]checkset.Entry, error) {
	m.mu.Lock()

	s, ok := m.sets[namespaceID]
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}

	entries := make([]checkset.Entry, 0, s.Count())

	s.Iter(func(id model.BlobID, score float64) bool {
		entries = append(entries, checkset.Entry{ID: id, Score: score})
		return false
	})

	m.mu.Unlock()

	// redis orders equal scores lexicographically by member
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}

		return entries[i].ID.String() < entries[j].ID.String()
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (m *Memory) Len(_ context.Context, namespaceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[namespaceID]
	if !ok {
		return 0, nil
	}

	return int64(s.Count()), nil
}

func (m *Memory) CompareAndRemove(_ context.Context, namespaceID string, id model.BlobID, score float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[namespaceID]
	if !ok {
		return false, nil
	}

	current, ok := s.Get(id)
	if !ok || current != score {
		return false, nil
	}

	s.Delete(id)

	return true, nil
}

// Score returns the current score of id, for tests.
func (m *Memory) Score(namespaceID string, id model.BlobID) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[namespaceID]
	if !ok {
		return 0, false
	}

	return s.Get(id)
}

func (m *Memory) Close() error {
	return nil
}
