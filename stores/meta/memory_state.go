package meta

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStateStore is a StateStore held in process memory.
type MemoryStateStore struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	data    []byte
	version int64
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{docs: make(map[string]memoryDoc)}
}

func (m *MemoryStateStore) GetState(_ context.Context, key string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, 0, nil
	}

	return bytes.Clone(doc.data), doc.version, nil
}

func (m *MemoryStateStore) CompareAndSwapState(_ context.Context, key string, data []byte, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[key].version != version {
		return false, nil
	}

	m.docs[key] = memoryDoc{data: bytes.Clone(data), version: version + 1}

	return true, nil
}
