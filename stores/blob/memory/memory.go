// Package memory is an in-process blob store backend.
package memory

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
)

type Memory struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	options  *options.Options
	Counters map[string]int
}

func New(opts ...options.StoreOption) *Memory {
	return &Memory{
		blobs:    make(map[string][]byte),
		options:  options.NewStoreOptions(opts...),
		Counters: make(map[string]int),
	}
}

func (m *Memory) count(op string) {
	m.Counters[op]++
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "Memory Store", nil
}

func (m *Memory) Close(_ context.Context) error {
	return nil
}

func (m *Memory) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	defer reader.Close()

	b, err := io.ReadAll(reader)
	if err != nil {
		return errors.NewStorageError("failed to read data from reader", err)
	}

	return m.Set(ctx, key, b, opts...)
}

func (m *Memory) Set(_ context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	merged := options.MergeOptions(m.options, opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("set")
	m.blobs[merged.ObjectKey(key)] = bytes.Clone(value)

	return nil
}

func (m *Memory) Get(_ context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	merged := options.MergeOptions(m.options, opts)
	objectKey := merged.ObjectKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("get")

	data, ok := m.blobs[objectKey]
	if !ok {
		return nil, errors.NewBlobNotFoundError("[Memory] object %s not found", objectKey)
	}

	return bytes.Clone(merged.ApplyRange(data)), nil
}

func (m *Memory) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	data, err := m.Get(ctx, key, opts...)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Exists(_ context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	merged := options.MergeOptions(m.options, opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[merged.ObjectKey(key)]

	return ok, nil
}

func (m *Memory) GetSize(_ context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	merged := options.MergeOptions(m.options, opts)
	objectKey := merged.ObjectKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("getSize")

	data, ok := m.blobs[objectKey]
	if !ok {
		return 0, errors.NewBlobNotFoundError("[Memory] object %s not found", objectKey)
	}

	return int64(len(data)), nil
}

func (m *Memory) Del(_ context.Context, key []byte, opts ...options.FileOption) error {
	merged := options.MergeOptions(m.options, opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("del")
	delete(m.blobs, merged.ObjectKey(key))

	return nil
}

func (m *Memory) SupportsRedirects() bool {
	return false
}

func (m *Memory) GetReadRedirect(_ context.Context, _ []byte, _ ...options.FileOption) (*url.URL, error) {
	return nil, nil
}

func (m *Memory) GetWriteRedirect(_ context.Context, _ []byte, _ ...options.FileOption) (*url.URL, error) {
	return nil, nil
}

// Keys returns the object keys currently stored, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Count returns how many times op was called.
func (m *Memory) Count(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Counters[op]
}
