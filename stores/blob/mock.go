package blob

import (
	"context"
	"io"
	"net/url"

	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	args := m.Called(ctx, checkLiveness)
	return args.Int(0), args.String(1), args.Error(2)
}

func (m *MockStore) Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	args := m.Called(ctx, key, opts)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	args := m.Called(ctx, key, opts)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	args := m.Called(ctx, key, opts)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStore) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	args := m.Called(ctx, key, value, opts)
	return args.Error(0)
}

func (m *MockStore) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	args := m.Called(ctx, key, reader, opts)
	return args.Error(0)
}

func (m *MockStore) Del(ctx context.Context, key []byte, opts ...options.FileOption) error {
	args := m.Called(ctx, key, opts)
	return args.Error(0)
}

func (m *MockStore) GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	args := m.Called(ctx, key, opts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) SupportsRedirects() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockStore) GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	args := m.Called(ctx, key, opts)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockStore) GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	args := m.Called(ctx, key, opts)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
