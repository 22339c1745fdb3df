package blob

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/bsv-blockchain/blobstore/stores/blob/options"
)

// PrefixedStore places every key of the wrapped store under a fixed prefix.
type PrefixedStore struct {
	store  Store
	prefix string
}

func NewPrefixedStore(store Store, prefix string) *PrefixedStore {
	prefix = strings.Trim(prefix, "/")

	return &PrefixedStore{store: store, prefix: prefix}
}

func (p *PrefixedStore) key(key []byte) []byte {
	if p.prefix == "" {
		return key
	}

	k := make([]byte, 0, len(p.prefix)+1+len(key))
	k = append(k, p.prefix...)
	k = append(k, '/')

	return append(k, key...)
}

func (p *PrefixedStore) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return p.store.Health(ctx, checkLiveness)
}

func (p *PrefixedStore) Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	return p.store.Exists(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	return p.store.Get(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	return p.store.GetIoReader(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	return p.store.Set(ctx, p.key(key), value, opts...)
}

func (p *PrefixedStore) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	return p.store.SetFromReader(ctx, p.key(key), reader, opts...)
}

func (p *PrefixedStore) Del(ctx context.Context, key []byte, opts ...options.FileOption) error {
	return p.store.Del(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	return p.store.GetSize(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) SupportsRedirects() bool {
	return p.store.SupportsRedirects()
}

func (p *PrefixedStore) GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	return p.store.GetReadRedirect(ctx, p.key(key), opts...)
}

func (p *PrefixedStore) GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	return p.store.GetWriteRedirect(ctx, p.key(key), opts...)
}

// Close is a no-op, the wrapped store is shared and closed by its owner.
func (p *PrefixedStore) Close(_ context.Context) error {
	return nil
}
