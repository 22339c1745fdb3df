package blob

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
)

// ChainedStore writes to a primary store and falls back to a secondary store on read misses.
// Deletes only touch the primary, the secondary is treated as a read-only archive.
type ChainedStore struct {
	primary   Store
	secondary Store
}

func NewChainedStore(primary, secondary Store) *ChainedStore {
	return &ChainedStore{primary: primary, secondary: secondary}
}

func (c *ChainedStore) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	status, msg, err := c.primary.Health(ctx, checkLiveness)
	if err != nil || status != http.StatusOK {
		return status, msg, err
	}

	return c.secondary.Health(ctx, checkLiveness)
}

func (c *ChainedStore) Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	exists, err := c.primary.Exists(ctx, key, opts...)
	if err != nil || exists {
		return exists, err
	}

	return c.secondary.Exists(ctx, key, opts...)
}

func (c *ChainedStore) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	data, err := c.primary.Get(ctx, key, opts...)
	if err != nil && errors.IsNotFound(err) {
		return c.secondary.Get(ctx, key, opts...)
	}

	return data, err
}

func (c *ChainedStore) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	r, err := c.primary.GetIoReader(ctx, key, opts...)
	if err != nil && errors.IsNotFound(err) {
		return c.secondary.GetIoReader(ctx, key, opts...)
	}

	return r, err
}

func (c *ChainedStore) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	return c.primary.Set(ctx, key, value, opts...)
}

func (c *ChainedStore) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	return c.primary.SetFromReader(ctx, key, reader, opts...)
}

func (c *ChainedStore) Del(ctx context.Context, key []byte, opts ...options.FileOption) error {
	return c.primary.Del(ctx, key, opts...)
}

func (c *ChainedStore) GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	size, err := c.primary.GetSize(ctx, key, opts...)
	if err != nil && errors.IsNotFound(err) {
		return c.secondary.GetSize(ctx, key, opts...)
	}

	return size, err
}

func (c *ChainedStore) SupportsRedirects() bool {
	return c.primary.SupportsRedirects()
}

func (c *ChainedStore) GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	exists, err := c.primary.Exists(ctx, key, opts...)
	if err != nil {
		return nil, err
	}

	if !exists && c.secondary.SupportsRedirects() {
		return c.secondary.GetReadRedirect(ctx, key, opts...)
	}

	return c.primary.GetReadRedirect(ctx, key, opts...)
}

func (c *ChainedStore) GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	return c.primary.GetWriteRedirect(ctx, key, opts...)
}

func (c *ChainedStore) Close(_ context.Context) error {
	return nil
}
