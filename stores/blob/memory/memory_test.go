package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDel(t *testing.T) {
	ctx := context.Background()
	m := New(options.WithDefaultFileExtension("blob"))

	require.NoError(t, m.Set(ctx, []byte("a/b"), []byte("hello world")))
	assert.Equal(t, []string{"a/b.blob"}, m.Keys())

	exists, err := m.Exists(ctx, []byte("a/b"))
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := m.Get(ctx, []byte("a/b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	data, err = m.Get(ctx, []byte("a/b"), options.WithRange(6, 3))
	require.NoError(t, err)
	assert.Equal(t, []byte("wor"), data)

	size, err := m.GetSize(ctx, []byte("a/b"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	require.NoError(t, m.Del(ctx, []byte("a/b")))
	require.NoError(t, m.Del(ctx, []byte("a/b")))

	_, err = m.Get(ctx, []byte("a/b"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = m.GetSize(ctx, []byte("a/b"))
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, 1, m.Count("set"))
	assert.Equal(t, 2, m.Count("del"))
}

func TestMemoryReader(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.SetFromReader(ctx, []byte("k"), io.NopCloser(bytes.NewReader([]byte("streamed")))))

	r, err := m.GetIoReader(ctx, []byte("k"), options.WithRange(3, 0))
	require.NoError(t, err)

	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("eamed"), data)
}

func TestMemoryNoRedirects(t *testing.T) {
	m := New()
	assert.False(t, m.SupportsRedirects())

	u, err := m.GetReadRedirect(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, u)
}
