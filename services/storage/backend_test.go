package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadBlob(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())
	b := ts.backend(t, "ns")

	require.NoError(t, b.WriteBlob(ctx, "dir/file", nil, strings.NewReader("hello world")))

	data, err := b.ReadBlob(ctx, "dir/file", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	data, err = b.ReadBlob(ctx, "dir/file#fragment", 6, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	r, err := b.OpenBlob(ctx, "dir/file", 6, 0)
	require.NoError(t, err)

	streamed, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, []byte("world"), streamed)

	info, err := ts.meta.GetBlob(ctx, "ns", "dir/file")
	require.NoError(t, err)
	assert.Equal(t, "ns", info.NamespaceID)
	assert.Equal(t, baseTime.UnixMilli(), info.ID.Time().UnixMilli())

	assert.Equal(t, []string{"dir/file.blob"}, ts.stores.get("/primary").Keys())

	t.Run("missing", func(t *testing.T) {
		_, err := b.ReadBlob(ctx, "nope", 0, 0)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("existing path", func(t *testing.T) {
		err := b.WriteBlobBytes(ctx, "dir/file", nil, []byte("again"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlobExists))
	})
}

func TestWriteBlobImports(t *testing.T) {
	ts := newTestServer(t, testStorageConfig())

	a := ts.writeBlob(t, "ns", "a")
	b := ts.writeBlob(t, "ns", "b")

	root := ts.writeBlob(t, "ns", "root", "b#x", "a", "b#y", "unknown")

	expected := []model.BlobID{a.ID, b.ID}
	if b.ID.Less(a.ID) {
		expected = []model.BlobID{b.ID, a.ID}
	}

	assert.Equal(t, expected, root.Imports)
}

func TestWriteBlobWithUniqueLocator(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())
	b := ts.backend(t, "ns")

	first, err := b.WriteBlobWithUniqueLocator(ctx, "uploads", nil, bytes.NewReader([]byte("one")))
	require.NoError(t, err)

	second, err := b.WriteBlobWithUniqueLocator(ctx, "uploads", nil, bytes.NewReader([]byte("two")))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(string(first), "uploads/"))

	bare, err := b.WriteBlobWithUniqueLocator(ctx, "", nil, bytes.NewReader([]byte("three")))
	require.NoError(t, err)
	assert.NotContains(t, string(bare), "/")

	data, err := b.ReadBlob(ctx, second, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestRedirects(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())

	t.Run("memory stores have none", func(t *testing.T) {
		b := ts.backend(t, "ns")
		assert.False(t, b.SupportsRedirects())

		ts.writeBlob(t, "ns", "plain")

		u, err := b.TryGetBlobReadRedirect(ctx, "plain")
		require.NoError(t, err)
		assert.Nil(t, u)

		u, err = b.TryGetBlobWriteRedirect(ctx, "other", nil)
		require.NoError(t, err)
		assert.Nil(t, u)
		assert.False(t, ts.blobExists(t, "ns", "other"))
	})

	t.Run("presigned", func(t *testing.T) {
		store := &blob.MockStore{}
		store.On("SupportsRedirects").Return(true)

		writeURL, _ := url.Parse("https://objects.test/upload?sig=w")
		readURL, _ := url.Parse("https://objects.test/download?sig=r")

		store.On("GetWriteRedirect", mock.Anything, []byte("upload"), mock.Anything).Return(writeURL, nil)
		store.On("GetWriteRedirect", mock.Anything, mock.Anything, mock.Anything).Return(writeURL, nil)
		store.On("GetReadRedirect", mock.Anything, []byte("upload"), mock.Anything).Return(readURL, nil)

		b := newBackend(ts.Server, settings.NamespaceConfig{ID: "ns"}, store, false)
		require.True(t, b.SupportsRedirects())

		u, err := b.TryGetBlobWriteRedirect(ctx, "upload", []model.Locator{"plain"})
		require.NoError(t, err)
		assert.Equal(t, writeURL, u)

		info, err := ts.meta.GetBlob(ctx, "ns", "upload")
		require.NoError(t, err)
		assert.Len(t, info.Imports, 1)

		u, err = b.TryGetBlobReadRedirect(ctx, "upload#part")
		require.NoError(t, err)
		assert.Equal(t, readURL, u)

		locator, u, err := b.TryGetBlobWriteRedirectForPrefix(ctx, "incoming", nil)
		require.NoError(t, err)
		assert.Equal(t, writeURL, u)
		assert.True(t, strings.HasPrefix(string(locator), "incoming/"))
		assert.True(t, ts.blobExists(t, "ns", string(locator)))

		store.AssertExpectations(t)
	})

	t.Run("aliased namespaces never redirect", func(t *testing.T) {
		store := &blob.MockStore{}
		store.On("SupportsRedirects").Return(true)

		b := newBackend(ts.Server, settings.NamespaceConfig{ID: "ns", EnableAliases: true}, store, false)
		assert.False(t, b.SupportsRedirects())

		u, err := b.TryGetBlobReadRedirect(ctx, "plain")
		require.NoError(t, err)
		assert.Nil(t, u)
	})
}

func TestAliases(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())
	b := ts.backend(t, "ns")

	ts.writeBlob(t, "ns", "one")
	ts.writeBlob(t, "ns", "two")

	require.NoError(t, b.AddAlias(ctx, "latest", "one#a", 1, []byte("meta")))
	require.NoError(t, b.AddAlias(ctx, "latest", "two", 5, nil))
	require.NoError(t, b.AddAlias(ctx, "latest", "one#b", 1, nil))

	// adding the same name and fragment again is a no-op
	require.NoError(t, b.AddAlias(ctx, "latest", "one#a", 9, nil))

	aliases, err := b.FindAliases(ctx, "latest", 0)
	require.NoError(t, err)
	require.Len(t, aliases, 3)

	assert.Equal(t, model.Locator("two"), aliases[0].Target)
	assert.Equal(t, 5, aliases[0].Rank)
	assert.Equal(t, model.Locator("one#a"), aliases[1].Target)
	assert.Equal(t, []byte("meta"), aliases[1].Data)
	assert.Equal(t, model.Locator("one#b"), aliases[2].Target)

	limited, err := b.FindAliases(ctx, "latest", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, model.Locator("two"), limited[0].Target)

	require.NoError(t, b.RemoveAlias(ctx, "latest", "two"))
	require.NoError(t, b.RemoveAlias(ctx, "latest", "missing"))

	aliases, err = b.FindAliases(ctx, "latest", 0)
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, model.Locator("one#a"), aliases[0].Target)

	t.Run("missing blob", func(t *testing.T) {
		err := b.AddAlias(ctx, "latest", "missing", 1, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlobNotFound))
	})

	t.Run("collected blobs take their aliases along", func(t *testing.T) {
		ts.clock.Advance(13 * time.Hour)
		require.NoError(t, ts.TickBlobs(ctx))
		ts.sweep(t, "ns")

		assert.False(t, ts.blobExists(t, "ns", "one"))

		aliases, err := b.FindAliases(ctx, "latest", 0)
		require.NoError(t, err)
		assert.Empty(t, aliases)
	})
}
