package storage

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

func chainedStorageConfig() *settings.StorageConfig {
	return &settings.StorageConfig{
		Revision: "r1",
		EnableGc: true,
		Backends: []settings.BackendConfig{
			{ID: "hot", URL: "memory:///hot", Secondary: "cold"},
			{ID: "cold", URL: "memory:///cold"},
			{ID: "broken", URL: "memory:///broken"},
		},
		Namespaces: []settings.NamespaceConfig{
			{ID: "tenant", Backend: "hot", Prefix: "tenant"},
			{ID: "archive", Backend: "cold"},
			{ID: "unavailable", Backend: "broken"},
			{ID: "undefined", Backend: "missing"},
		},
	}
}

func TestNamespaceBackendSpec(t *testing.T) {
	cfg := chainedStorageConfig()

	ns, ok := cfg.FindNamespace("tenant")
	require.True(t, ok)

	spec, err := NamespaceBackendSpec(cfg, ns)
	require.NoError(t, err)

	assert.Equal(t, PrefixedBackend{
		Prefix: "tenant",
		Inner: ChainedBackend{
			Primary:   DirectBackend{ID: "hot", URL: mustParseURL(t, "memory:///hot")},
			Secondary: DirectBackend{ID: "cold", URL: mustParseURL(t, "memory:///cold")},
		},
	}, spec)

	ns, ok = cfg.FindNamespace("archive")
	require.True(t, ok)

	spec, err = NamespaceBackendSpec(cfg, ns)
	require.NoError(t, err)
	assert.Equal(t, DirectBackend{ID: "cold", URL: mustParseURL(t, "memory:///cold")}, spec)

	t.Run("undefined backend", func(t *testing.T) {
		ns, ok := cfg.FindNamespace("undefined")
		require.True(t, ok)

		_, err := NamespaceBackendSpec(cfg, ns)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})

	t.Run("secondary cycle", func(t *testing.T) {
		cyclic := &settings.StorageConfig{
			Backends: []settings.BackendConfig{
				{ID: "a", URL: "memory:///a", Secondary: "b"},
				{ID: "b", URL: "memory:///b", Secondary: "a"},
			},
		}

		_, err := NamespaceBackendSpec(cyclic, &settings.NamespaceConfig{ID: "ns", Backend: "a"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	cfg := chainedStorageConfig()

	// unresolvable namespaces are logged as errors
	log := ulogger.NewErrorTestLogger(t)
	log.AllowErrors(true)

	ts := newTestServerWithLogger(t, cfg, log)
	ts.stores.failOn["/moved"] = true

	// a backend whose url changed is opened again, and fails
	next := chainedStorageConfig()
	next.Revision = "r2"
	next.Backends[2].URL = "memory:///moved"
	ts.config.Update(next)

	namespaces, err := ts.resolver.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant", "archive"}, namespaces)

	for _, id := range []string{"unavailable", "undefined", "nope"} {
		_, err := ts.Backend(ctx, id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, errors.ErrNamespaceNotFound), id)
	}

	t.Run("prefix", func(t *testing.T) {
		ts.writeBlob(t, "tenant", "doc")

		assert.Equal(t, []string{"tenant/doc.blob"}, ts.stores.get("/hot").Keys())
		assert.Empty(t, ts.stores.get("/cold").Keys())
	})

	t.Run("secondary serves reads the primary misses", func(t *testing.T) {
		require.NoError(t, ts.stores.get("/cold").Set(ctx, []byte("tenant/migrated"), []byte("old data"), objectOptions()...))

		require.NoError(t, ts.meta.AddBlob(ctx, &model.BlobInfo{
			ID:          model.NewBlobID(ts.clock.Now()),
			NamespaceID: "tenant",
			Path:        "migrated",
		}))

		data, err := ts.backend(t, "tenant").ReadBlob(ctx, "migrated", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("old data"), data)
	})

	t.Run("namespaces on one backend share its store", func(t *testing.T) {
		tenant := ts.backend(t, "tenant")
		archive := ts.backend(t, "archive")

		assert.NotSame(t, tenant, archive)
		assert.Same(t, ts.stores.get("/cold"), archive.store)
	})
}

func TestResolverRebuildsOnRevisionChange(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())

	first := ts.backend(t, "ns")
	assert.Same(t, first, ts.backend(t, "ns"))

	_, err := ts.Backend(ctx, "added")
	require.True(t, errors.IsNotFound(err))

	next := testStorageConfig()
	next.Revision = "r2"
	next.Namespaces = append(next.Namespaces, settings.NamespaceConfig{ID: "added", Backend: "primary", Prefix: "added"})
	ts.config.Update(next)

	second := ts.backend(t, "ns")
	assert.NotSame(t, first, second)

	added := ts.backend(t, "added")
	assert.Equal(t, "added", added.NamespaceID())

	// the object store outlives the rebuild
	ts.writeBlob(t, "ns", "kept")

	data, err := first.ReadBlob(ctx, "kept", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("data of kept"), data)

	t.Run("verification follows the configuration", func(t *testing.T) {
		assert.False(t, second.verification)

		next := testStorageConfig()
		next.Revision = "r3"
		next.EnableGcVerification = true
		ts.config.Update(next)

		assert.True(t, ts.backend(t, "ns").verification)
	})
}

// storeTracker opens real stores and records opens and closes per url.
type storeTracker struct {
	mu     sync.Mutex
	opened map[string]int
	closed map[string]int
}

type trackedStore struct {
	blob.Store
	tracker *storeTracker
	url     string
}

func (s *trackedStore) Close(ctx context.Context) error {
	s.tracker.mu.Lock()
	s.tracker.closed[s.url]++
	s.tracker.mu.Unlock()

	return s.Store.Close(ctx)
}

func (tr *storeTracker) factory(ctx context.Context, logger ulogger.Logger, storeURL *url.URL, opts ...options.StoreOption) (blob.Store, error) {
	store, err := blob.NewStore(ctx, logger, storeURL, opts...)
	if err != nil {
		return nil, err
	}

	tr.mu.Lock()
	tr.opened[storeURL.String()]++
	tr.mu.Unlock()

	return &trackedStore{Store: store, tracker: tr, url: storeURL.String()}, nil
}

func (tr *storeTracker) counts(storeURL string) (int, int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return tr.opened[storeURL], tr.closed[storeURL]
}

func TestResolverCarriesStoresAcrossRebuilds(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())

	tracker := &storeTracker{opened: map[string]int{}, closed: map[string]int{}}
	ts.resolver.factory = tracker.factory

	update := func(revision string, change func(*settings.StorageConfig)) {
		cfg := testStorageConfig()
		cfg.Revision = revision
		cfg.Backends = []settings.BackendConfig{
			{ID: "primary", URL: "memory:///tracked"},
			{ID: "spare", URL: "memory:///spare"},
		}
		cfg.Namespaces = append(cfg.Namespaces, settings.NamespaceConfig{ID: "other", Backend: "spare"})

		if change != nil {
			change(cfg)
		}

		ts.config.Update(cfg)

		_, err := ts.Backend(ctx, "ns")
		require.NoError(t, err)
	}

	update("r2", nil)

	// memory:// stores start empty every time they are opened
	ts.writeBlob(t, "ns", "kept")

	t.Run("unchanged backends keep their data", func(t *testing.T) {
		update("r3", nil)

		data, err := ts.backend(t, "ns").ReadBlob(ctx, "kept", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("data of kept"), data)

		opened, closed := tracker.counts("memory:///tracked")
		assert.Equal(t, 1, opened)
		assert.Zero(t, closed)
	})

	t.Run("dropped backends are closed", func(t *testing.T) {
		update("r4", func(c *settings.StorageConfig) {
			c.Backends = c.Backends[:1]
			c.Namespaces = c.Namespaces[:1]
		})

		_, closed := tracker.counts("memory:///spare")
		assert.Equal(t, 1, closed)

		_, closed = tracker.counts("memory:///tracked")
		assert.Zero(t, closed)
	})

	t.Run("a backend whose url changed is reopened", func(t *testing.T) {
		update("r5", func(c *settings.StorageConfig) {
			c.Backends = c.Backends[:1]
			c.Backends[0].URL = "memory:///relocated"
			c.Namespaces = c.Namespaces[:1]
		})

		opened, _ := tracker.counts("memory:///relocated")
		assert.Equal(t, 1, opened)

		_, closed := tracker.counts("memory:///tracked")
		assert.Equal(t, 1, closed)
	})

	require.NoError(t, ts.resolver.Close(ctx))

	_, closed := tracker.counts("memory:///relocated")
	assert.Equal(t, 1, closed)
}
