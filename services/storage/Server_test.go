package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	blobmemory "github.com/bsv-blockchain/blobstore/stores/blob/memory"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	csmemory "github.com/bsv-blockchain/blobstore/stores/checkset/memory"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	lockmemory "github.com/bsv-blockchain/blobstore/stores/lock/memory"
	"github.com/bsv-blockchain/blobstore/stores/meta/sql"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// memoryStores hands out one memory blob store per backend URL path, kept across namespace rebuilds.
type memoryStores struct {
	mu     sync.Mutex
	stores map[string]*blobmemory.Memory
	failOn map[string]bool
}

func (m *memoryStores) factory(_ context.Context, _ ulogger.Logger, storeURL *url.URL, _ ...options.StoreOption) (blob.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn[storeURL.Path] {
		return nil, fmt.Errorf("backend %s unavailable", storeURL.Path)
	}

	store, ok := m.stores[storeURL.Path]
	if !ok {
		store = blobmemory.New()
		m.stores[storeURL.Path] = store
	}

	return store, nil
}

func (m *memoryStores) get(path string) *blobmemory.Memory {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[path]
	if !ok {
		store = blobmemory.New()
		m.stores[path] = store
	}

	return store
}

type testServer struct {
	*Server
	log      *ulogger.ErrorTestLogger
	clock    *testClock
	config   *settings.StaticStorageConfig
	meta     *sql.SQL
	checkSet *csmemory.Memory
	locker   *lockmemory.Memory
	stores   *memoryStores
}

func testSettings(t *testing.T) *settings.Settings {
	return &settings.Settings{
		DataFolder: t.TempDir(),
		Storage: settings.StorageSettings{
			SharedTickerLockTTL:   time.Minute,
			GcLockTimeout:         20 * time.Minute,
			GcIngestGracePeriod:   12 * time.Hour,
			GcIngestBatchSize:     7,
			GcMaxCheckSetLength:   1000,
			GcIngestMaxBackoff:    time.Second,
			GcProducerBatchSize:   16,
			GcQueueSize:           4,
			GcWorkers:             4,
			GcDefaultFrequency:    24 * time.Hour,
			GcCheckBatchSize:      8,
			GcCheckBatchDuration:  time.Millisecond,
			RefExpiryBatchSize:    3,
			LengthScanGracePeriod: 30 * time.Minute,
			LengthScanBatchSize:   5,
			LengthScanQueueSize:   4,
			LengthScanWorkers:     2,
			RefCacheTTL:           5 * time.Minute,
			RefCacheCapacity:      1000,
		},
	}
}

func testStorageConfig() *settings.StorageConfig {
	return &settings.StorageConfig{
		Revision: "r1",
		EnableGc: true,
		Backends: []settings.BackendConfig{
			{ID: "primary", URL: "memory:///primary"},
		},
		Namespaces: []settings.NamespaceConfig{
			{ID: "ns", Backend: "primary"},
		},
	}
}

// newTestServer builds a server whose error logs fail the test.
func newTestServer(t *testing.T, cfg *settings.StorageConfig, tweak ...func(*settings.Settings)) *testServer {
	return newTestServerWithLogger(t, cfg, ulogger.NewErrorTestLogger(t), tweak...)
}

func newTestServerWithLogger(t *testing.T, cfg *settings.StorageConfig, log *ulogger.ErrorTestLogger, tweak ...func(*settings.Settings)) *testServer {
	t.Cleanup(log.Shutdown)

	tSettings := testSettings(t)
	for _, fn := range tweak {
		fn(tSettings)
	}

	storeURL, err := url.Parse("sqlitememory:///")
	require.NoError(t, err)

	metaStore, err := sql.New(log, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = metaStore.Close()
	})

	clock := &testClock{now: baseTime}

	ts := &testServer{
		log:      log,
		clock:    clock,
		config:   settings.NewStaticStorageConfig(cfg),
		meta:     metaStore,
		checkSet: csmemory.New(),
		locker:   lockmemory.NewWithClock(clock.Now),
		stores:   &memoryStores{stores: make(map[string]*blobmemory.Memory), failOn: make(map[string]bool)},
	}

	ts.Server = ts.newPeer(tSettings)

	require.NoError(t, ts.Init(context.Background()))

	t.Cleanup(func() {
		_ = ts.Stop(context.Background())
	})

	return ts
}

// newPeer creates another server instance sharing the stores of ts, as a second process would.
func (ts *testServer) newPeer(tSettings *settings.Settings) *Server {
	return New(ts.log, tSettings, ts.config, ts.meta, ts.checkSet, ts.locker,
		WithClock(ts.clock.Now),
		WithStoreFactory(ts.stores.factory),
	)
}

func (ts *testServer) backend(t *testing.T, namespaceID string) *Backend {
	b, err := ts.Backend(context.Background(), namespaceID)
	require.NoError(t, err)

	return b
}

func (ts *testServer) writeBlob(t *testing.T, namespaceID, path string, imports ...string) *model.BlobInfo {
	ctx := context.Background()

	locators := make([]model.Locator, 0, len(imports))
	for _, imp := range imports {
		locators = append(locators, model.Locator(imp))
	}

	require.NoError(t, ts.backend(t, namespaceID).WriteBlobBytes(ctx, model.Locator(path), locators, []byte("data of "+path)))

	info, err := ts.meta.GetBlob(ctx, namespaceID, path)
	require.NoError(t, err)

	return info
}

func (ts *testServer) blobExists(t *testing.T, namespaceID, path string) bool {
	_, err := ts.meta.GetBlob(context.Background(), namespaceID, path)
	if err == nil {
		return true
	}

	require.True(t, errors.IsNotFound(err), "unexpected error: %v", err)

	return false
}

// sweep runs one garbage collection pass over a namespace while holding its lease.
func (ts *testServer) sweep(t *testing.T, namespaceID string) {
	ctx := context.Background()

	ns, ok := ts.config.Current().FindNamespace(namespaceID)
	require.True(t, ok)

	lease, acquired, err := ts.locker.TryAcquire(ctx, lock.NamespaceKey(namespaceID), ts.settings.Storage.GcLockTimeout)
	require.NoError(t, err)
	require.True(t, acquired)

	defer func() {
		_ = lease.Release(ctx)
	}()

	require.NoError(t, ts.TickGcForNamespace(ctx, *ns, lease))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testStorageConfig())

	status, msg, err := ts.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", msg)

	status, msg, err = ts.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, msg, `"resource":"MetaStore"`)
	assert.Contains(t, msg, `"resource":"CheckSet"`)
	assert.Contains(t, msg, `"resource":"Lock"`)
}

func TestStartStop(t *testing.T) {
	ts := newTestServer(t, testStorageConfig())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- ts.Start(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the context was cancelled")
	}

	require.NoError(t, ts.Stop(context.Background()))
}

func TestGetStatsAndReset(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, testStorageConfig())

	ts.writeBlob(t, "ns", "a")
	last := ts.writeBlob(t, "ns", "b")

	ts.clock.Advance(13 * time.Hour)
	require.NoError(t, ts.TickBlobs(ctx))
	require.NoError(t, ts.TickLengthScan(ctx))

	stats, err := ts.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", stats.Revision)
	assert.Equal(t, last.ID, stats.LastImportBlobID)
	assert.Equal(t, last.ID, stats.LastLengthBlobID)
	assert.False(t, stats.GcResetPending)
	require.Len(t, stats.Namespaces, 1)
	assert.Equal(t, "ns", stats.Namespaces[0].ID)
	assert.Equal(t, int64(2), stats.Namespaces[0].CheckSetLength)
	assert.Equal(t, GcStateIdle, stats.Namespaces[0].GcStatus)
	assert.True(t, stats.Namespaces[0].LastGcTime.IsZero())

	require.NoError(t, ts.RequestGcReset(ctx))
	require.NoError(t, ts.RequestLengthScanReset(ctx))

	stats, err = ts.GetStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.GcResetPending)
	assert.True(t, stats.LengthScanReset)

	// the reset restarts ingestion from the first blob, which ends at the same watermark
	require.NoError(t, ts.TickBlobs(ctx))
	require.NoError(t, ts.TickLengthScan(ctx))

	stats, err = ts.GetStats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.GcResetPending)
	assert.False(t, stats.LengthScanReset)
	assert.Equal(t, last.ID, stats.LastImportBlobID)
	assert.Equal(t, last.ID, stats.LastLengthBlobID)
}
