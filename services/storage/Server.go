// Package storage implements the namespaced blob and ref store: blob, alias and ref operations
// on top of the configured object stores, and the background pipelines that ingest new blobs,
// expire refs, garbage collect unreachable blobs and backfill blob lengths.
package storage

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	"github.com/bsv-blockchain/blobstore/stores/checkset"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/bsv-blockchain/blobstore/stores/meta"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util/health"
	"github.com/bsv-blockchain/go-batcher"
	txmap "github.com/bsv-blockchain/go-tx-map"
	"github.com/looplab/fsm"
	"go.uber.org/atomic"
)

type Server struct {
	logger          ulogger.Logger
	settings        *settings.Settings
	config          settings.StorageConfigSource
	metaStore       meta.Store
	checkSet        checkset.Store
	locker          lock.Locker
	resolver        *Resolver
	refs            *refCache
	gcState         *meta.StateDocument[model.GcState]
	lengthScanState *meta.StateDocument[model.LengthScanState]
	now             func() time.Time
	storeFactory    StoreFactory

	gcMachinesMu sync.Mutex
	gcMachines   map[string]*fsm.FSM

	// gcCheckBatcher is nil when GcCheckBatchSize is 0
	gcCheckBatcher batcherIfc[gcCheckItem]

	sweeps   *txmap.SyncedMap[uint64, context.CancelFunc]
	sweepSeq *atomic.Uint64

	unsubscribe func()
	cancel      context.CancelFunc
	tickers     sync.WaitGroup
}

type Option func(*Server)

// WithClock replaces the wall clock used for ids, ref expiry and gc scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithStoreFactory replaces blob.NewStore when opening backends.
func WithStoreFactory(factory StoreFactory) Option {
	return func(s *Server) {
		s.storeFactory = factory
	}
}

func New(
	logger ulogger.Logger,
	tSettings *settings.Settings,
	config settings.StorageConfigSource,
	metaStore meta.Store,
	checkSet checkset.Store,
	locker lock.Locker,
	opts ...Option,
) *Server {
	initPrometheusMetrics()

	s := &Server{
		logger:          logger,
		settings:        tSettings,
		config:          config,
		metaStore:       metaStore,
		checkSet:        checkSet,
		locker:          locker,
		refs:            newRefCache(tSettings.Storage.RefCacheTTL, tSettings.Storage.RefCacheCapacity),
		gcState:         meta.NewStateDocument[model.GcState](metaStore, meta.GcStateKey),
		lengthScanState: meta.NewStateDocument[model.LengthScanState](metaStore, meta.LengthScanStateKey),
		now:             time.Now,
		storeFactory:    blob.NewStore,
		gcMachines:      make(map[string]*fsm.FSM),
		sweeps:          txmap.NewSyncedMap[uint64, context.CancelFunc](),
		sweepSeq:        atomic.NewUint64(0),
	}

	for _, opt := range opts {
		opt(s)
	}

	if batchSize := tSettings.Storage.GcCheckBatchSize; batchSize > 0 {
		s.gcCheckBatcher = batcher.New[gcCheckItem](batchSize, tSettings.Storage.GcCheckBatchDuration, s.sendGcCheckBatch, true)
	}

	s.resolver = newResolver(s, s.storeFactory)

	return s
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := []health.Check{
		{Name: "MetaStore", Check: s.metaStore.Health},
		{Name: "CheckSet", Check: s.checkSet.Health},
		{Name: "Lock", Check: s.locker.Health},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}

// Init resolves the configured namespaces and subscribes to configuration changes.
func (s *Server) Init(ctx context.Context) error {
	namespaces, err := s.resolver.Namespaces(ctx)
	if err != nil {
		return err
	}

	s.logger.Infof("[Storage] %d namespaces configured: %s", len(namespaces), strings.Join(namespaces, ", "))

	s.unsubscribe = s.config.Subscribe(s.onConfigChange)

	return nil
}

// Start runs the background tickers and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.refs.start()

	cfg := s.settings.Storage

	tickers := []struct {
		name     string
		interval time.Duration
		shared   bool
		fn       func(context.Context) error
	}{
		{tickerBlobs, cfg.BlobTickInterval, true, s.TickBlobs},
		{tickerRefs, cfg.RefTickInterval, true, s.TickRefs},
		{tickerGc, cfg.GcTickInterval, false, s.TickGc},
		{tickerLengthScan, cfg.LengthScanTickInterval, true, s.TickLengthScan},
	}

	for _, t := range tickers {
		s.tickers.Add(1)

		go func() {
			defer s.tickers.Done()
			s.runTicker(ctx, t.name, t.interval, t.shared, t.fn)
		}()
	}

	s.logger.Infof("[Storage] started")

	<-ctx.Done()

	return nil
}

// Stop cancels the tickers and waits for the running ticks to return.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	done := make(chan struct{})

	go func() {
		s.tickers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.NewContextCanceledError("[Storage] timed out waiting for tickers", ctx.Err())
	}

	s.refs.stop()

	return s.resolver.Close(ctx)
}

func (s *Server) onConfigChange(cfg *settings.StorageConfig) {
	s.logger.Infof("[Storage] storage configuration changed to revision %s, canceling running sweeps", cfg.Revision)
	s.cancelSweeps()
}

// Backend returns the storage of a namespace, errors.ErrNamespaceNotFound if it is not configured.
func (s *Server) Backend(ctx context.Context, namespaceID string) (*Backend, error) {
	return s.resolver.Get(ctx, namespaceID)
}

// RequestGcReset makes the next ingestion tick start again from the first blob and forget when
// namespaces were last swept.
func (s *Server) RequestGcReset(ctx context.Context) error {
	_, err := s.gcState.Update(ctx, func(st *model.GcState) error {
		st.Reset = true
		return nil
	})

	return err
}

// RequestLengthScanReset makes the next length scan start again from the first blob.
func (s *Server) RequestLengthScanReset(ctx context.Context) error {
	_, err := s.lengthScanState.Update(ctx, func(st *model.LengthScanState) error {
		st.Reset = true
		return nil
	})

	return err
}

type NamespaceStats struct {
	ID             string
	CheckSetLength int64
	LastGcTime     time.Time
	GcStatus       string
}

type Stats struct {
	Revision         string
	LastImportBlobID model.BlobID
	LastLengthBlobID model.BlobID
	GcResetPending   bool
	LengthScanReset  bool
	RefCacheEntries  int
	Namespaces       []NamespaceStats
}

// GetStats reports the pipeline watermarks and the pending checks of every configured namespace.
func (s *Server) GetStats(ctx context.Context) (*Stats, error) {
	cfg := s.config.Current()

	gcState, _, err := s.gcState.Get(ctx)
	if err != nil {
		return nil, err
	}

	lengthState, _, err := s.lengthScanState.Get(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Revision:         cfg.Revision,
		LastImportBlobID: gcState.LastImportBlobID,
		LastLengthBlobID: lengthState.LastBlobID,
		GcResetPending:   gcState.Reset,
		LengthScanReset:  lengthState.Reset,
		RefCacheEntries:  s.refs.count(),
		Namespaces:       make([]NamespaceStats, 0, len(cfg.Namespaces)),
	}

	for _, ns := range cfg.Namespaces {
		length, err := s.checkSet.Len(ctx, ns.ID)
		if err != nil {
			return nil, err
		}

		nsStats := NamespaceStats{
			ID:             ns.ID,
			CheckSetLength: length,
			GcStatus:       s.GcStatus(ns.ID),
		}

		if nsState := gcState.FindNamespace(ns.ID); nsState != nil {
			nsStats.LastGcTime = nsState.LastTime
		}

		stats.Namespaces = append(stats.Namespaces, nsStats)
	}

	return stats, nil
}
