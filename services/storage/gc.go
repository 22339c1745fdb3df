package storage

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/checkset"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/bsv-blockchain/blobstore/tracing"
	"github.com/bsv-blockchain/blobstore/util/retry"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/dolthub/swiss"
	"github.com/ordishs/gocore"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Scores are minutes since the epoch shifted left, leaving the low bits for a counter so every
// score handed out inside a minute is distinct. The result stays exact in a float64.
const gcScoreShift = 20

// gcScore clamps times before 1970 to zero.
func gcScore(t time.Time) float64 {
	minutes, err := safeconversion.Int64ToUint64(t.Unix() / 60)
	if err != nil {
		return 0
	}

	return float64(minutes << gcScoreShift)
}

// unreferencedScore scores a blob that just lost a reference. The random low bits keep a
// concurrent sweep that read the previous score from removing the new entry.
func (s *Server) unreferencedScore() float64 {
	return gcScore(s.now()) + float64(rand.Uint64N(1<<gcScoreShift)) //nolint:gosec // not used for security
}

// addGcCheckRecord queues a blob that may have become unreachable. Blobs newer than the ingestion
// watermark are skipped, ingestion queues them once they pass the grace period.
// Failures are logged, the caller's operation has already succeeded.
func (s *Server) addGcCheckRecord(ctx context.Context, namespaceID string, id model.BlobID) {
	if id.IsZero() {
		return
	}

	state, _, err := s.gcState.Get(ctx)
	if err != nil {
		s.logger.Warnf("[Storage][%s] unable to read gc state to queue blob %s: %v", namespaceID, id, err)
		return
	}

	if state.LastImportBlobID.Less(id) {
		return
	}

	entry := checkset.Entry{ID: id, Score: s.unreferencedScore()}

	if s.gcCheckBatcher == nil {
		err = s.checkSet.Add(ctx, namespaceID, entry)
	} else {
		errCh := make(chan error, 1)

		s.gcCheckBatcher.Put(&gcCheckItem{namespaceID: namespaceID, entry: entry, errCh: errCh})

		select {
		case err = <-errCh:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	if err != nil {
		s.logger.Warnf("[Storage][%s] unable to queue blob %s for gc: %v", namespaceID, id, err)
	}
}

type batcherIfc[T any] interface {
	Put(item *T, payloadSize ...int)
	Trigger()
}

type gcCheckItem struct {
	namespaceID string
	entry       checkset.Entry
	errCh       chan error
}

// sendGcCheckBatch adds the batched entries with one check-set call per namespace and answers
// every item with the result of its namespace.
func (s *Server) sendGcCheckBatch(batch []*gcCheckItem) {
	if len(batch) == 0 {
		return
	}

	order := make([]string, 0, 1)
	byNamespace := make(map[string][]*gcCheckItem)

	for _, item := range batch {
		if _, ok := byNamespace[item.namespaceID]; !ok {
			order = append(order, item.namespaceID)
		}

		byNamespace[item.namespaceID] = append(byNamespace[item.namespaceID], item)
	}

	for _, namespaceID := range order {
		items := byNamespace[namespaceID]

		entries := make([]checkset.Entry, 0, len(items))
		for _, item := range items {
			entries = append(entries, item.entry)
		}

		err := s.checkSet.Add(context.Background(), namespaceID, entries...)

		prometheusStorageGcCheckBatch.WithLabelValues(namespaceID).Observe(float64(len(entries)))

		for _, item := range items {
			item.errCh <- err
		}
	}
}

// TickBlobs queues every blob older than the ingestion grace period for its first reachability check.
func (s *Server) TickBlobs(ctx context.Context) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:TickBlobs")
	defer deferFn()

	cfg := s.settings.Storage

	for {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[TickBlobs] canceled", err)
		}

		state, version, err := s.gcState.Get(ctx)
		if err != nil {
			return err
		}

		if state.Reset {
			state.DoReset()

			if _, err = s.gcState.TryUpdate(ctx, state, version); err != nil {
				return err
			}

			s.logger.Infof("[Storage] gc state reset, ingestion restarts from the first blob")

			continue
		}

		latest := model.BlobIDFromTime(s.now().Add(-cfg.GcIngestGracePeriod))

		blobs, err := s.metaStore.FindBlobsInRange(ctx, state.LastImportBlobID, latest, cfg.GcIngestBatchSize)
		if err != nil {
			return err
		}

		if len(blobs) == 0 {
			return nil
		}

		if err = s.waitForCheckSets(ctx, blobs); err != nil {
			return err
		}

		score := gcScore(s.now())
		entries := make(map[string][]checkset.Entry)

		for _, info := range blobs {
			entries[info.NamespaceID] = append(entries[info.NamespaceID], checkset.Entry{ID: info.ID, Score: score})
		}

		for namespaceID, nsEntries := range entries {
			if err = s.checkSet.AddNX(ctx, namespaceID, nsEntries...); err != nil {
				return err
			}
		}

		last := blobs[len(blobs)-1].ID

		if _, err = s.gcState.Update(ctx, func(st *model.GcState) error {
			if !st.Reset && st.LastImportBlobID.Less(last) {
				st.LastImportBlobID = last
			}

			return nil
		}); err != nil {
			return err
		}

		prometheusStorageBlobsIngested.Add(float64(len(blobs)))

		s.logger.Debugf("[Storage] queued %d blobs for gc, watermark %s", len(blobs), last)
	}
}

// waitForCheckSets pauses ingestion while a configured namespace in the batch has more pending
// checks than allowed, backing off exponentially.
func (s *Server) waitForCheckSets(ctx context.Context, blobs []*model.BlobInfo) error {
	cfg := s.settings.Storage
	if cfg.GcMaxCheckSetLength <= 0 {
		return nil
	}

	storageConfig := s.config.Current()
	namespaces := make(map[string]struct{})

	for _, info := range blobs {
		if _, ok := storageConfig.FindNamespace(info.NamespaceID); ok {
			namespaces[info.NamespaceID] = struct{}{}
		}
	}

	backoff := time.Second

	for namespaceID := range namespaces {
		for {
			length, err := s.checkSet.Len(ctx, namespaceID)
			if err != nil {
				return err
			}

			prometheusStorageCheckSetLength.WithLabelValues(namespaceID).Set(float64(length))

			if length <= cfg.GcMaxCheckSetLength {
				break
			}

			prometheusStorageIngestPaused.Inc()

			s.logger.Infof("[Storage][%s] check-set has %d entries, pausing ingestion for %s", namespaceID, length, backoff)

			if err = retry.Sleep(ctx, backoff); err != nil {
				return errors.NewContextCanceledError("[TickBlobs] canceled while waiting for %s", namespaceID, err)
			}

			backoff = retry.CappedExponentialBackoff(backoff, 2, cfg.GcIngestMaxBackoff)
		}
	}

	return nil
}

// syncNamespaceList makes the namespaces of the gc state match the configured namespaces.
func (s *Server) syncNamespaceList(ctx context.Context, cfg *settings.StorageConfig) (*model.GcState, error) {
	state, _, err := s.gcState.Get(ctx)
	if err != nil {
		return nil, err
	}

	if namespaceListMatches(state, cfg) {
		return state, nil
	}

	return s.gcState.Update(ctx, func(st *model.GcState) error {
		namespaces := make([]model.GcNamespaceState, 0, len(cfg.Namespaces))

		for _, ns := range cfg.Namespaces {
			if existing := st.FindNamespace(ns.ID); existing != nil {
				namespaces = append(namespaces, *existing)
			} else {
				namespaces = append(namespaces, model.GcNamespaceState{ID: ns.ID})
			}
		}

		st.Namespaces = namespaces

		return nil
	})
}

func namespaceListMatches(state *model.GcState, cfg *settings.StorageConfig) bool {
	if len(state.Namespaces) != len(cfg.Namespaces) {
		return false
	}

	for _, ns := range cfg.Namespaces {
		if state.FindNamespace(ns.ID) == nil {
			return false
		}
	}

	return true
}

type dueNamespace struct {
	config settings.NamespaceConfig
	due    time.Time
}

// dueNamespaces returns the namespaces whose last sweep is older than their frequency, most overdue first.
func (s *Server) dueNamespaces(cfg *settings.StorageConfig, state *model.GcState, now time.Time, ran map[string]struct{}) []dueNamespace {
	var pending []dueNamespace

	for _, ns := range cfg.Namespaces {
		if _, ok := ran[ns.ID]; ok {
			continue
		}

		frequency := ns.GcFrequency
		if frequency <= 0 {
			frequency = s.settings.Storage.GcDefaultFrequency
		}

		var lastTime time.Time
		if nsState := state.FindNamespace(ns.ID); nsState != nil {
			lastTime = nsState.LastTime
		}

		due := lastTime.Add(frequency)
		if due.Before(now) {
			pending = append(pending, dueNamespace{config: ns, due: due})
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].due.Before(pending[j].due)
	})

	return pending
}

// TickGc sweeps every namespace that is due, one at a time, on whichever instance gets its lease first.
func (s *Server) TickGc(ctx context.Context) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:TickGc")
	defer deferFn()

	ran := make(map[string]struct{})

	for {
		cfg := s.config.Current()
		if !cfg.EnableGc && !cfg.EnableGcVerification {
			return nil
		}

		state, err := s.syncNamespaceList(ctx, cfg)
		if err != nil {
			return err
		}

		pending := s.dueNamespaces(cfg, state, s.now(), ran)
		if len(pending) == 0 {
			return nil
		}

		swept := false

		for _, ns := range pending {
			ran[ns.config.ID] = struct{}{}

			ok, err := s.tryGcNamespace(ctx, ns.config)
			if err != nil {
				if errors.IsCanceled(err) {
					s.logger.Infof("[Storage][%s] gc sweep canceled", ns.config.ID)

					if ctx.Err() != nil {
						return nil
					}
				} else {
					s.logger.Errorf("[Storage][%s] gc sweep failed: %v", ns.config.ID, err)
				}
			}

			if ok {
				swept = true
				break
			}
		}

		if !swept {
			return nil
		}
	}
}

// tryGcNamespace sweeps a namespace if this instance gets its lease. It returns false when
// another instance holds the lease.
func (s *Server) tryGcNamespace(ctx context.Context, ns settings.NamespaceConfig) (bool, error) {
	s.gcTransition(ctx, ns.ID, GcEventSchedule)
	defer s.gcTransition(ctx, ns.ID, GcEventFinish)

	lease, acquired, err := s.locker.TryAcquire(ctx, lock.NamespaceKey(ns.ID), s.settings.Storage.GcLockTimeout)
	if err != nil {
		return false, err
	}

	if !acquired {
		prometheusStorageGcLockContention.WithLabelValues(ns.ID).Inc()
		s.logger.Debugf("[Storage][%s] gc lease held by another instance", ns.ID)

		return false, nil
	}

	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warnf("[Storage][%s] failed to release gc lease: %v", ns.ID, err)
		}
	}()

	s.gcTransition(ctx, ns.ID, GcEventLock)

	return true, s.TickGcForNamespace(ctx, ns, lease)
}

// TickGcForNamespace drains the check-set of a namespace. The caller holds lease, which is kept
// alive for the duration of the sweep. A configuration change cancels the sweep.
func (s *Server) TickGcForNamespace(ctx context.Context, ns settings.NamespaceConfig, lease lock.Lease) error {
	start := time.Now()

	ctx, stat, deferFn := tracing.StartTracing(ctx, "storage:TickGcForNamespace",
		tracing.WithTag("namespace", ns.ID),
	)
	defer deferFn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unregister := s.registerSweep(cancel)
	defer unregister()

	cfg := s.config.Current()

	backend, err := s.resolver.Get(ctx, ns.ID)
	if err != nil {
		return err
	}

	state, _, err := s.gcState.Get(ctx)
	if err != nil {
		return err
	}

	s.gcTransition(ctx, ns.ID, GcEventSweep)

	sweep := &gcSweep{
		server:    s,
		backend:   backend,
		enableGc:  cfg.EnableGc,
		watermark: state.LastImportBlobID,
		baseScore: gcScore(s.now()),
		counter:   atomic.NewUint64(0),
		inFlight:  atomic.NewInt64(0),
		checked:   atomic.NewInt64(0),
		removed:   atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		latch:     make(chan struct{}, 1),
		stat:      stat,
	}

	if cfg.EnableGc {
		s.logger.Infof("[Storage][%s] running garbage collection", ns.ID)
	} else {
		s.logger.Infof("[Storage][%s] running garbage collection in verification mode", ns.ID)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.keepLeaseAlive(gCtx, lease, s.settings.Storage.GcLockTimeout, cancel)
	})

	sweepErr := sweep.run(gCtx)

	cancel()

	if err = g.Wait(); err != nil && !errors.IsCanceled(err) && sweepErr == nil {
		sweepErr = err
	}

	prometheusStorageGcSweep.WithLabelValues(ns.ID).Observe(time.Since(start).Seconds())

	if sweepErr != nil {
		return sweepErr
	}

	now := s.now()

	if _, err = s.gcState.Update(context.WithoutCancel(ctx), func(st *model.GcState) error {
		st.FindOrAddNamespace(ns.ID).LastTime = now
		return nil
	}); err != nil {
		return err
	}

	s.logger.Infof("[Storage][%s] garbage collection complete: %d checked, %d removed, %d failed (%s)",
		ns.ID, sweep.checked.Load(), sweep.removed.Load(), sweep.failed.Load(), time.Since(start))

	return nil
}

// keepLeaseAlive extends the lease at a third of its timeout until ctx is done, and calls cancel
// if the lease is lost.
func (s *Server) keepLeaseAlive(ctx context.Context, lease lock.Lease, timeout time.Duration, cancel context.CancelFunc) error {
	if timeout <= 0 {
		return nil
	}

	ticker := time.NewTicker(timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Extend(ctx, timeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				s.logger.Warnf("[Storage] lost lease %s, stopping: %v", lease.Name(), err)
				cancel()

				return nil
			}
		}
	}
}

// registerSweep makes a configuration change cancel the sweep.
func (s *Server) registerSweep(cancel context.CancelFunc) func() {
	id := s.sweepSeq.Inc()
	s.sweeps.Set(id, cancel)

	return func() {
		s.sweeps.Delete(id)
	}
}

func (s *Server) cancelSweeps() {
	for _, cancel := range s.sweeps.Range() {
		cancel()
	}
}

// gcSweep is one pass over the check-set of a namespace.
type gcSweep struct {
	server    *Server
	backend   *Backend
	enableGc  bool
	watermark model.BlobID
	baseScore float64
	counter   *atomic.Uint64
	inFlight  *atomic.Int64
	checked   *atomic.Int64
	removed   *atomic.Int64
	failed    *atomic.Int64
	latch     chan struct{}
	// stat collects the timings of the checks under the sweep
	stat *gocore.Stat
}

// nextScore returns a score above every score this sweep handed out before.
func (w *gcSweep) nextScore() float64 {
	return w.baseScore + float64(w.counter.Inc())
}

func (w *gcSweep) namespaceID() string {
	return w.backend.NamespaceID()
}

func (w *gcSweep) run(ctx context.Context) error {
	cfg := w.server.settings.Storage
	queue := make(chan checkset.Entry, cfg.GcQueueSize)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		return w.produce(gCtx, queue)
	})

	for i := 0; i < cfg.GcWorkers; i++ {
		g.Go(func() error {
			for entry := range queue {
				if gCtx.Err() == nil {
					w.check(gCtx, entry)
				}

				w.inFlight.Dec()

				select {
				case w.latch <- struct{}{}:
				default:
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return errors.NewContextCanceledError("[%s] gc sweep canceled", w.namespaceID(), err)
		}

		return err
	}

	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("[%s] gc sweep canceled", w.namespaceID(), err)
	}

	return nil
}

// produce feeds the lowest scored entries of the check-set to the workers until it is empty.
// Entries still carrying the score they were queued with in the previous poll are in flight or
// failed and are not queued again. A poll without new entries after the workers went idle ends
// the sweep, failed entries stay in the check-set for the next one.
func (w *gcSweep) produce(ctx context.Context, queue chan<- checkset.Entry) error {
	batchSize := w.server.settings.Storage.GcProducerBatchSize

	capacity, err := safeconversion.IntToUint32(batchSize)
	if err != nil {
		return errors.NewConfigurationError("[%s] invalid gc producer batch size %d", w.namespaceID(), batchSize, err)
	}

	queued := swiss.NewMap[model.BlobID, float64](capacity)

	for {
		entries, err := w.server.checkSet.Range(ctx, w.namespaceID(), batchSize)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			return nil
		}

		polledCapacity, err := safeconversion.IntToUint32(len(entries))
		if err != nil {
			return err
		}

		polled := swiss.NewMap[model.BlobID, float64](polledCapacity)
		added := 0

		for _, entry := range entries {
			polled.Put(entry.ID, entry.Score)

			if score, ok := queued.Get(entry.ID); ok && score == entry.Score {
				continue
			}

			w.inFlight.Inc()
			added++

			select {
			case queue <- entry:
			case <-ctx.Done():
				w.inFlight.Dec()
				return ctx.Err()
			}
		}

		queued = polled

		if added == 0 && w.inFlight.Load() == 0 {
			return nil
		}

		// wait for a worker to finish before polling again
		select {
		case <-w.latch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// check tests one candidate. Failures are logged and leave the entry for a later sweep.
func (w *gcSweep) check(ctx context.Context, entry checkset.Entry) {
	if err := w.checkEntry(ctx, entry); err != nil {
		if errors.IsCanceled(err) || ctx.Err() != nil {
			return
		}

		w.failed.Inc()
		prometheusStorageGcErrors.WithLabelValues(w.namespaceID()).Inc()

		w.server.logger.Warnf("[Storage][%s] gc check of blob %s failed: %v", w.namespaceID(), entry.ID, err)
	}
}

func (w *gcSweep) checkEntry(ctx context.Context, entry checkset.Entry) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:GcCheck", tracing.WithParentStat(w.stat))
	defer deferFn()

	s := w.server
	ns := w.namespaceID()

	info, err := s.metaStore.GetBlobByID(ctx, entry.ID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	if info != nil && info.NamespaceID == ns {
		w.checked.Inc()
		prometheusStorageGcChecked.WithLabelValues(ns).Inc()

		if w.enableGc {
			err = w.collect(ctx, info)
		} else {
			err = w.verify(ctx, info)
		}

		if err != nil {
			return err
		}
	}

	if _, err = s.checkSet.CompareAndRemove(ctx, ns, entry.ID, entry.Score); err != nil {
		return err
	}

	return nil
}

// collect deletes an unreferenced blob, its object and queues its imports.
func (w *gcSweep) collect(ctx context.Context, info *model.BlobInfo) error {
	s := w.server

	deleted, err := s.metaStore.DeleteBlobIfUnreferenced(ctx, info.ID)
	if err != nil || !deleted {
		return err
	}

	s.logger.Debugf("[Storage][%s] deleting blob %s at %s (%d imports)", info.NamespaceID, info.ID, info.Path, len(info.Imports))

	if err = w.requeueImports(ctx, info); err != nil {
		s.logger.Warnf("[Storage][%s] failed to queue imports of blob %s: %v", info.NamespaceID, info.ID, err)
	}

	if err = w.backend.store.Del(ctx, objectKey(model.Locator(info.Path)), objectOptions()...); err != nil {
		s.logger.Warnf("[Storage][%s] unable to delete object %s of blob %s: %v", info.NamespaceID, info.Path, info.ID, err)
	}

	w.removed.Inc()
	prometheusStorageGcRemoved.WithLabelValues(info.NamespaceID).Inc()

	return nil
}

// verify stamps an unreferenced blob instead of deleting it.
func (w *gcSweep) verify(ctx context.Context, info *model.BlobInfo) error {
	s := w.server

	if info.GcVersion >= model.CurrentGcVersion {
		return nil
	}

	referenced, err := s.metaStore.IsBlobReferenced(ctx, info.ID)
	if err != nil || referenced {
		return err
	}

	if err = s.metaStore.SetBlobGcVersion(ctx, info.ID, model.CurrentGcVersion); err != nil {
		return err
	}

	s.logger.Debugf("[Storage][%s] blob %s at %s is unreferenced (verification only)", info.NamespaceID, info.ID, info.Path)

	if err = w.requeueImports(ctx, info); err != nil {
		s.logger.Warnf("[Storage][%s] failed to queue imports of blob %s: %v", info.NamespaceID, info.ID, err)
	}

	w.removed.Inc()
	prometheusStorageGcRemoved.WithLabelValues(info.NamespaceID).Inc()

	return nil
}

// requeueImports queues the imports ingestion has already seen, newer ones are queued by ingestion.
func (w *gcSweep) requeueImports(ctx context.Context, info *model.BlobInfo) error {
	entries := make([]checkset.Entry, 0, len(info.Imports))

	for _, id := range info.Imports {
		if !w.watermark.Less(id) {
			entries = append(entries, checkset.Entry{ID: id, Score: w.nextScore()})
		}
	}

	if len(entries) == 0 {
		return nil
	}

	return w.server.checkSet.Add(ctx, info.NamespaceID, entries...)
}
