package storage

import (
	"context"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/tracing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// TickLengthScan records the size of every blob older than the scan grace period that does not
// have one yet. The watermark is persisted after each batch.
func (s *Server) TickLengthScan(ctx context.Context) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:TickLengthScan")
	defer deferFn()

	cfg := s.settings.Storage

	var limiter *rate.Limiter

	if cfg.LengthScanRateLimit > 0 {
		burst := int(cfg.LengthScanRateLimit)
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.LengthScanRateLimit), burst)
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[TickLengthScan] canceled", err)
		}

		state, version, err := s.lengthScanState.Get(ctx)
		if err != nil {
			return err
		}

		if state.Reset {
			state.DoReset()

			if _, err = s.lengthScanState.TryUpdate(ctx, state, version); err != nil {
				return err
			}

			s.logger.Infof("[Storage] length scan state reset")

			continue
		}

		latest := model.BlobIDFromTime(s.now().Add(-cfg.LengthScanGracePeriod))

		blobs, err := s.metaStore.FindBlobsInRange(ctx, state.LastBlobID, latest, cfg.LengthScanBatchSize)
		if err != nil {
			return err
		}

		if len(blobs) == 0 {
			return nil
		}

		if err = s.scanLengths(ctx, blobs, limiter); err != nil {
			return err
		}

		last := blobs[len(blobs)-1].ID

		if _, err = s.lengthScanState.Update(ctx, func(st *model.LengthScanState) error {
			if !st.Reset && st.LastBlobID.Less(last) {
				st.LastBlobID = last
			}

			return nil
		}); err != nil {
			return err
		}
	}
}

func (s *Server) scanLengths(ctx context.Context, blobs []*model.BlobInfo, limiter *rate.Limiter) error {
	cfg := s.settings.Storage
	queue := make(chan *model.BlobInfo, cfg.LengthScanQueueSize)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)

		for _, info := range blobs {
			if info.Length > 0 {
				continue
			}

			select {
			case queue <- info:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}

		return nil
	})

	for i := 0; i < cfg.LengthScanWorkers; i++ {
		g.Go(func() error {
			for info := range queue {
				if limiter != nil {
					if err := limiter.Wait(gCtx); err != nil {
						return err
					}
				}

				s.scanLength(gCtx, info)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return errors.NewContextCanceledError("[TickLengthScan] canceled", err)
	}

	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("[TickLengthScan] canceled", err)
	}

	return nil
}

// scanLength reads the size of one blob from its object store. Failures are logged and skipped.
func (s *Server) scanLength(ctx context.Context, info *model.BlobInfo) {
	backend, err := s.resolver.Get(ctx, info.NamespaceID)
	if err != nil {
		s.logger.Debugf("[Storage][%s] skipping length of blob %s: %v", info.NamespaceID, info.ID, err)
		return
	}

	size, err := backend.store.GetSize(ctx, objectKey(model.Locator(info.Path)), objectOptions()...)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		prometheusStorageLengthScanErrors.Inc()

		if errors.IsNotFound(err) {
			s.logger.Debugf("[Storage][%s] object of blob %s at %s not found", info.NamespaceID, info.ID, info.Path)
		} else {
			s.logger.Warnf("[Storage][%s] unable to get length of blob %s at %s: %v", info.NamespaceID, info.ID, info.Path, err)
		}

		return
	}

	if err = s.metaStore.SetBlobLength(ctx, info.ID, size); err != nil {
		if ctx.Err() == nil {
			prometheusStorageLengthScanErrors.Inc()
			s.logger.Warnf("[Storage][%s] unable to set length of blob %s: %v", info.NamespaceID, info.ID, err)
		}

		return
	}

	prometheusStorageLengthsScanned.Inc()
}
