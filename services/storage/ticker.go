package storage

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"golang.org/x/sync/errgroup"
)

const (
	tickerBlobs      = "blobs"
	tickerRefs       = "refs"
	tickerGc         = "gc"
	tickerLengthScan = "length-scan"
)

// runTicker calls fn every interval until ctx is cancelled. Shared tickers run on one instance at a
// time, the others skip the tick while the ticker lease is held.
func (s *Server) runTicker(ctx context.Context, name string, interval time.Duration, shared bool, fn func(context.Context) error) {
	if interval <= 0 {
		s.logger.Infof("[Storage] %s ticker disabled", name)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, name, shared, fn)
		}
	}
}

// tick runs fn once. A shared tick holds the ticker lease while fn runs and is canceled if the
// lease is lost.
func (s *Server) tick(ctx context.Context, name string, shared bool, fn func(context.Context) error) {
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if shared {
		ttl := s.settings.Storage.SharedTickerLockTTL

		lease, acquired, err := s.locker.TryAcquire(ctx, lock.TickerKey(name), ttl)
		if err != nil {
			if !errors.IsCanceled(err) && ctx.Err() == nil {
				s.logger.Warnf("[Storage] unable to acquire %s ticker lease: %v", name, err)
			}

			return
		}

		if !acquired {
			s.logger.Debugf("[Storage] %s ticker running on another instance", name)
			return
		}

		var g errgroup.Group

		g.Go(func() error {
			return s.keepLeaseAlive(tickCtx, lease, ttl, cancel)
		})

		defer func() {
			cancel()
			_ = g.Wait()

			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warnf("[Storage] failed to release %s ticker lease: %v", name, err)
			}
		}()
	}

	if err := fn(tickCtx); err != nil {
		if errors.IsCanceled(err) || tickCtx.Err() != nil {
			s.logger.Infof("[Storage] %s tick canceled", name)
			return
		}

		s.logger.Errorf("[Storage] %s tick failed: %v", name, err)
	}
}
