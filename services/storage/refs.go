package storage

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/tracing"
)

// TryReadRef returns the ref name, errors.ErrRefNotFound if it does not exist or has expired.
// A cached value younger than cacheTime is returned without querying the metadata store.
// Reading a ref in the last quarter of its lifetime extends it.
func (b *Backend) TryReadRef(ctx context.Context, name string, cacheTime model.RefCacheTime) (*model.RefInfo, error) {
	return b.server.tryReadRef(ctx, b.config.ID, name, cacheTime)
}

// WriteRef points name at the blob holding value.Target. The blob must exist.
func (b *Backend) WriteRef(ctx context.Context, name string, value model.RefValue, opts ...model.RefOption) error {
	return b.server.writeRef(ctx, b.config.ID, name, value, model.NewRefOptions(opts...))
}

// DeleteRef removes a ref and reports whether it existed.
func (b *Backend) DeleteRef(ctx context.Context, name string) (bool, error) {
	return b.server.deleteRef(ctx, b.config.ID, name)
}

// expiry drops sub millisecond precision, the metadata store keeps milliseconds.
func expiry(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

func (s *Server) tryReadRef(ctx context.Context, namespaceID, name string, cacheTime model.RefCacheTime) (*model.RefInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:TryReadRef",
		tracing.WithHistogram(prometheusStorageReadRef),
	)
	defer deferFn()

	generation := s.refs.begin()
	now := s.now()

	entry, ok := s.refs.get(namespaceID, name)
	if ok && !cacheTime.IsStale(entry.time, now) {
		prometheusStorageRefCacheHits.Inc()
	} else {
		prometheusStorageRefCacheMisses.Inc()

		ref, err := s.readRef(ctx, namespaceID, name)
		if err != nil {
			return nil, err
		}

		s.refs.fill(namespaceID, name, ref, now, generation)
		entry = refCacheEntry{ref: ref, time: now}
	}

	ref := entry.ref

	if ref != nil && ref.HasExpired(now) {
		deleted, err := s.deleteExpiredRef(ctx, ref)
		if err != nil {
			return nil, err
		}

		if deleted {
			return nil, errors.NewRefNotFoundError("[%s] ref %s has expired", namespaceID, name)
		}

		// another instance touched or rewrote the ref since it was cached
		generation = s.refs.begin()

		if ref, err = s.readRef(ctx, namespaceID, name); err != nil {
			return nil, err
		}

		s.refs.fill(namespaceID, name, ref, now, generation)

		if ref != nil && ref.HasExpired(now) {
			return nil, errors.NewRefNotFoundError("[%s] ref %s has expired", namespaceID, name)
		}
	}

	if ref == nil {
		return nil, errors.NewRefNotFoundError("[%s] ref %s not found", namespaceID, name)
	}

	if ref.RequiresTouch(now) {
		expiresAt := expiry(now.Add(ref.Lifetime))

		touched, err := s.metaStore.TouchRef(ctx, ref, expiresAt)
		if err != nil {
			return nil, err
		}

		if !touched {
			// rewritten, deleted or touched elsewhere since it was read
			generation = s.refs.begin()

			if ref, err = s.readRef(ctx, namespaceID, name); err != nil {
				return nil, err
			}

			s.refs.fill(namespaceID, name, ref, now, generation)

			if ref == nil || ref.HasExpired(now) {
				return nil, errors.NewRefNotFoundError("[%s] ref %s not found", namespaceID, name)
			}

			return ref.Clone(), nil
		}

		updated := ref.Clone()
		updated.ExpiresAt = expiresAt

		s.refs.fill(namespaceID, name, updated, now, generation)

		ref = updated
	}

	return ref.Clone(), nil
}

// readRef queries the metadata store, a missing ref is returned as nil.
func (s *Server) readRef(ctx context.Context, namespaceID, name string) (*model.RefInfo, error) {
	ref, err := s.metaStore.GetRef(ctx, namespaceID, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	return ref, nil
}

func (s *Server) writeRef(ctx context.Context, namespaceID, name string, value model.RefValue, opts *model.RefOptions) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:WriteRef",
		tracing.WithHistogram(prometheusStorageWriteRef),
	)
	defer deferFn()

	path := value.Target.BaseLocator()

	target, err := s.metaStore.GetBlob(ctx, namespaceID, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewBlobNotFoundError("[%s] invalid or unknown blob %s for ref %s", namespaceID, path, name, err)
		}

		return err
	}

	now := s.now()

	ref := &model.RefInfo{
		NamespaceID:  namespaceID,
		Name:         name,
		Hash:         value.Hash,
		Target:       value.Target,
		TargetBlobID: target.ID,
	}

	if opts.Lifetime > 0 {
		ref.ExpiresAt = expiry(now.Add(opts.Lifetime))

		if opts.Extend {
			ref.Lifetime = opts.Lifetime
		}
	}

	old, err := s.metaStore.ReplaceRef(ctx, ref)
	if err != nil {
		return err
	}

	if old != nil && old.TargetBlobID != ref.TargetBlobID {
		s.addGcCheckRecord(ctx, namespaceID, old.TargetBlobID)
	}

	s.logger.Infof("[Storage][%s] updated ref %s", namespaceID, name)

	s.refs.set(namespaceID, name, ref.Clone(), now)

	return nil
}

func (s *Server) deleteRef(ctx context.Context, namespaceID, name string) (bool, error) {
	old, err := s.metaStore.DeleteRef(ctx, namespaceID, name)
	if err != nil {
		return false, err
	}

	s.refs.set(namespaceID, name, nil, s.now())

	if old == nil {
		return false, nil
	}

	s.logger.Infof("[Storage][%s] deleted ref %s", namespaceID, name)
	s.addGcCheckRecord(ctx, namespaceID, old.TargetBlobID)

	return true, nil
}

// deleteExpiredRef removes ref if its expiry is still the one observed, and queues its target.
func (s *Server) deleteExpiredRef(ctx context.Context, ref *model.RefInfo) (bool, error) {
	deleted, err := s.metaStore.DeleteRefIfExpiresAt(ctx, ref.NamespaceID, ref.Name, ref.ExpiresAt)
	if err != nil {
		return false, err
	}

	if !deleted {
		return false, nil
	}

	prometheusStorageRefsExpired.Inc()

	s.logger.Infof("[Storage][%s] expired ref %s", ref.NamespaceID, ref.Name)

	s.refs.set(ref.NamespaceID, ref.Name, nil, s.now())
	s.addGcCheckRecord(ctx, ref.NamespaceID, ref.TargetBlobID)

	return true, nil
}

// TickRefs deletes every ref whose expiry has passed.
func (s *Server) TickRefs(ctx context.Context) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:TickRefs")
	defer deferFn()

	batchSize := s.settings.Storage.RefExpiryBatchSize

	for {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[TickRefs] canceled", err)
		}

		refs, err := s.metaStore.FindExpiredRefs(ctx, s.now(), batchSize)
		if err != nil {
			return err
		}

		removed := 0

		for _, ref := range refs {
			deleted, err := s.deleteExpiredRef(ctx, ref)
			if err != nil {
				if errors.IsCanceled(err) {
					return err
				}

				s.logger.Warnf("[Storage][%s] failed to delete expired ref %s: %v", ref.NamespaceID, ref.Name, err)

				continue
			}

			if deleted {
				removed++
			}
		}

		// a short batch is the last one, a batch of failures is retried on the next tick
		if len(refs) < batchSize || removed == 0 {
			return nil
		}
	}
}
