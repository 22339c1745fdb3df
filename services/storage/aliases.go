package storage

import (
	"context"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
)

// AddAlias names a fragment of a blob. Adding a name the blob already carries for the same
// fragment is a no-op, a missing blob returns errors.ErrBlobNotFound.
func (b *Backend) AddAlias(ctx context.Context, name string, target model.Locator, rank int, data []byte) error {
	info, err := b.server.metaStore.GetBlob(ctx, b.config.ID, target.BaseLocator())
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewBlobNotFoundError("[%s] missing blob %s", b.config.ID, target.BaseLocator(), err)
		}

		return err
	}

	added, err := b.server.metaStore.AddAlias(ctx, info.ID, model.AliasInfo{
		Name:     name,
		Fragment: target.Fragment(),
		Rank:     rank,
		Data:     data,
	})
	if err != nil {
		return err
	}

	if added {
		b.server.logger.Debugf("[Storage][%s] added alias %s to %s", b.config.ID, name, target)
	}

	return nil
}

// RemoveAlias removes the alias name from the fragment of target. Missing aliases and blobs are ignored.
func (b *Backend) RemoveAlias(ctx context.Context, name string, target model.Locator) error {
	info, err := b.server.metaStore.GetBlob(ctx, b.config.ID, target.BaseLocator())
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}

		return err
	}

	return b.server.metaStore.RemoveAlias(ctx, info.ID, name, target.Fragment())
}

// FindAliases returns the locators carrying the alias name, highest rank first.
// maxResults <= 0 returns every match.
func (b *Backend) FindAliases(ctx context.Context, name string, maxResults int) ([]model.BlobAlias, error) {
	return b.server.metaStore.FindAliases(ctx, b.config.ID, name, maxResults)
}
