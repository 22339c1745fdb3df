// Package meta defines the metadata store holding blob, alias and ref records and the
// singleton state documents of the background pipelines.
package meta

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blobstore/model"
)

// Store is the persistent metadata store. Records of different namespaces never interact.
type Store interface {
	StateStore

	Health(ctx context.Context, checkLiveness bool) (int, string, error)

	// AddBlob inserts a blob record together with its imports and aliases.
	// A record with the same namespace and path returns errors.ErrBlobExists.
	AddBlob(ctx context.Context, blob *model.BlobInfo) error
	// FindBlobIDs resolves paths to blob ids in one batched lookup, unknown paths are absent from the result.
	FindBlobIDs(ctx context.Context, namespaceID string, paths []string) (map[string]model.BlobID, error)
	// GetBlob returns the full record stored under path, or errors.ErrBlobNotFound.
	GetBlob(ctx context.Context, namespaceID string, path string) (*model.BlobInfo, error)
	// GetBlobByID returns the full record with the given id, or errors.ErrBlobNotFound.
	GetBlobByID(ctx context.Context, id model.BlobID) (*model.BlobInfo, error)
	// FindBlobsInRange returns up to limit records with after < id < before in ascending id order.
	// Imports and aliases are not loaded.
	FindBlobsInRange(ctx context.Context, after, before model.BlobID, limit int) ([]*model.BlobInfo, error)
	// IsBlobReferenced reports whether another blob imports id or a ref targets it.
	IsBlobReferenced(ctx context.Context, id model.BlobID) (bool, error)
	// DeleteBlobIfUnreferenced removes the record, its imports and aliases in one step, but only
	// while nothing references it. It returns false if the blob is missing or referenced.
	DeleteBlobIfUnreferenced(ctx context.Context, id model.BlobID) (bool, error)
	SetBlobGcVersion(ctx context.Context, id model.BlobID, version int) error
	SetBlobLength(ctx context.Context, id model.BlobID, length int64) error

	// AddAlias appends alias to the blob. It returns false if the blob already carries the same name and fragment.
	AddAlias(ctx context.Context, blobID model.BlobID, alias model.AliasInfo) (bool, error)
	RemoveAlias(ctx context.Context, blobID model.BlobID, name string, fragment string) error
	// FindAliases returns the matches for name in descending rank, ties in the order the aliases were added.
	// maxResults <= 0 returns every match.
	FindAliases(ctx context.Context, namespaceID string, name string, maxResults int) ([]model.BlobAlias, error)

	// GetRef returns the ref, or errors.ErrRefNotFound.
	GetRef(ctx context.Context, namespaceID string, name string) (*model.RefInfo, error)
	// ReplaceRef atomically inserts or replaces the ref keyed by namespace and name and returns the record
	// it replaced, nil if there was none. The target blob must exist, otherwise errors.ErrBlobNotFound is returned.
	ReplaceRef(ctx context.Context, ref *model.RefInfo) (*model.RefInfo, error)
	// DeleteRef removes the ref and returns the removed record, nil if there was none.
	DeleteRef(ctx context.Context, namespaceID string, name string) (*model.RefInfo, error)
	// DeleteRefIfExpiresAt removes the ref only while its expiry still equals expiresAt.
	DeleteRefIfExpiresAt(ctx context.Context, namespaceID string, name string, expiresAt time.Time) (bool, error)
	// TouchRef moves the expiry of ref forward while the stored ref still has its target and lifetime.
	// It reports false when the ref was rewritten, deleted or already expires later.
	TouchRef(ctx context.Context, ref *model.RefInfo, expiresAt time.Time) (bool, error)
	// FindExpiredRefs returns up to limit refs whose expiry is before now.
	FindExpiredRefs(ctx context.Context, now time.Time, limit int) ([]*model.RefInfo, error)

	Close() error
}

// StateStore is a key value store of versioned documents updated by compare-and-swap.
type StateStore interface {
	// GetState returns the document and its version. A missing document has version 0 and nil data.
	GetState(ctx context.Context, key string) ([]byte, int64, error)
	// CompareAndSwapState stores data if the current version equals version, bumping the version.
	// A version of 0 creates the document. It returns false if another writer won.
	CompareAndSwapState(ctx context.Context, key string, data []byte, version int64) (bool, error)
}
