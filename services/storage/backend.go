package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/tracing"
	"github.com/google/uuid"
)

const blobExtension = "blob"

// Backend is the storage of one namespace: its object store plus the shared metadata, ref cache
// and check-set of the server. Backends are immutable and replaced when the configuration changes.
type Backend struct {
	server       *Server
	config       settings.NamespaceConfig
	store        blob.Store
	verification bool
}

func newBackend(server *Server, config settings.NamespaceConfig, store blob.Store, verification bool) *Backend {
	return &Backend{
		server:       server,
		config:       config,
		store:        store,
		verification: verification,
	}
}

func (b *Backend) NamespaceID() string {
	return b.config.ID
}

// SupportsRedirects reports whether clients may transfer blob content directly with the object store.
// Namespaces with aliases enabled never hand out redirects.
func (b *Backend) SupportsRedirects() bool {
	return b.store.SupportsRedirects() && !b.config.EnableAliases
}

func objectKey(locator model.Locator) []byte {
	return []byte(locator.BaseLocator())
}

func objectOptions(opts ...options.FileOption) []options.FileOption {
	return append([]options.FileOption{options.WithFileExtension(blobExtension)}, opts...)
}

// uniqueLocator returns a new locator below prefix that no other writer can produce.
func uniqueLocator(prefix string) model.Locator {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return model.Locator(uuid.NewString())
	}

	return model.Locator(prefix + "/" + uuid.NewString())
}

// WriteBlob stores the content of reader under locator and records the blob with its imports.
// Imports that do not name a blob of the namespace are ignored.
func (b *Backend) WriteBlob(ctx context.Context, locator model.Locator, imports []model.Locator, reader io.Reader) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:WriteBlob",
		tracing.WithHistogram(prometheusStorageWriteBlob),
		tracing.WithTag("namespace", b.config.ID),
	)
	defer deferFn()

	rc, ok := reader.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(reader)
	}

	if err := b.store.SetFromReader(ctx, objectKey(locator), rc, objectOptions()...); err != nil {
		return errors.NewStorageError("[%s] failed to write blob %s", b.config.ID, locator, err)
	}

	_, err := b.server.addBlob(ctx, b.config.ID, locator, imports)

	return err
}

// WriteBlobWithUniqueLocator stores a blob under a freshly generated locator below prefix.
func (b *Backend) WriteBlobWithUniqueLocator(ctx context.Context, prefix string, imports []model.Locator, reader io.Reader) (model.Locator, error) {
	locator := uniqueLocator(prefix)

	if err := b.WriteBlob(ctx, locator, imports, reader); err != nil {
		return "", err
	}

	return locator, nil
}

// WriteBlobBytes is WriteBlob for content already in memory.
func (b *Backend) WriteBlobBytes(ctx context.Context, locator model.Locator, imports []model.Locator, data []byte) error {
	return b.WriteBlob(ctx, locator, imports, bytes.NewReader(data))
}

// ReadBlob reads length bytes of a blob starting at offset. A length <= 0 reads to the end.
func (b *Backend) ReadBlob(ctx context.Context, locator model.Locator, offset, length int64) ([]byte, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "storage:ReadBlob",
		tracing.WithHistogram(prometheusStorageReadBlob),
		tracing.WithTag("namespace", b.config.ID),
	)
	defer deferFn()

	if err := b.checkBlobExists(ctx, locator); err != nil {
		return nil, err
	}

	data, err := b.store.Get(ctx, objectKey(locator), objectOptions(options.WithRange(offset, length))...)
	if err != nil {
		return nil, errors.NewStorageError("[%s] failed to read blob %s", b.config.ID, locator, err)
	}

	return data, nil
}

// OpenBlob streams length bytes of a blob starting at offset. The caller closes the reader.
func (b *Backend) OpenBlob(ctx context.Context, locator model.Locator, offset, length int64) (io.ReadCloser, error) {
	if err := b.checkBlobExists(ctx, locator); err != nil {
		return nil, err
	}

	r, err := b.store.GetIoReader(ctx, objectKey(locator), objectOptions(options.WithRange(offset, length))...)
	if err != nil {
		return nil, errors.NewStorageError("[%s] failed to open blob %s", b.config.ID, locator, err)
	}

	return r, nil
}

// TryGetBlobReadRedirect returns a URL the blob can be downloaded from, nil if the namespace
// does not hand out redirects.
func (b *Backend) TryGetBlobReadRedirect(ctx context.Context, locator model.Locator) (*url.URL, error) {
	if !b.SupportsRedirects() {
		return nil, nil
	}

	if err := b.checkBlobExists(ctx, locator); err != nil {
		return nil, err
	}

	u, err := b.store.GetReadRedirect(ctx, objectKey(locator), objectOptions()...)
	if err != nil {
		return nil, errors.NewStorageError("[%s] failed to get read redirect for %s", b.config.ID, locator, err)
	}

	return u, nil
}

// TryGetBlobWriteRedirect returns a URL the blob can be uploaded to and records the blob with its
// imports. The record is added as soon as the URL is issued, the ingestion grace period covers
// the time the client needs to finish the upload.
func (b *Backend) TryGetBlobWriteRedirect(ctx context.Context, locator model.Locator, imports []model.Locator) (*url.URL, error) {
	if !b.SupportsRedirects() {
		return nil, nil
	}

	u, err := b.store.GetWriteRedirect(ctx, objectKey(locator), objectOptions()...)
	if err != nil {
		return nil, errors.NewStorageError("[%s] failed to get write redirect for %s", b.config.ID, locator, err)
	}

	if u == nil {
		return nil, nil
	}

	if _, err = b.server.addBlob(ctx, b.config.ID, locator, imports); err != nil {
		return nil, err
	}

	return u, nil
}

// TryGetBlobWriteRedirectForPrefix is TryGetBlobWriteRedirect for a freshly generated locator below prefix.
func (b *Backend) TryGetBlobWriteRedirectForPrefix(ctx context.Context, prefix string, imports []model.Locator) (model.Locator, *url.URL, error) {
	if !b.SupportsRedirects() {
		return "", nil, nil
	}

	locator := uniqueLocator(prefix)

	u, err := b.TryGetBlobWriteRedirect(ctx, locator, imports)
	if err != nil || u == nil {
		return "", nil, err
	}

	return locator, u, nil
}

// checkBlobExists warns about reads of blobs that garbage collection in verification mode found
// unreachable. It only fails if the context was cancelled.
func (b *Backend) checkBlobExists(ctx context.Context, locator model.Locator) error {
	if !b.verification {
		return nil
	}

	info, err := b.server.metaStore.GetBlob(ctx, b.config.ID, locator.BaseLocator())
	if err != nil {
		if errors.IsCanceled(err) || ctx.Err() != nil {
			return errors.NewContextCanceledError("[%s] blob check canceled", b.config.ID, err)
		}

		if !errors.IsNotFound(err) {
			b.server.logger.Warnf("[Storage][%s] failed to check whether blob %s exists: %v", b.config.ID, locator, err)
		}

		return nil
	}

	if info.GcVersion >= model.CurrentGcVersion {
		b.server.logger.Warnf("[Storage][%s] blob %s (%s) accessed after being garbage collected", b.config.ID, info.ID, locator)
	}

	return nil
}
