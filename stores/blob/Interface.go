// Package blob provides the object store abstraction blobs are written to, its backends
// (memory, file, s3) and the prefixing and chaining wrappers namespaces are built from.
package blob

import (
	"context"
	"io"
	"net/url"

	"github.com/bsv-blockchain/blobstore/stores/blob/options"
)

// Store defines the interface for byte storage operations.
// Implementations of this interface include:
// - memory: In-memory storage, used in tests and single process deployments
// - file: Filesystem-based storage
// - s3: Amazon S3-compatible storage, the only backend issuing redirects
//
// Keys are opaque byte strings. Backends place them under the configured sub directory
// and extension, see options.Options.ObjectKey.
type Store interface {
	// Health returns an HTTP status code and a description of the store health.
	Health(ctx context.Context, checkLiveness bool) (int, string, error)

	Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error)

	// Get reads an object, honouring options.WithRange. A missing object returns an error
	// for which errors.IsNotFound is true.
	Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error)

	// GetIoReader opens an object for streaming, honouring options.WithRange.
	GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error)

	Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error

	// SetFromReader stores the content of reader and closes it.
	SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error

	// Del removes an object. Deleting a missing object is not an error.
	Del(ctx context.Context, key []byte, opts ...options.FileOption) error

	// GetSize returns the size of an object in bytes.
	GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error)

	SupportsRedirects() bool

	// GetReadRedirect returns a URL the client can download the object from directly,
	// or nil if the store does not issue redirects.
	GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error)

	// GetWriteRedirect returns a URL the client can upload the object to directly,
	// or nil if the store does not issue redirects.
	GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error)

	Close(ctx context.Context) error
}
