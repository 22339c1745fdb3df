package blob

import (
	"context"
	"net/url"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/file"
	storelogger "github.com/bsv-blockchain/blobstore/stores/blob/logger"
	"github.com/bsv-blockchain/blobstore/stores/blob/memory"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/stores/blob/s3"
	"github.com/bsv-blockchain/blobstore/ulogger"
)

// NewStore creates a blob store from a URL:
//
//	memory:///
//	file:///var/lib/blobstore or file://./data
//	s3://minio:9000/bucket?region=us-east-1&usePathStyle=true&scheme=http
//
// Adding logger=true to the query wraps the store in debug logging, redirectTTL=5m sets the
// default lifetime of redirect urls.
func NewStore(ctx context.Context, logger ulogger.Logger, storeURL *url.URL, opts ...options.StoreOption) (store Store, err error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("blob store url is nil")
	}

	if ttl := storeURL.Query().Get("redirectTTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return nil, errors.NewConfigurationError("invalid redirectTTL %q", ttl)
		}

		opts = append(opts, options.WithDefaultRedirectTTL(d))
	}

	switch storeURL.Scheme {
	case "memory":
		store = memory.New(opts...)

	case "file":
		store, err = file.New(logger, storeURL, opts...)
		if err != nil {
			return nil, errors.NewStorageError("error creating file blob store", err)
		}

	case "s3":
		store, err = s3.New(ctx, logger, storeURL, opts...)
		if err != nil {
			return nil, errors.NewStorageError("error creating s3 blob store", err)
		}

	default:
		return nil, errors.NewConfigurationError("unknown blob store type: %s", storeURL.Scheme)
	}

	if storeURL.Query().Get("logger") == "true" {
		store = storelogger.New(logger, store)
	}

	return store, nil
}
