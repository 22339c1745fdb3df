// Package factory builds a checkset.Store from its URL.
package factory

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/checkset"
	"github.com/bsv-blockchain/blobstore/stores/checkset/memory"
	"github.com/bsv-blockchain/blobstore/stores/checkset/redis"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util/uredis"
)

func New(ctx context.Context, logger ulogger.Logger, storeURL *url.URL) (checkset.Store, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("no check-set url configured")
	}

	switch storeURL.Scheme {
	case "memory":
		logger.Warnf("[CheckSet] using in-memory check-set, GC candidates are lost on restart")
		return memory.New(), nil

	case "redis", "redis-cluster", "redis-ring":
		client, err := uredis.NewClient(ctx, storeURL)
		if err != nil {
			return nil, err
		}

		logger.Infof("[CheckSet] using %s check-set at %s", storeURL.Scheme, storeURL.Host)

		return redis.New(client), nil
	}

	return nil, errors.NewConfigurationError("unknown check-set scheme %q", storeURL.Scheme)
}
