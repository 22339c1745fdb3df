// Package factory builds a lock.Locker from its URL.
package factory

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/bsv-blockchain/blobstore/stores/lock/memory"
	"github.com/bsv-blockchain/blobstore/stores/lock/redis"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util/uredis"
)

func New(ctx context.Context, logger ulogger.Logger, lockURL *url.URL) (lock.Locker, error) {
	if lockURL == nil {
		return nil, errors.NewConfigurationError("no lock url configured")
	}

	switch lockURL.Scheme {
	case "memory":
		logger.Warnf("[Lock] using in-memory locks, only safe with a single instance")
		return memory.New(), nil

	case "redis", "redis-cluster", "redis-ring":
		client, err := uredis.NewClient(ctx, lockURL)
		if err != nil {
			return nil, err
		}

		logger.Infof("[Lock] using %s locks at %s", lockURL.Scheme, lockURL.Host)

		return redis.New(client), nil
	}

	return nil, errors.NewConfigurationError("unknown lock scheme %q", lockURL.Scheme)
}
