// Package redis implements lock.Locker with SET NX PX and token checked release.
package redis

import (
	"context"
	"net/http"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

type Redis struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Health(ctx context.Context, _ bool) (int, string, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return http.StatusServiceUnavailable, "Redis Lock", errors.NewStorageUnavailableError("redis lock unreachable", err)
	}

	return http.StatusOK, "Redis Lock", nil
}

func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, bool, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, errors.NewStorageError("[Lock][%s] failed to acquire", name, err)
	}

	if !ok {
		return nil, false, nil
	}

	return &lease{client: r.client, name: name, token: token}, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type lease struct {
	client redis.UniversalClient
	name   string
	token  string
}

func (l *lease) Name() string {
	return l.name
}

func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.name}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return errors.NewStorageError("[Lock][%s] failed to extend", l.name, err)
	}

	if n == 0 {
		return errors.NewConflictError("[Lock][%s] lock is no longer held", l.name)
	}

	return nil
}

func (l *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.name}, l.token).Err(); err != nil {
		return errors.NewStorageError("[Lock][%s] failed to release", l.name, err)
	}

	return nil
}
