// Package redis keeps each namespace's check-set in a redis sorted set.
package redis

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/stores/checkset"
	"github.com/bsv-blockchain/blobstore/tracing"
	"github.com/redis/go-redis/v9"
)

var compareAndRemoveScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1])
	return 1
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
		return http.StatusServiceUnavailable, "Redis CheckSet", errors.NewStorageUnavailableError("redis check-set unreachable", err)
	}

	return http.StatusOK, "Redis CheckSet", nil
}

func members(entries []checkset.Entry) []redis.Z {
	z := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		z = append(z, redis.Z{Score: e.Score, Member: e.ID.String()})
	}

	return z
}

func (r *Redis) Add(ctx context.Context, namespaceID string, entries ...checkset.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, _, deferFn := tracing.StartTracing(ctx, "checkset:Add")
	defer deferFn()

	if err := r.client.ZAdd(ctx, checkset.Key(namespaceID), members(entries)...).Err(); err != nil {
		return errors.NewStorageError("[CheckSet][%s] failed to add %d entries", namespaceID, len(entries), err)
	}

	return nil
}

func (r *Redis) AddNX(ctx context.Context, namespaceID string, entries ...checkset.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, _, deferFn := tracing.StartTracing(ctx, "checkset:AddNX")
	defer deferFn()

	if err := r.client.ZAddNX(ctx, checkset.Key(namespaceID), members(entries)...).Err(); err != nil {
		return errors.NewStorageError("[CheckSet][%s] failed to add %d entries", namespaceID, len(entries), err)
	}

	return nil
}

func (r *Redis) Range(ctx context.Context, namespaceID string, limit int) ([]checkset.Entry, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "checkset:Range")
	defer deferFn()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	res, err := r.client.ZRangeWithScores(ctx, checkset.Key(namespaceID), 0, stop).Result()
	if err != nil {
		return nil, errors.NewStorageError("[CheckSet][%s] failed to read range", namespaceID, err)
	}

	entries := make([]checkset.Entry, 0, len(res))

	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		id, err := model.ParseBlobID(member)
		if err != nil {
			// not ours, leave it alone
			continue
		}

		entries = append(entries, checkset.Entry{ID: id, Score: z.Score})
	}

	return entries, nil
}

func (r *Redis) Len(ctx context.Context, namespaceID string) (int64, error) {
	n, err := r.client.ZCard(ctx, checkset.Key(namespaceID)).Result()
	if err != nil {
		return 0, errors.NewStorageError("[CheckSet][%s] failed to read length", namespaceID, err)
	}

	return n, nil
}

func (r *Redis) CompareAndRemove(ctx context.Context, namespaceID string, id model.BlobID, score float64) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "checkset:CompareAndRemove")
	defer deferFn()

	removed, err := compareAndRemoveScript.Run(ctx, r.client, []string{checkset.Key(namespaceID)},
		id.String(), strconv.FormatFloat(score, 'f', -1, 64)).Int()
	if err != nil {
		return false, errors.NewStorageError("[CheckSet][%s] failed to remove %s", namespaceID, id, err)
	}

	return removed == 1, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
