package meta

import (
	"context"

	"github.com/bsv-blockchain/blobstore/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	GcStateKey         = "gc-state"
	LengthScanStateKey = "length-scan-state"

	maxUpdateAttempts = 10
)

// StateDocument is a typed singleton document stored as JSON in a StateStore.
// Readers get a snapshot and a version, writers succeed only if nobody wrote in between.
type StateDocument[T any] struct {
	store StateStore
	key   string
}

func NewStateDocument[T any](store StateStore, key string) *StateDocument[T] {
	return &StateDocument[T]{store: store, key: key}
}

// Get returns the current value, the zero value if the document was never written.
func (d *StateDocument[T]) Get(ctx context.Context) (*T, int64, error) {
	data, version, err := d.store.GetState(ctx, d.key)
	if err != nil {
		return nil, 0, errors.NewStorageError("failed to read state %s", d.key, err)
	}

	value := new(T)

	if len(data) > 0 {
		if err = json.Unmarshal(data, value); err != nil {
			return nil, 0, errors.NewProcessingError("failed to decode state %s", d.key, err)
		}
	}

	return value, version, nil
}

// TryUpdate writes value if the document is still at version.
func (d *StateDocument[T]) TryUpdate(ctx context.Context, value *T, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errors.NewProcessingError("failed to encode state %s", d.key, err)
	}

	ok, err := d.store.CompareAndSwapState(ctx, d.key, data, version)
	if err != nil {
		return false, errors.NewStorageError("failed to write state %s", d.key, err)
	}

	return ok, nil
}

// Update applies fn to the current value and writes the result, rereading and retrying when
// another writer got there first. fn may be called more than once.
func (d *StateDocument[T]) Update(ctx context.Context, fn func(value *T) error) (*T, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		value, version, err := d.Get(ctx)
		if err != nil {
			return nil, err
		}

		if err = fn(value); err != nil {
			return nil, err
		}

		ok, err := d.TryUpdate(ctx, value, version)
		if err != nil {
			return nil, err
		}

		if ok {
			return value, nil
		}

		if err = ctx.Err(); err != nil {
			return nil, errors.NewContextCanceledError("state %s update canceled", d.key, err)
		}
	}

	return nil, errors.NewConflictError("state %s: too many concurrent updates", d.key)
}
