package storage

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedTickKeepsItsLease(t *testing.T) {
	ts := newTestServer(t, testStorageConfig(), func(s *settings.Settings) {
		s.Storage.SharedTickerLockTTL = 60 * time.Millisecond
	})

	key := lock.TickerKey(tickerGc)
	ran := false

	ts.tick(context.Background(), tickerGc, true, func(ctx context.Context) error {
		ran = true

		// run twice as long as the lease ttl
		for i := 0; i < 24; i++ {
			ts.clock.Advance(5 * time.Millisecond)
			time.Sleep(5 * time.Millisecond)
		}

		assert.True(t, ts.locker.Held(key))
		assert.NoError(t, ctx.Err())

		return nil
	})

	assert.True(t, ran)
	assert.False(t, ts.locker.Held(key))
}

func TestSharedTickStopsWhenItsLeaseIsLost(t *testing.T) {
	ts := newTestServer(t, testStorageConfig(), func(s *settings.Settings) {
		s.Storage.SharedTickerLockTTL = 30 * time.Millisecond
	})

	key := lock.TickerKey(tickerRefs)

	ts.tick(context.Background(), tickerRefs, true, func(ctx context.Context) error {
		ts.clock.Advance(time.Minute)

		// another instance takes over the expired lease
		_, acquired, err := ts.locker.TryAcquire(context.Background(), key, time.Hour)
		require.NoError(t, err)
		require.True(t, acquired)

		select {
		case <-ctx.Done():
			return errors.NewContextCanceledError("tick canceled", ctx.Err())
		case <-time.After(5 * time.Second):
			t.Error("tick was not canceled after losing its lease")
			return nil
		}
	})

	// the lease of the other instance survives the release
	assert.True(t, ts.locker.Held(key))
}

func TestTickSkipsSharedTickerHeldElsewhere(t *testing.T) {
	ts := newTestServer(t, testStorageConfig())

	_, acquired, err := ts.locker.TryAcquire(context.Background(), lock.TickerKey(tickerBlobs), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	ts.tick(context.Background(), tickerBlobs, true, func(context.Context) error {
		t.Error("tick ran while another instance held the ticker lease")
		return nil
	})

	ran := false

	ts.tick(context.Background(), tickerBlobs, false, func(context.Context) error {
		ran = true
		return nil
	})

	assert.True(t, ran)
}
