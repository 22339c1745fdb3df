package model

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobIDOrdering(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := NewBlobID(base)
	newer := NewBlobID(base.Add(time.Millisecond))

	assert.True(t, older.Less(newer))
	assert.Equal(t, base, older.Time().UTC())

	watermark := BlobIDFromTime(base.Add(time.Millisecond))
	assert.True(t, older.Less(watermark))
	assert.False(t, newer.Less(watermark))
}

func TestBlobIDMonotonicWithinProcess(t *testing.T) {
	now := time.Now()

	// more ids than rand_a alone can count
	ids := make([]BlobID, 10_000)
	for i := range ids {
		ids[i] = NewBlobID(now)
	}

	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i].Less(ids[j]) }))

	seen := make(map[BlobID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
		assert.Equal(t, now.UnixMilli(), id.Time().UnixMilli())
	}

	assert.Len(t, seen, len(ids))
}

func TestBlobIDConcurrentCreationIsUnique(t *testing.T) {
	now := time.Now()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		all = make(map[BlobID]struct{})
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			prev := NilBlobID

			for i := 0; i < 500; i++ {
				id := NewBlobID(now)
				assert.True(t, prev.Less(id))
				prev = id

				mu.Lock()
				all[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, all, 8*500)
}

func TestBlobIDClockMovingBackwards(t *testing.T) {
	later := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	_ = NewBlobID(later)
	id := NewBlobID(earlier)

	assert.Equal(t, earlier, id.Time().UTC())
	assert.False(t, id.Less(BlobIDFromTime(earlier)))
}

func TestBlobIDSequenceOverflow(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	first := NewBlobID(base)

	generator.Lock()
	generator.seq = maxSequence
	generator.Unlock()

	spilled := NewBlobID(base)
	again := NewBlobID(base)

	assert.True(t, first.Less(spilled))
	assert.True(t, spilled.Less(again))
	assert.Equal(t, base.Add(time.Millisecond), spilled.Time().UTC())
	assert.Equal(t, base.Add(time.Millisecond), again.Time().UTC())
}

func TestBlobIDBeforeEpoch(t *testing.T) {
	id := BlobIDFromTime(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, int64(0), id.Time().UnixMilli())
}

func TestBlobIDScanAndText(t *testing.T) {
	id := NewBlobID(time.Now())

	var scanned BlobID
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan([]byte(id.String())))
	assert.Equal(t, id, scanned)

	data, err := json.Marshal(struct{ ID BlobID }{id})
	require.NoError(t, err)

	var decoded struct{ ID BlobID }
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)

	_, err = ParseBlobID("not-a-uuid")
	require.Error(t, err)
}

func TestLocator(t *testing.T) {
	l := NewLocator("builds/123", "manifest")
	assert.Equal(t, Locator("builds/123#manifest"), l)
	assert.Equal(t, "builds/123", l.BaseLocator())
	assert.Equal(t, "manifest", l.Fragment())

	plain := Locator("builds/124")
	assert.Equal(t, "builds/124", plain.BaseLocator())
	assert.Empty(t, plain.Fragment())
	assert.Equal(t, Locator("builds/124#x"), plain.WithFragment("x"))
}

func TestRefExpiry(t *testing.T) {
	written := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := &RefInfo{ExpiresAt: written.Add(10 * time.Minute), Lifetime: 10 * time.Minute}

	assert.False(t, ref.RequiresTouch(written.Add(7*time.Minute)))
	assert.True(t, ref.RequiresTouch(written.Add(8*time.Minute)))
	assert.False(t, ref.HasExpired(written.Add(9*time.Minute)))
	assert.True(t, ref.HasExpired(written.Add(10*time.Minute)))

	forever := &RefInfo{}
	assert.False(t, forever.HasExpired(written.Add(1000*time.Hour)))
	assert.False(t, forever.RequiresTouch(written))

	noRenew := &RefInfo{ExpiresAt: written.Add(10 * time.Minute)}
	assert.False(t, noRenew.RequiresTouch(written.Add(9*time.Minute)))
}

func TestRefCacheTime(t *testing.T) {
	now := time.Now()

	assert.True(t, RefCacheTime(0).IsStale(now, now))
	assert.False(t, RefCacheTime(time.Minute).IsStale(now.Add(-30*time.Second), now))
	assert.True(t, RefCacheTime(time.Minute).IsStale(now.Add(-2*time.Minute), now))
}

func TestRefOptions(t *testing.T) {
	o := NewRefOptions()
	assert.True(t, o.Extend)
	assert.Zero(t, o.Lifetime)

	o = NewRefOptions(WithLifetime(time.Hour), WithExtend(false))
	assert.False(t, o.Extend)
	assert.Equal(t, time.Hour, o.Lifetime)
}

func TestGcState(t *testing.T) {
	s := &GcState{LastImportBlobID: NewBlobID(time.Now()), Reset: true}

	ns := s.FindOrAddNamespace("ns1")
	ns.LastTime = time.Unix(100, 0)

	assert.Equal(t, time.Unix(100, 0), s.FindNamespace("ns1").LastTime)
	assert.Nil(t, s.FindNamespace("ns2"))

	s.DoReset()
	assert.True(t, s.LastImportBlobID.IsZero())
	assert.Empty(t, s.Namespaces)
	assert.False(t, s.Reset)
}
