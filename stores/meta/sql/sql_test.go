package sql

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/meta"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ meta.Store = (*SQL)(nil)

func newSQLiteStore(t *testing.T) *SQL {
	storeURL, err := url.Parse("sqlitememory:///")
	require.NoError(t, err)

	s, err := New(ulogger.TestLogger{}, storeURL, &settings.Settings{DataFolder: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func addBlob(t *testing.T, s *SQL, ns, path string, at time.Time, imports ...model.BlobID) *model.BlobInfo {
	blob := &model.BlobInfo{
		ID:          model.NewBlobID(at),
		NamespaceID: ns,
		Path:        path,
		Imports:     imports,
	}

	require.NoError(t, s.AddBlob(context.Background(), blob))

	return blob
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	leaf := addBlob(t, s, "ns", "leaf", baseTime)
	root := addBlob(t, s, "ns", "root", baseTime.Add(time.Second), leaf.ID, leaf.ID)

	t.Run("get by path and id", func(t *testing.T) {
		got, err := s.GetBlob(ctx, "ns", "root")
		require.NoError(t, err)
		assert.Equal(t, root.ID, got.ID)
		assert.Equal(t, []model.BlobID{leaf.ID}, got.Imports)

		got, err = s.GetBlobByID(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Equal(t, "leaf", got.Path)
		assert.Empty(t, got.Imports)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetBlob(ctx, "other", "root")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlobNotFound))
	})

	t.Run("duplicate path", func(t *testing.T) {
		err := s.AddBlob(ctx, &model.BlobInfo{ID: model.NewBlobID(baseTime), NamespaceID: "ns", Path: "leaf"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlobExists))

		// the same path in another namespace is a different blob
		addBlob(t, s, "ns2", "leaf", baseTime)
	})

	t.Run("find ids", func(t *testing.T) {
		ids, err := s.FindBlobIDs(ctx, "ns", []string{"leaf", "root", "unknown"})
		require.NoError(t, err)
		assert.Equal(t, map[string]model.BlobID{"leaf": leaf.ID, "root": root.ID}, ids)
	})

	t.Run("references", func(t *testing.T) {
		referenced, err := s.IsBlobReferenced(ctx, leaf.ID)
		require.NoError(t, err)
		assert.True(t, referenced)

		deleted, err := s.DeleteBlobIfUnreferenced(ctx, leaf.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		referenced, err = s.IsBlobReferenced(ctx, root.ID)
		require.NoError(t, err)
		assert.False(t, referenced)

		deleted, err = s.DeleteBlobIfUnreferenced(ctx, root.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		// the import edge went away with root
		referenced, err = s.IsBlobReferenced(ctx, leaf.ID)
		require.NoError(t, err)
		assert.False(t, referenced)
	})

	t.Run("gc version and length", func(t *testing.T) {
		require.NoError(t, s.SetBlobGcVersion(ctx, leaf.ID, model.CurrentGcVersion))
		require.NoError(t, s.SetBlobLength(ctx, leaf.ID, 1234))

		got, err := s.GetBlobByID(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CurrentGcVersion, got.GcVersion)
		assert.Equal(t, int64(1234), got.Length)
	})
}

func TestFindBlobIDsBatches(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	paths := make([]string, 0, findBlobIDsBatchSize+10)
	for i := 0; i < findBlobIDsBatchSize+10; i++ {
		p := fmt.Sprintf("p/%d", i)
		paths = append(paths, p)
		addBlob(t, s, "ns", p, baseTime)
	}

	ids, err := s.FindBlobIDs(ctx, "ns", paths)
	require.NoError(t, err)
	assert.Len(t, ids, len(paths))
}

func TestFindBlobsInRange(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	var created []*model.BlobInfo
	for i := 0; i < 5; i++ {
		created = append(created, addBlob(t, s, "ns", fmt.Sprintf("b%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	// everything created before minute 3
	blobs, err := s.FindBlobsInRange(ctx, model.NilBlobID, model.BlobIDFromTime(baseTime.Add(3*time.Minute)), 10)
	require.NoError(t, err)
	require.Len(t, blobs, 3)
	assert.Equal(t, created[0].ID, blobs[0].ID)
	assert.Equal(t, created[2].ID, blobs[2].ID)

	blobs, err = s.FindBlobsInRange(ctx, created[0].ID, model.BlobIDFromTime(baseTime.Add(time.Hour)), 2)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, created[1].ID, blobs[0].ID)
	assert.Equal(t, created[2].ID, blobs[1].ID)
}

func TestAliases(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	a := addBlob(t, s, "ns", "a", baseTime)
	b := addBlob(t, s, "ns", "b", baseTime)
	c := addBlob(t, s, "other", "c", baseTime)

	added, err := s.AddAlias(ctx, a.ID, model.AliasInfo{Name: "latest", Fragment: "x", Rank: 1})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddAlias(ctx, a.ID, model.AliasInfo{Name: "latest", Fragment: "x", Rank: 7})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddAlias(ctx, b.ID, model.AliasInfo{Name: "latest", Rank: 5, Data: []byte("meta")})
	require.NoError(t, err)

	_, err = s.AddAlias(ctx, a.ID, model.AliasInfo{Name: "latest", Fragment: "y", Rank: 1})
	require.NoError(t, err)

	_, err = s.AddAlias(ctx, c.ID, model.AliasInfo{Name: "latest", Rank: 100})
	require.NoError(t, err)

	aliases, err := s.FindAliases(ctx, "ns", "latest", 0)
	require.NoError(t, err)
	require.Len(t, aliases, 3)
	assert.Equal(t, model.Locator("b"), aliases[0].Target)
	assert.Equal(t, []byte("meta"), aliases[0].Data)
	assert.Equal(t, model.Locator("a#x"), aliases[1].Target)
	assert.Equal(t, model.Locator("a#y"), aliases[2].Target)

	aliases, err = s.FindAliases(ctx, "ns", "latest", 1)
	require.NoError(t, err)
	assert.Len(t, aliases, 1)

	require.NoError(t, s.RemoveAlias(ctx, a.ID, "latest", "x"))

	aliases, err = s.FindAliases(ctx, "ns", "latest", 0)
	require.NoError(t, err)
	assert.Len(t, aliases, 2)

	blob, err := s.GetBlobByID(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, blob.Aliases, 1)
	assert.Equal(t, "y", blob.Aliases[0].Fragment)

	_, err = s.AddAlias(ctx, model.NewBlobID(baseTime), model.AliasInfo{Name: "latest"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlobNotFound))
}

func TestRefs(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	first := addBlob(t, s, "ns", "first", baseTime)
	second := addBlob(t, s, "ns", "second", baseTime)

	ref := &model.RefInfo{
		NamespaceID:  "ns",
		Name:         "main",
		Hash:         []byte{1, 2, 3},
		Target:       "first#root",
		TargetBlobID: first.ID,
		ExpiresAt:    baseTime.Add(10 * time.Minute),
		Lifetime:     10 * time.Minute,
	}

	old, err := s.ReplaceRef(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, old)

	got, err := s.GetRef(ctx, "ns", "main")
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	referenced, err := s.IsBlobReferenced(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, referenced)

	replacement := &model.RefInfo{NamespaceID: "ns", Name: "main", Hash: []byte{4}, Target: "second", TargetBlobID: second.ID}

	old, err = s.ReplaceRef(ctx, replacement)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, first.ID, old.TargetBlobID)

	got, err = s.GetRef(ctx, "ns", "main")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.Zero(t, got.Lifetime)

	t.Run("unknown target", func(t *testing.T) {
		_, err := s.ReplaceRef(ctx, &model.RefInfo{NamespaceID: "ns", Name: "dangling", TargetBlobID: model.NewBlobID(baseTime)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlobNotFound))

		_, err = s.GetRef(ctx, "ns", "dangling")
		assert.True(t, errors.Is(err, errors.ErrRefNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		old, err := s.DeleteRef(ctx, "ns", "main")
		require.NoError(t, err)
		require.NotNil(t, old)
		assert.Equal(t, second.ID, old.TargetBlobID)

		old, err = s.DeleteRef(ctx, "ns", "main")
		require.NoError(t, err)
		assert.Nil(t, old)
	})
}

func TestRefExpiry(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	target := addBlob(t, s, "ns", "t", baseTime)

	for i, expiry := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		_, err := s.ReplaceRef(ctx, &model.RefInfo{
			NamespaceID:  "ns",
			Name:         fmt.Sprintf("r%d", i),
			Target:       "t",
			TargetBlobID: target.ID,
			ExpiresAt:    baseTime.Add(expiry),
			Lifetime:     expiry,
		})
		require.NoError(t, err)
	}

	expired, err := s.FindExpiredRefs(ctx, baseTime.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "r0", expired[0].Name)

	// a stale expiry does not delete
	deleted, err := s.DeleteRefIfExpiresAt(ctx, "ns", "r0", baseTime)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteRefIfExpiresAt(ctx, "ns", "r0", expired[0].ExpiresAt)
	require.NoError(t, err)
	assert.True(t, deleted)

	r1, err := s.GetRef(ctx, "ns", "r1")
	require.NoError(t, err)

	touched, err := s.TouchRef(ctx, r1, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, touched)

	r2, err := s.GetRef(ctx, "ns", "r2")
	require.NoError(t, err)

	// touching never shortens the expiry
	touched, err = s.TouchRef(ctx, r2, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, touched)

	r1, err = s.GetRef(ctx, "ns", "r1")
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(30*time.Minute), r1.ExpiresAt)

	r2, err = s.GetRef(ctx, "ns", "r2")
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), r2.ExpiresAt)
}

func TestTouchRefLeavesRewrittenRefsAlone(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	first := addBlob(t, s, "ns", "first", baseTime)
	second := addBlob(t, s, "ns", "second", baseTime.Add(time.Second))

	ref := &model.RefInfo{
		NamespaceID:  "ns",
		Name:         "main",
		Target:       "first",
		TargetBlobID: first.ID,
		ExpiresAt:    baseTime.Add(time.Minute),
		Lifetime:     time.Minute,
	}

	_, err := s.ReplaceRef(ctx, ref)
	require.NoError(t, err)

	t.Run("another target", func(t *testing.T) {
		_, err := s.ReplaceRef(ctx, &model.RefInfo{
			NamespaceID:  "ns",
			Name:         "main",
			Target:       "second",
			TargetBlobID: second.ID,
			ExpiresAt:    baseTime.Add(time.Minute),
			Lifetime:     time.Minute,
		})
		require.NoError(t, err)

		touched, err := s.TouchRef(ctx, ref, baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, touched)

		stored, err := s.GetRef(ctx, "ns", "main")
		require.NoError(t, err)
		assert.Equal(t, baseTime.Add(time.Minute), stored.ExpiresAt)
	})

	t.Run("another lifetime", func(t *testing.T) {
		_, err := s.ReplaceRef(ctx, &model.RefInfo{
			NamespaceID:  "ns",
			Name:         "main",
			Target:       "first",
			TargetBlobID: first.ID,
			ExpiresAt:    baseTime.Add(time.Minute),
			Lifetime:     10 * time.Minute,
		})
		require.NoError(t, err)

		touched, err := s.TouchRef(ctx, ref, baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, touched)

		stored, err := s.GetRef(ctx, "ns", "main")
		require.NoError(t, err)
		assert.Equal(t, baseTime.Add(time.Minute), stored.ExpiresAt)
		assert.Equal(t, 10*time.Minute, stored.Lifetime)
	})
}

func TestState(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	data, version, err := s.GetState(ctx, meta.GcStateKey)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, int64(0), version)

	ok, err := s.CompareAndSwapState(ctx, meta.GcStateKey, []byte(`{"reset":true}`), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwapState(ctx, meta.GcStateKey, []byte(`{}`), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwapState(ctx, meta.GcStateKey, []byte(`{"reset":false}`), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	data, version, err = s.GetState(ctx, meta.GcStateKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"reset":false}`), data)
	assert.Equal(t, int64(2), version)

	doc := meta.NewStateDocument[model.GcState](s, meta.GcStateKey)

	state, err := doc.Update(ctx, func(state *model.GcState) error {
		state.Reset = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, state.Reset)
}

func TestHealth(t *testing.T) {
	s := newSQLiteStore(t)

	status, _, err := s.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}
