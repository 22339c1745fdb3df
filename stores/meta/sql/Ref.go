package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/tracing"
)

// attempts of ReplaceRef when two writers insert the same new ref concurrently
const replaceRefAttempts = 3

const refColumns = `namespace_id, name, hash, target, target_blob_id, expires_at, lifetime`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRef(row rowScanner) (*model.RefInfo, error) {
	var (
		ref       model.RefInfo
		target    string
		expiresAt sql.NullInt64
		lifetime  sql.NullInt64
	)

	if err := row.Scan(&ref.NamespaceID, &ref.Name, &ref.Hash, &target, &ref.TargetBlobID, &expiresAt, &lifetime); err != nil {
		return nil, err
	}

	ref.Target = model.Locator(target)
	ref.ExpiresAt = fromMillis(expiresAt)

	if lifetime.Valid {
		ref.Lifetime = time.Duration(lifetime.Int64) * time.Millisecond
	}

	return &ref, nil
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return time.UnixMilli(n.Int64).UTC()
}

func lifetimeMillis(d time.Duration) sql.NullInt64 {
	if d <= 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
}

func (s *SQL) GetRef(ctx context.Context, namespaceID string, name string) (*model.RefInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:GetRef")
	defer deferFn()

	ref, err := scanRef(s.db.QueryRowContext(ctx, `
		SELECT `+refColumns+`
		FROM refs
		WHERE namespace_id = $1 AND name = $2
	`, namespaceID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewRefNotFoundError("ref %s not found in namespace %s", name, namespaceID)
		}

		return nil, errors.NewStorageError("failed to get ref %s", name, err)
	}

	return ref, nil
}

func (s *SQL) ReplaceRef(ctx context.Context, ref *model.RefInfo) (*model.RefInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:ReplaceRef")
	defer deferFn()

	var err error

	for attempt := 0; attempt < replaceRefAttempts; attempt++ {
		var old *model.RefInfo

		old, err = s.replaceRef(ctx, ref)
		if err == nil {
			return old, nil
		}

		// another writer inserted the same ref between our read and our insert, the next attempt updates it
		if !isUniqueViolation(err) {
			return nil, err
		}
	}

	return nil, errors.NewConflictError("failed to replace ref %s", ref.Name, err)
}

func (s *SQL) replaceRef(ctx context.Context, ref *model.RefInfo) (*model.RefInfo, error) {
	lockClause := ""
	shareClause := ""

	if s.isPostgres() {
		lockClause = " FOR UPDATE"
		shareClause = " FOR SHARE"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorageError("failed to begin transaction", err)
	}

	defer rollback(tx)

	var targetID model.BlobID
	if err = tx.QueryRowContext(ctx, `SELECT id FROM blobs WHERE id = $1`+shareClause, ref.TargetBlobID).Scan(&targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewBlobNotFoundError("target blob %s of ref %s not found", ref.TargetBlobID, ref.Name)
		}

		return nil, errors.NewStorageError("failed to check target of ref %s", ref.Name, err)
	}

	old, err := scanRef(tx.QueryRowContext(ctx, `
		SELECT `+refColumns+`
		FROM refs
		WHERE namespace_id = $1 AND name = $2`+lockClause,
		ref.NamespaceID, ref.Name))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewStorageError("failed to read ref %s", ref.Name, err)
	}

	hash := ref.Hash
	if hash == nil {
		hash = []byte{}
	}

	if old != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE refs
			SET hash = $3, target = $4, target_blob_id = $5, expires_at = $6, lifetime = $7
			WHERE namespace_id = $1 AND name = $2
		`, ref.NamespaceID, ref.Name, hash, string(ref.Target), ref.TargetBlobID, toMillis(ref.ExpiresAt), lifetimeMillis(ref.Lifetime))
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO refs (`+refColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ref.NamespaceID, ref.Name, hash, string(ref.Target), ref.TargetBlobID, toMillis(ref.ExpiresAt), lifetimeMillis(ref.Lifetime))
	}

	if err != nil {
		return nil, errors.NewStorageError("failed to write ref %s", ref.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.NewStorageError("failed to commit ref %s", ref.Name, err)
	}

	return old, nil
}

func (s *SQL) DeleteRef(ctx context.Context, namespaceID string, name string) (*model.RefInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:DeleteRef")
	defer deferFn()

	old, err := scanRef(s.db.QueryRowContext(ctx, `
		DELETE FROM refs
		WHERE namespace_id = $1 AND name = $2
		RETURNING `+refColumns,
		namespaceID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, errors.NewStorageError("failed to delete ref %s", name, err)
	}

	return old, nil
}

func (s *SQL) DeleteRefIfExpiresAt(ctx context.Context, namespaceID string, name string, expiresAt time.Time) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:DeleteRefIfExpiresAt")
	defer deferFn()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM refs
		WHERE namespace_id = $1 AND name = $2 AND expires_at = $3
	`, namespaceID, name, expiresAt.UnixMilli())
	if err != nil {
		return false, errors.NewStorageError("failed to delete expired ref %s", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to delete expired ref %s", name, err)
	}

	return n > 0, nil
}

func (s *SQL) TouchRef(ctx context.Context, ref *model.RefInfo, expiresAt time.Time) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:TouchRef")
	defer deferFn()

	res, err := s.db.ExecContext(ctx, `
		UPDATE refs
		SET expires_at = $3
		WHERE namespace_id = $1 AND name = $2 AND expires_at IS NOT NULL AND expires_at < $4
			AND target_blob_id = $5 AND lifetime = $6
	`, ref.NamespaceID, ref.Name, expiresAt.UnixMilli(), expiresAt.UnixMilli(), ref.TargetBlobID, lifetimeMillis(ref.Lifetime))
	if err != nil {
		return false, errors.NewStorageError("failed to touch ref %s", ref.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to touch ref %s", ref.Name, err)
	}

	return n > 0, nil
}

func (s *SQL) FindExpiredRefs(ctx context.Context, now time.Time, limit int) ([]*model.RefInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:FindExpiredRefs")
	defer deferFn()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+refColumns+`
		FROM refs
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now.UnixMilli(), limit)
	if err != nil {
		return nil, errors.NewStorageError("failed to find expired refs", err)
	}

	defer rows.Close()

	var refs []*model.RefInfo

	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan expired ref", err)
		}

		refs = append(refs, ref)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate expired refs", err)
	}

	return refs, nil
}
