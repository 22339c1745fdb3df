package sql

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/tracing"
)

// number of paths resolved per query in FindBlobIDs
const findBlobIDsBatchSize = 500

func (s *SQL) AddBlob(ctx context.Context, blob *model.BlobInfo) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:AddBlob")
	defer deferFn()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	defer rollback(tx)

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO blobs (id, namespace_id, path, gc_version, length)
		VALUES ($1, $2, $3, $4, $5)
	`, blob.ID, blob.NamespaceID, blob.Path, blob.GcVersion, blob.Length); err != nil {
		if isUniqueViolation(err) {
			return errors.NewBlobExistsError("blob %s already exists in namespace %s", blob.Path, blob.NamespaceID, err)
		}

		return errors.NewStorageError("failed to insert blob %s", blob.Path, err)
	}

	seen := make(map[model.BlobID]struct{}, len(blob.Imports))

	for _, importID := range blob.Imports {
		if _, ok := seen[importID]; ok {
			continue
		}

		seen[importID] = struct{}{}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO blob_imports (blob_id, import_id)
			VALUES ($1, $2)
		`, blob.ID, importID); err != nil {
			return errors.NewStorageError("failed to insert import %s of blob %s", importID, blob.Path, err)
		}
	}

	for _, alias := range blob.Aliases {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO blob_aliases (blob_id, name, fragment, rank, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (blob_id, name, fragment) DO NOTHING
		`, blob.ID, alias.Name, alias.Fragment, alias.Rank, alias.Data); err != nil {
			return errors.NewStorageError("failed to insert alias %s of blob %s", alias.Name, blob.Path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit blob %s", blob.Path, err)
	}

	return nil
}

func (s *SQL) FindBlobIDs(ctx context.Context, namespaceID string, paths []string) (map[string]model.BlobID, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:FindBlobIDs")
	defer deferFn()

	result := make(map[string]model.BlobID, len(paths))

	for start := 0; start < len(paths); start += findBlobIDsBatchSize {
		end := start + findBlobIDsBatchSize
		if end > len(paths) {
			end = len(paths)
		}

		batch := paths[start:end]

		placeholders := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, namespaceID)

		for i, p := range batch {
			placeholders[i] = "$" + strconv.Itoa(i+2)
			args = append(args, p)
		}

		q := `SELECT path, id FROM blobs WHERE namespace_id = $1 AND path IN (` + strings.Join(placeholders, ",") + `)`

		if err := s.queryBlobIDs(ctx, q, args, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *SQL) queryBlobIDs(ctx context.Context, q string, args []interface{}, result map[string]model.BlobID) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return errors.NewStorageError("failed to find blob ids", err)
	}

	defer rows.Close()

	for rows.Next() {
		var (
			path string
			id   model.BlobID
		)

		if err = rows.Scan(&path, &id); err != nil {
			return errors.NewStorageError("failed to scan blob id", err)
		}

		result[path] = id
	}

	if err = rows.Err(); err != nil {
		return errors.NewStorageError("failed to iterate blob ids", err)
	}

	return nil
}

func (s *SQL) GetBlob(ctx context.Context, namespaceID string, path string) (*model.BlobInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:GetBlob")
	defer deferFn()

	return s.getBlob(ctx, `
		SELECT id, namespace_id, path, gc_version, length
		FROM blobs
		WHERE namespace_id = $1 AND path = $2
	`, namespaceID, path)
}

func (s *SQL) GetBlobByID(ctx context.Context, id model.BlobID) (*model.BlobInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:GetBlobByID")
	defer deferFn()

	return s.getBlob(ctx, `
		SELECT id, namespace_id, path, gc_version, length
		FROM blobs
		WHERE id = $1
	`, id)
}

func (s *SQL) getBlob(ctx context.Context, q string, args ...interface{}) (*model.BlobInfo, error) {
	blob := &model.BlobInfo{}

	if err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&blob.ID,
		&blob.NamespaceID,
		&blob.Path,
		&blob.GcVersion,
		&blob.Length,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewBlobNotFoundError("blob %v not found", args)
		}

		return nil, errors.NewStorageError("failed to get blob", err)
	}

	if err := s.loadImports(ctx, blob); err != nil {
		return nil, err
	}

	if err := s.loadAliases(ctx, blob); err != nil {
		return nil, err
	}

	return blob, nil
}

func (s *SQL) loadImports(ctx context.Context, blob *model.BlobInfo) error {
	rows, err := s.db.QueryContext(ctx, `SELECT import_id FROM blob_imports WHERE blob_id = $1`, blob.ID)
	if err != nil {
		return errors.NewStorageError("failed to get imports of blob %s", blob.ID, err)
	}

	defer rows.Close()

	for rows.Next() {
		var id model.BlobID
		if err = rows.Scan(&id); err != nil {
			return errors.NewStorageError("failed to scan import of blob %s", blob.ID, err)
		}

		blob.Imports = append(blob.Imports, id)
	}

	if err = rows.Err(); err != nil {
		return errors.NewStorageError("failed to iterate imports of blob %s", blob.ID, err)
	}

	sort.Slice(blob.Imports, func(i, j int) bool { return blob.Imports[i].Less(blob.Imports[j]) })

	return nil
}

func (s *SQL) loadAliases(ctx context.Context, blob *model.BlobInfo) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, fragment, rank, data
		FROM blob_aliases
		WHERE blob_id = $1
		ORDER BY seq
	`, blob.ID)
	if err != nil {
		return errors.NewStorageError("failed to get aliases of blob %s", blob.ID, err)
	}

	defer rows.Close()

	for rows.Next() {
		var alias model.AliasInfo
		if err = rows.Scan(&alias.Name, &alias.Fragment, &alias.Rank, &alias.Data); err != nil {
			return errors.NewStorageError("failed to scan alias of blob %s", blob.ID, err)
		}

		blob.Aliases = append(blob.Aliases, alias)
	}

	if err = rows.Err(); err != nil {
		return errors.NewStorageError("failed to iterate aliases of blob %s", blob.ID, err)
	}

	return nil
}

func (s *SQL) FindBlobsInRange(ctx context.Context, after, before model.BlobID, limit int) ([]*model.BlobInfo, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:FindBlobsInRange")
	defer deferFn()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace_id, path, gc_version, length
		FROM blobs
		WHERE id > $1 AND id < $2
		ORDER BY id
		LIMIT $3
	`, after, before, limit)
	if err != nil {
		return nil, errors.NewStorageError("failed to find blobs in range", err)
	}

	defer rows.Close()

	blobs := make([]*model.BlobInfo, 0, limit)

	for rows.Next() {
		blob := &model.BlobInfo{}
		if err = rows.Scan(&blob.ID, &blob.NamespaceID, &blob.Path, &blob.GcVersion, &blob.Length); err != nil {
			return nil, errors.NewStorageError("failed to scan blob", err)
		}

		blobs = append(blobs, blob)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate blobs", err)
	}

	return blobs, nil
}

func (s *SQL) IsBlobReferenced(ctx context.Context, id model.BlobID) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:IsBlobReferenced")
	defer deferFn()

	var referenced bool

	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blob_imports WHERE import_id = $1 AND blob_id <> $2)
		    OR EXISTS (SELECT 1 FROM refs WHERE target_blob_id = $3)
	`, id, id, id).Scan(&referenced); err != nil {
		return false, errors.NewStorageError("failed to check references of blob %s", id, err)
	}

	return referenced, nil
}

func (s *SQL) DeleteBlobIfUnreferenced(ctx context.Context, id model.BlobID) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:DeleteBlobIfUnreferenced")
	defer deferFn()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blobs
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM blob_imports WHERE import_id = $2 AND blob_id <> $3)
		  AND NOT EXISTS (SELECT 1 FROM refs WHERE target_blob_id = $4)
	`, id, id, id, id)
	if err != nil {
		return false, errors.NewStorageError("failed to delete blob %s", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to delete blob %s", id, err)
	}

	return n > 0, nil
}

func (s *SQL) SetBlobGcVersion(ctx context.Context, id model.BlobID, version int) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:SetBlobGcVersion")
	defer deferFn()

	if _, err := s.db.ExecContext(ctx, `UPDATE blobs SET gc_version = $2 WHERE id = $1`, id, version); err != nil {
		return errors.NewStorageError("failed to set gc version of blob %s", id, err)
	}

	return nil
}

func (s *SQL) SetBlobLength(ctx context.Context, id model.BlobID, length int64) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:SetBlobLength")
	defer deferFn()

	if _, err := s.db.ExecContext(ctx, `UPDATE blobs SET length = $2 WHERE id = $1`, id, length); err != nil {
		return errors.NewStorageError("failed to set length of blob %s", id, err)
	}

	return nil
}
