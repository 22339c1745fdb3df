package sql

import (
	"context"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
	"github.com/bsv-blockchain/blobstore/tracing"
)

func (s *SQL) AddAlias(ctx context.Context, blobID model.BlobID, alias model.AliasInfo) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:AddAlias")
	defer deferFn()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blob_aliases (blob_id, name, fragment, rank, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (blob_id, name, fragment) DO NOTHING
	`, blobID, alias.Name, alias.Fragment, alias.Rank, alias.Data)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, errors.NewBlobNotFoundError("blob %s not found", blobID, err)
		}

		return false, errors.NewStorageError("failed to add alias %s to blob %s", alias.Name, blobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to add alias %s to blob %s", alias.Name, blobID, err)
	}

	return n > 0, nil
}

func (s *SQL) RemoveAlias(ctx context.Context, blobID model.BlobID, name string, fragment string) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:RemoveAlias")
	defer deferFn()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM blob_aliases
		WHERE blob_id = $1 AND name = $2 AND fragment = $3
	`, blobID, name, fragment); err != nil {
		return errors.NewStorageError("failed to remove alias %s from blob %s", name, blobID, err)
	}

	return nil
}

func (s *SQL) FindAliases(ctx context.Context, namespaceID string, name string, maxResults int) ([]model.BlobAlias, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:FindAliases")
	defer deferFn()

	q := `
		SELECT b.path, a.fragment, a.rank, a.data
		FROM blob_aliases a
		JOIN blobs b ON b.id = a.blob_id
		WHERE b.namespace_id = $1 AND a.name = $2
		ORDER BY a.rank DESC, a.seq ASC
	`

	args := []interface{}{namespaceID, name}

	if maxResults > 0 {
		q += ` LIMIT $3`

		args = append(args, maxResults)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.NewStorageError("failed to find aliases %s", name, err)
	}

	defer rows.Close()

	var aliases []model.BlobAlias

	for rows.Next() {
		var (
			path     string
			fragment string
			alias    model.BlobAlias
		)

		if err = rows.Scan(&path, &fragment, &alias.Rank, &alias.Data); err != nil {
			return nil, errors.NewStorageError("failed to scan alias %s", name, err)
		}

		alias.Target = model.NewLocator(path, fragment)
		aliases = append(aliases, alias)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate aliases %s", name, err)
	}

	return aliases, nil
}
