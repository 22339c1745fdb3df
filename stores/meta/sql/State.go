package sql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/tracing"
)

func (s *SQL) GetState(ctx context.Context, key string) ([]byte, int64, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:GetState")
	defer deferFn()

	var (
		data    []byte
		version int64
	)

	if err := s.db.QueryRowContext(ctx, `
		SELECT data, version
		FROM state
		WHERE key = $1
	`, key).Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}

		return nil, 0, errors.NewStorageError("failed to get state %s", key, err)
	}

	return data, version, nil
}

func (s *SQL) CompareAndSwapState(ctx context.Context, key string, data []byte, version int64) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "sql:CompareAndSwapState")
	defer deferFn()

	var (
		res sql.Result
		err error
	)

	if version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO state (key, data, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (key) DO NOTHING
		`, key, data)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE state
			SET data = $2, version = $3, updated_at = CURRENT_TIMESTAMP
			WHERE key = $1 AND version = $4
		`, key, data, version+1, version)
	}

	if err != nil {
		return false, errors.NewStorageError("failed to write state %s", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to write state %s", key, err)
	}

	return n > 0, nil
}
