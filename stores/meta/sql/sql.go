// Package sql implements meta.Store on PostgreSQL and SQLite.
package sql

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util"
	"github.com/bsv-blockchain/blobstore/util/usql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQL struct {
	db     *usql.DB
	engine util.SQLEngine
	logger ulogger.Logger
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*SQL, error) {
	logger = logger.New("metasql")

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.SQLEngine(storeURL.Scheme)

	switch engine {
	case util.Postgres:
		if err = createPostgresSchema(db); err != nil {
			return nil, errors.NewStorageError("failed to create postgres schema", err)
		}

	case util.Sqlite, util.SqliteMemory:
		if err = createSqliteSchema(db); err != nil {
			return nil, errors.NewStorageError("failed to create sqlite schema", err)
		}

	default:
		return nil, errors.NewConfigurationError("unknown database engine: %s", storeURL.Scheme)
	}

	return newWithDB(logger, db, engine), nil
}

func newWithDB(logger ulogger.Logger, db *usql.DB, engine util.SQLEngine) *SQL {
	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
	}
}

func (s *SQL) isPostgres() bool {
	return s.engine == util.Postgres
}

func (s *SQL) Health(ctx context.Context, _ bool) (int, string, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return http.StatusServiceUnavailable, "Metadata SQL Store", errors.NewStorageUnavailableError("failed to ping metadata db", err)
	}

	return http.StatusOK, "Metadata SQL Store", nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// rollback is deferred after BeginTx, it is a no-op once the transaction committed.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}

	return false
}

func createPostgresSchema(db *usql.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"state table", `
			CREATE TABLE IF NOT EXISTS state (
			  key         VARCHAR(64) PRIMARY KEY
			  ,data       BYTEA NOT NULL
			  ,version    BIGINT NOT NULL
			  ,updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"blobs table", `
			CREATE TABLE IF NOT EXISTS blobs (
			  id            UUID PRIMARY KEY
			  ,namespace_id VARCHAR(255) NOT NULL
			  ,path         TEXT NOT NULL
			  ,gc_version   INTEGER NOT NULL DEFAULT 0
			  ,length       BIGINT NOT NULL DEFAULT 0
			);`},
		{"ux_blobs_namespace_path index", `CREATE UNIQUE INDEX IF NOT EXISTS ux_blobs_namespace_path ON blobs (namespace_id, path);`},
		{"blob_imports table", `
			CREATE TABLE IF NOT EXISTS blob_imports (
			  blob_id    UUID NOT NULL REFERENCES blobs (id) ON DELETE CASCADE
			  ,import_id UUID NOT NULL
			  ,PRIMARY KEY (blob_id, import_id)
			);`},
		{"idx_blob_imports_import_id index", `CREATE INDEX IF NOT EXISTS idx_blob_imports_import_id ON blob_imports (import_id);`},
		{"blob_aliases table", `
			CREATE TABLE IF NOT EXISTS blob_aliases (
			  seq        BIGSERIAL PRIMARY KEY
			  ,blob_id   UUID NOT NULL REFERENCES blobs (id) ON DELETE CASCADE
			  ,name      TEXT NOT NULL
			  ,fragment  TEXT NOT NULL
			  ,rank      INTEGER NOT NULL
			  ,data      BYTEA NULL
			);`},
		{"ux_blob_aliases_blob_name_fragment index", `CREATE UNIQUE INDEX IF NOT EXISTS ux_blob_aliases_blob_name_fragment ON blob_aliases (blob_id, name, fragment);`},
		{"idx_blob_aliases_name index", `CREATE INDEX IF NOT EXISTS idx_blob_aliases_name ON blob_aliases (name, rank DESC, seq);`},
		{"refs table", `
			CREATE TABLE IF NOT EXISTS refs (
			  namespace_id    VARCHAR(255) NOT NULL
			  ,name           TEXT NOT NULL
			  ,hash           BYTEA NOT NULL
			  ,target         TEXT NOT NULL
			  ,target_blob_id UUID NOT NULL
			  ,expires_at     BIGINT NULL
			  ,lifetime       BIGINT NULL
			  ,PRIMARY KEY (namespace_id, name)
			);`},
		{"idx_refs_target_blob_id index", `CREATE INDEX IF NOT EXISTS idx_refs_target_blob_id ON refs (target_blob_id);`},
		{"idx_refs_expires_at index", `CREATE INDEX IF NOT EXISTS idx_refs_expires_at ON refs (expires_at) WHERE expires_at IS NOT NULL;`},
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt.sql); err != nil {
			_ = db.Close()
			return errors.NewStorageError("could not create %s", stmt.name, err)
		}
	}

	return nil
}

func createSqliteSchema(db *usql.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"state table", `
			CREATE TABLE IF NOT EXISTS state (
			  key         VARCHAR(64) PRIMARY KEY
			  ,data       BLOB NOT NULL
			  ,version    BIGINT NOT NULL
			  ,updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"blobs table", `
			CREATE TABLE IF NOT EXISTS blobs (
			  id            TEXT PRIMARY KEY
			  ,namespace_id TEXT NOT NULL
			  ,path         TEXT NOT NULL
			  ,gc_version   INTEGER NOT NULL DEFAULT 0
			  ,length       BIGINT NOT NULL DEFAULT 0
			);`},
		{"ux_blobs_namespace_path index", `CREATE UNIQUE INDEX IF NOT EXISTS ux_blobs_namespace_path ON blobs (namespace_id, path);`},
		{"blob_imports table", `
			CREATE TABLE IF NOT EXISTS blob_imports (
			  blob_id    TEXT NOT NULL REFERENCES blobs (id) ON DELETE CASCADE
			  ,import_id TEXT NOT NULL
			  ,PRIMARY KEY (blob_id, import_id)
			);`},
		{"idx_blob_imports_import_id index", `CREATE INDEX IF NOT EXISTS idx_blob_imports_import_id ON blob_imports (import_id);`},
		{"blob_aliases table", `
			CREATE TABLE IF NOT EXISTS blob_aliases (
			  seq        INTEGER PRIMARY KEY AUTOINCREMENT
			  ,blob_id   TEXT NOT NULL REFERENCES blobs (id) ON DELETE CASCADE
			  ,name      TEXT NOT NULL
			  ,fragment  TEXT NOT NULL
			  ,rank      INTEGER NOT NULL
			  ,data      BLOB NULL
			);`},
		{"ux_blob_aliases_blob_name_fragment index", `CREATE UNIQUE INDEX IF NOT EXISTS ux_blob_aliases_blob_name_fragment ON blob_aliases (blob_id, name, fragment);`},
		{"idx_blob_aliases_name index", `CREATE INDEX IF NOT EXISTS idx_blob_aliases_name ON blob_aliases (name, rank DESC, seq);`},
		{"refs table", `
			CREATE TABLE IF NOT EXISTS refs (
			  namespace_id    TEXT NOT NULL
			  ,name           TEXT NOT NULL
			  ,hash           BLOB NOT NULL
			  ,target         TEXT NOT NULL
			  ,target_blob_id TEXT NOT NULL
			  ,expires_at     BIGINT NULL
			  ,lifetime       BIGINT NULL
			  ,PRIMARY KEY (namespace_id, name)
			);`},
		{"idx_refs_target_blob_id index", `CREATE INDEX IF NOT EXISTS idx_refs_target_blob_id ON refs (target_blob_id);`},
		{"idx_refs_expires_at index", `CREATE INDEX IF NOT EXISTS idx_refs_expires_at ON refs (expires_at) WHERE expires_at IS NOT NULL;`},
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt.sql); err != nil {
			_ = db.Close()
			return errors.NewStorageError("could not create %s", stmt.name, err)
		}
	}

	return nil
}
