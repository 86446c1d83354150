// Package repomanager vends the client's SQLite repositories bound to a
// dbx.DBTX, so services can put several repositories on one transaction, and
// opens the client database.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/planbook/internal/client/migrations"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/entities"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/filex"

	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	Entities(db dbx.DBTX) entities.Repository
	Outbox(db dbx.DBTX) outbox.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLiteRepositoryManager returns SQLite-backed repositories.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Entities(db dbx.DBTX) entities.Repository {
	return entities.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Outbox(db dbx.DBTX) outbox.Repository {
	return outbox.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// migrateUp is a seam for tests.
var migrateUp = migrations.Up

// OpenDatabase opens (creating if needed) the SQLite database at dsn and
// migrates it. SQLite allows a single writer, so the pool is capped at one
// connection; this also keeps ":memory:" databases alive across calls.
func OpenDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	if err := migrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
