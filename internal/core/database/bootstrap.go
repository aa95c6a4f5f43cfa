package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/markdave123-py/pdfindex/internal/logger"
)

//go:embed scripts/initdb.sql
var initSQL string

const (
	schemaVersion    = 1
	bootstrapTimeout = 3 * time.Minute
)

// currentSchema returns the highest recorded schema version, or 0 when the
// catalog has never been bootstrapped.
func currentSchema(ctx context.Context, db *sql.DB) (int, error) {
	var table sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('pdfindex_meta')::text`).Scan(&table); err != nil {
		return 0, fmt.Errorf("look up meta table: %w", err)
	}
	if !table.Valid {
		return 0, nil
	}
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT max(version) FROM pdfindex_meta`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// EnsureBootstrapped applies scripts/initdb.sql when the catalog is older than
// schemaVersion. The script is idempotent so a partial earlier run is safe.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	have, err := currentSchema(ctx, db)
	if err != nil {
		return err
	}
	if have >= schemaVersion {
		return nil
	}
	logger.FromContext(ctx).Info("bootstrapping catalog schema", "from", have, "to", schemaVersion)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, initSQL); err != nil {
		return fmt.Errorf("apply initdb.sql: %w", err)
	}
	return tx.Commit()
}
