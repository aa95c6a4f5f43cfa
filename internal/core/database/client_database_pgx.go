package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/pdfindex/internal/config"
	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// ErrNotFound is returned when an ingestion id is not in the catalog.
var ErrNotFound = errors.New("ingestion not found")

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := withSSL(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// withSSL appends verify-ca parameters when a root certificate is configured.
func withSSL(databaseURL, certPath string) (string, error) {
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateIngestion(ctx context.Context, ing *models.Ingestion) error {
	if ing == nil {
		return errors.New("nil ingestion")
	}
	const q = `
		INSERT INTO ingestions (id, file_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q, ing.ID, ing.FileName, ing.Status).Scan(&ing.CreatedAt, &ing.UpdatedAt)
}

const ingestionColumns = `id, file_name, status, storage_key, model, pages, fragments, dimension, error, created_at, updated_at`

func scanIngestion(row interface{ Scan(...any) error }, ing *models.Ingestion) error {
	return row.Scan(
		&ing.ID, &ing.FileName, &ing.Status, &ing.StorageKey, &ing.Model,
		&ing.Pages, &ing.Fragments, &ing.Dimension, &ing.Error, &ing.CreatedAt, &ing.UpdatedAt,
	)
}

func (c *DatabaseClient) GetIngestionByID(ctx context.Context, id string) (*models.Ingestion, error) {
	q := `SELECT ` + ingestionColumns + ` FROM ingestions WHERE id = $1`
	var ing models.Ingestion
	err := scanIngestion(c.db.QueryRowContext(ctx, q, id), &ing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

func (c *DatabaseClient) ListIngestions(ctx context.Context, limit int) ([]models.Ingestion, error) {
	q := `SELECT ` + ingestionColumns + ` FROM ingestions ORDER BY created_at DESC LIMIT $1`
	rows, err := c.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Ingestion{}
	for rows.Next() {
		var ing models.Ingestion
		if err := scanIngestion(rows, &ing); err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateIngestionStatus(ctx context.Context, id, status, errMsg string) error {
	const q = `
		UPDATE ingestions
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errMsg)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (c *DatabaseClient) CompleteIngestion(ctx context.Context, id string, pages int, art *models.PublishedArtifact) error {
	if art == nil {
		return errors.New("nil artifact")
	}
	const q = `
		UPDATE ingestions
		SET status = $2, storage_key = $3, model = $4, pages = $5, fragments = $6,
		    dimension = $7, error = '', updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusReady, art.StorageKey, art.Model,
		pages, art.FragmentCount, art.Dimension)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// SaveFragments replaces the fragment rows of an ingestion in a single transaction.
func (c *DatabaseClient) SaveFragments(ctx context.Context, ingestionID string, fragments []models.Fragment, vectors []models.EmbeddingVector) error {
	if len(fragments) != len(vectors) {
		return fmt.Errorf("%w: %d fragments, %d vectors", core.ErrDimensionMismatch, len(fragments), len(vectors))
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ingestion_fragments WHERE ingestion_id = $1`, ingestionID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO ingestion_fragments
			(ingestion_id, position, text, char_start, source_page, hash, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range fragments {
		f := &fragments[i]
		vec := pgvector.NewVector(vectors[i].Values)
		if _, err := stmt.ExecContext(ctx,
			ingestionID, f.Index, f.Text, f.CharStart, f.SourcePage, f.Hash, vec,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var _ core.DbClient = (*DatabaseClient)(nil)
