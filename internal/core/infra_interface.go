package core

import (
	"context"
	"io"

	"github.com/markdave123-py/pdfindex/internal/models"
)

// DocumentLoader parses raw document bytes into ordered page units.
type DocumentLoader interface {
	Load(ctx context.Context, data []byte) ([]models.PageUnit, error)
}

// DbClient is the ingestion catalog. It abstracts Postgres so higher layers
// never depend on a specific DB.
type DbClient interface {
	CreateIngestion(ctx context.Context, ing *models.Ingestion) error
	GetIngestionByID(ctx context.Context, id string) (*models.Ingestion, error)
	ListIngestions(ctx context.Context, limit int) ([]models.Ingestion, error)
	UpdateIngestionStatus(ctx context.Context, id, status, errMsg string) error
	CompleteIngestion(ctx context.Context, id string, pages int, art *models.PublishedArtifact) error
	SaveFragments(ctx context.Context, ingestionID string, fragments []models.Fragment, vectors []models.EmbeddingVector) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}
