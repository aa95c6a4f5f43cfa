package models

import (
	"time"
)

// IngestionRequest carries one uploaded document through the pipeline.
// A nil ChunkSize or Overlap falls back to the pipeline default; any value
// that is set is validated as given.
type IngestionRequest struct {
	RequestID string
	FileName  string
	Data      []byte
	ChunkSize *int
	Overlap   *int
}

// PageUnit is the extracted text of one physical page.
type PageUnit struct {
	Text      string            `json:"text"`
	PageIndex int               `json:"page_index"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Fragment is one retrieval-ready slice of a page.
type Fragment struct {
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	CharStart  int               `json:"char_start"` // rune offset inside the page text
	SourcePage int               `json:"source_page"`
	Hash       string            `json:"hash"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EmbeddingVector is the embedding of a single fragment.
type EmbeddingVector struct {
	Values []float32
}

func (v EmbeddingVector) Dimension() int {
	return len(v.Values)
}

// PublishedArtifact describes an index pair written to durable storage.
type PublishedArtifact struct {
	RequestID     string    `json:"request_id"`
	StorageKey    string    `json:"storage_key"`
	IndexKey      string    `json:"index_key"`
	SidecarKey    string    `json:"sidecar_key"`
	ManifestKey   string    `json:"manifest_key"`
	IndexURL      string    `json:"index_url"`
	SidecarURL    string    `json:"sidecar_url"`
	FragmentCount int       `json:"fragment_count"`
	Dimension     int       `json:"dimension"`
	Model         string    `json:"model"`
	PublishedAt   time.Time `json:"published_at"`
}

// Ingestion statuses tracked by the catalog.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Ingestion is the catalog record of one ingestion request.
type Ingestion struct {
	ID         string    `db:"id" json:"id"`
	FileName   string    `db:"file_name" json:"file_name"`
	Status     string    `db:"status" json:"status"` // queued | processing | ready | failed
	StorageKey string    `db:"storage_key" json:"storage_key,omitempty"`
	Model      string    `db:"model" json:"model,omitempty"`
	Pages      int       `db:"pages" json:"pages"`
	Fragments  int       `db:"fragments" json:"fragments"`
	Dimension  int       `db:"dimension" json:"dimension"`
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
