package db

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// MemoryClient is an in-process catalog used when no DATABASE_URL is set.
type MemoryClient struct {
	mu        sync.RWMutex
	rows      map[string]*models.Ingestion
	fragments map[string][]models.Fragment
	now       func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		rows:      make(map[string]*models.Ingestion),
		fragments: make(map[string][]models.Fragment),
		now:       time.Now,
	}
}

func (m *MemoryClient) CreateIngestion(_ context.Context, ing *models.Ingestion) error {
	if ing == nil {
		return errors.New("nil ingestion")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ing.ID]; ok {
		return fmt.Errorf("ingestion %s already exists", ing.ID)
	}
	now := m.now()
	ing.CreatedAt, ing.UpdatedAt = now, now
	row := *ing
	m.rows[ing.ID] = &row
	return nil
}

func (m *MemoryClient) GetIngestionByID(_ context.Context, id string) (*models.Ingestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

// ListIngestions returns the newest ingestions first.
func (m *MemoryClient) ListIngestions(_ context.Context, limit int) ([]models.Ingestion, error) {
	m.mu.RLock()
	out := make([]models.Ingestion, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *row)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Ingestion) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryClient) UpdateIngestionStatus(_ context.Context, id, status, errMsg string) error {
	return m.update(id, func(row *models.Ingestion) {
		row.Status = status
		row.Error = errMsg
	})
}

func (m *MemoryClient) CompleteIngestion(_ context.Context, id string, pages int, art *models.PublishedArtifact) error {
	if art == nil {
		return errors.New("nil artifact")
	}
	return m.update(id, func(row *models.Ingestion) {
		row.Status = models.StatusReady
		row.StorageKey = art.StorageKey
		row.Model = art.Model
		row.Pages = pages
		row.Fragments = art.FragmentCount
		row.Dimension = art.Dimension
		row.Error = ""
	})
}

func (m *MemoryClient) update(id string, fn func(*models.Ingestion)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(row)
	row.UpdatedAt = m.now()
	return nil
}

// SaveFragments keeps fragment text only; vectors live in the published index.
func (m *MemoryClient) SaveFragments(_ context.Context, ingestionID string, fragments []models.Fragment, vectors []models.EmbeddingVector) error {
	if len(fragments) != len(vectors) {
		return fmt.Errorf("%w: %d fragments, %d vectors", core.ErrDimensionMismatch, len(fragments), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ingestionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ingestionID)
	}
	saved := make([]models.Fragment, len(fragments))
	for i, f := range fragments {
		f.Metadata = maps.Clone(f.Metadata)
		saved[i] = f
	}
	m.fragments[ingestionID] = saved
	return nil
}

// Fragments returns the fragments saved for an ingestion.
func (m *MemoryClient) Fragments(ingestionID string) []models.Fragment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.fragments[ingestionID])
}

func (m *MemoryClient) Close() error { return nil }

var _ core.DbClient = (*MemoryClient)(nil)
