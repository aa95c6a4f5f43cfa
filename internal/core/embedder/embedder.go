// Package embedder maps fragments to vectors through the first embedding
// model, in priority order, that can be acquired.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

const (
	DefaultBatchSize   = 16
	DefaultConcurrency = 4
)

// DefaultModels is the model priority list used when none is configured.
var DefaultModels = []string{"amazon.titan-embed-text-v1", "cohere.embed-english-v3"}

// Model is an initialized embedding model.
type Model interface {
	Name() string
	Dimension() int
	// MaxBatch is the largest number of texts accepted per call; 0 means no limit.
	MaxBatch() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Factory opens models by identifier. Open fails when the model cannot be
// used at all (no access, unknown id, missing credentials).
type Factory interface {
	Open(ctx context.Context, modelID string) (Model, error)
}

type Option func(*Adapter)

func WithBatchSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithCacheSize keeps up to n vectors keyed by fragment text.
func WithCacheSize(n int) Option {
	return func(a *Adapter) {
		a.cacheSize = n
	}
}

// Adapter owns the model selection policy and fragment embedding.
type Adapter struct {
	factory     Factory
	modelIDs    []string
	batchSize   int
	concurrency int
	cacheSize   int
	cache       *vectorCache

	mu    sync.Mutex
	model Model
}

func NewAdapter(factory Factory, modelIDs []string, opts ...Option) (*Adapter, error) {
	if factory == nil {
		return nil, errors.New("embedder: factory is required")
	}
	ids := make([]string, 0, len(modelIDs))
	for _, id := range modelIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no embedding models configured", core.ErrEmbeddingUnavailable)
	}
	a := &Adapter{
		factory:     factory,
		modelIDs:    ids,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheSize > 0 {
		cache, err := newVectorCache(a.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

// Acquire returns the selected model, opening candidates in priority order
// on first use. A failed selection is retried on the next call.
func (a *Adapter) Acquire(ctx context.Context) (Model, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		return a.model, nil
	}

	log := logger.FromContext(ctx)
	causes := make([]error, 0, len(a.modelIDs))
	for _, id := range a.modelIDs {
		m, err := a.factory.Open(ctx, id)
		if err == nil && m.Dimension() <= 0 {
			err = fmt.Errorf("reported dimension %d", m.Dimension())
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("embedding model unavailable", "model", id, "error", err)
			causes = append(causes, fmt.Errorf("%s: %w", id, err))
			continue
		}
		log.Info("embedding model selected", "model", m.Name(), "dimension", m.Dimension())
		a.model = m
		return m, nil
	}
	return nil, fmt.Errorf("%w: tried %s: %w", core.ErrEmbeddingUnavailable, strings.Join(a.modelIDs, ", "), errors.Join(causes...))
}

// EmbedAll returns one vector per fragment, positionally aligned with the
// input. Blank fragments get a zero vector without calling the model.
func (a *Adapter) EmbedAll(ctx context.Context, fragments []models.Fragment) ([]models.EmbeddingVector, error) {
	model, err := a.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	dim := model.Dimension()
	out := make([]models.EmbeddingVector, len(fragments))

	pending := make([]int, 0, len(fragments))
	for i := range fragments {
		text := fragments[i].Text
		if strings.TrimSpace(text) == "" {
			out[i] = models.EmbeddingVector{Values: make([]float32, dim)}
			continue
		}
		if v, ok := a.cache.get(text); ok {
			out[i] = models.EmbeddingVector{Values: v}
			continue
		}
		pending = append(pending, i)
	}

	batch := a.batchSize
	if mb := model.MaxBatch(); mb > 0 && mb < batch {
		batch = mb
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for lo := 0; lo < len(pending); lo += batch {
		idx := pending[lo:min(lo+batch, len(pending))]
		g.Go(func() error {
			texts := make([]string, len(idx))
			for k, i := range idx {
				texts[k] = fragments[i].Text
			}
			vecs, err := model.EmbedTexts(gctx, texts)
			if err != nil {
				return fmt.Errorf("%w: model %s: %w", core.ErrEmbeddingCall, model.Name(), err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("%w: model %s returned %d vectors for %d texts",
					core.ErrDimensionMismatch, model.Name(), len(vecs), len(texts))
			}
			for k, i := range idx {
				if len(vecs[k]) != dim {
					return fmt.Errorf("%w: model %s returned length %d, expected %d",
						core.ErrInconsistentEmbeddingDimension, model.Name(), len(vecs[k]), dim)
				}
				out[i] = models.EmbeddingVector{Values: vecs[k]}
				a.cache.put(texts[k], vecs[k])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
