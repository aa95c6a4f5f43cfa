// Package ingestion_engine runs documents through load, chunk, embed, build
// and publish, and tracks each ingestion in the catalog.
package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/core/chunker"
	"github.com/markdave123-py/pdfindex/internal/core/embedder"
	"github.com/markdave123-py/pdfindex/internal/core/index"
	"github.com/markdave123-py/pdfindex/internal/core/requestid"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// Embedder is the fragment embedding capability the pipeline depends on.
type Embedder interface {
	Acquire(ctx context.Context) (embedder.Model, error)
	EmbedAll(ctx context.Context, fragments []models.Fragment) ([]models.EmbeddingVector, error)
}

type Publisher interface {
	Publish(ctx context.Context, ix *index.Index, requestID string) (*models.PublishedArtifact, error)
}

// Result is what a successful ingestion produced.
type Result struct {
	RequestID string
	Artifact  *models.PublishedArtifact
	Pages     int
	Fragments []models.Fragment
	Vectors   []models.EmbeddingVector
}

type Pipeline struct {
	loader    core.DocumentLoader
	chunking  chunker.Settings
	embedder  Embedder
	publisher Publisher
	metrics   *Metrics
}

type PipelineOption func(*Pipeline)

func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(loader core.DocumentLoader, chunking chunker.Settings, emb Embedder, pub Publisher, opts ...PipelineOption) (*Pipeline, error) {
	if loader == nil || emb == nil || pub == nil {
		return nil, errors.New("pipeline: loader, embedder and publisher are required")
	}
	if err := chunking.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{loader: loader, chunking: chunking, embedder: emb, publisher: pub}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest runs one request end to end. Stages fail fast; the returned error
// is a *core.StageError wrapping one of the core sentinel errors. Nothing
// is published unless every earlier stage succeeded.
func (p *Pipeline) Ingest(ctx context.Context, req models.IngestionRequest) (res *Result, err error) {
	switch {
	case req.RequestID == "":
		req.RequestID = requestid.New()
	case !requestid.Valid(req.RequestID):
		return nil, fmt.Errorf("%w: request id %q is not a canonical uuid", core.ErrInvalidRequest, req.RequestID)
	}
	log := logger.FromContext(ctx).With("request_id", req.RequestID)
	ctx = logger.ContextWithLogger(ctx, log)
	started := time.Now()
	defer func() { p.metrics.observeIngestion(err, time.Since(started)) }()

	fail := func(stage string, err error) error {
		log.Error("ingestion failed", "stage", stage, "error", err)
		return &core.StageError{Stage: stage, RequestID: req.RequestID, Err: err}
	}

	settings := p.chunkSettings(req)
	splitter, err := chunker.New(settings)
	if err != nil {
		return nil, fail(core.StageChunk, err)
	}

	var pages []models.PageUnit
	err = p.metrics.timeStage(core.StageLoad, func() error {
		pages, err = p.loader.Load(ctx, req.Data)
		return err
	})
	if err != nil {
		return nil, fail(core.StageLoad, err)
	}
	pages = withSource(pages, req.FileName)
	log.Debug("document loaded", "pages", len(pages))

	var fragments []models.Fragment
	_ = p.metrics.timeStage(core.StageChunk, func() error {
		fragments = splitter.Split(pages)
		return nil
	})
	p.metrics.observeFragments(len(fragments))
	log.Debug("document chunked", "fragments", len(fragments), "chunk_size", settings.Size, "overlap", settings.Overlap)

	var (
		vectors []models.EmbeddingVector
		model   embedder.Model
	)
	err = p.metrics.timeStage(core.StageEmbed, func() error {
		if vectors, err = p.embedder.EmbedAll(ctx, fragments); err != nil {
			return err
		}
		model, err = p.embedder.Acquire(ctx)
		return err
	})
	if err != nil {
		return nil, fail(core.StageEmbed, err)
	}

	var ix *index.Index
	err = p.metrics.timeStage(core.StageBuild, func() error {
		ix, err = index.Build(req.RequestID, model.Name(), fragments, vectors)
		return err
	})
	if err != nil {
		return nil, fail(core.StageBuild, err)
	}

	var art *models.PublishedArtifact
	err = p.metrics.timeStage(core.StagePublish, func() error {
		art, err = p.publisher.Publish(ctx, ix, req.RequestID)
		return err
	})
	if err != nil {
		if !errors.Is(err, core.ErrPersistenceFailure) {
			err = fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)
		}
		return nil, fail(core.StagePublish, err)
	}

	log.Info("ingestion complete", "pages", len(pages), "fragments", len(fragments), "key", art.StorageKey, "model", art.Model)
	return &Result{
		RequestID: req.RequestID,
		Artifact:  art,
		Pages:     len(pages),
		Fragments: fragments,
		Vectors:   vectors,
	}, nil
}

// chunkSettings overlays the request's explicit chunk parameters on the
// pipeline defaults. The result is validated by chunker.New.
func (p *Pipeline) chunkSettings(req models.IngestionRequest) chunker.Settings {
	settings := p.chunking
	if req.ChunkSize != nil {
		settings.Size = *req.ChunkSize
	}
	if req.Overlap != nil {
		settings.Overlap = *req.Overlap
	}
	return settings
}

// withSource tags every page with the uploaded file name.
func withSource(pages []models.PageUnit, fileName string) []models.PageUnit {
	if fileName == "" {
		return pages
	}
	out := make([]models.PageUnit, len(pages))
	for i, pg := range pages {
		pg.Metadata = maps.Clone(pg.Metadata)
		if pg.Metadata == nil {
			pg.Metadata = make(map[string]string, 1)
		}
		pg.Metadata["source"] = fileName
		out[i] = pg
	}
	return out
}
