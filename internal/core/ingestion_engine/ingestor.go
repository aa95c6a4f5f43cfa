package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/core/requestid"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// ErrQueueClosed is returned by Enqueue once the workers have stopped.
var ErrQueueClosed = errors.New("ingestion queue closed")

// Runner runs a single ingestion; *Pipeline implements it.
type Runner interface {
	Ingest(ctx context.Context, req models.IngestionRequest) (*Result, error)
}

// Ingestor tracks ingestions in the catalog and runs them either inline
// (Submit) or on a pool of workers fed by a bounded queue (Enqueue).
type Ingestor struct {
	runner  Runner
	db      core.DbClient
	jobs    chan models.IngestionRequest
	timeout time.Duration

	mu   sync.RWMutex
	done <-chan struct{}
	wg   sync.WaitGroup
}

// NewIngestor constructs the ingestor with a bounded job queue.
func NewIngestor(runner Runner, db core.DbClient, queueSize int, timeout time.Duration) *Ingestor {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ingestor{
		runner:  runner,
		db:      db,
		jobs:    make(chan models.IngestionRequest, queueSize),
		timeout: timeout,
	}
}

// Start runs numWorkers goroutines reading from the job queue until ctx is done.
func (i *Ingestor) Start(ctx context.Context, numWorkers int) {
	log := logger.FromContext(ctx)
	i.mu.Lock()
	i.done = ctx.Done()
	i.mu.Unlock()
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Debug("ingestion worker shutting down", "worker", w)
					return
				case req := <-i.jobs:
					log.Info("processing ingestion", "request_id", req.RequestID, "worker", w)
					if _, err := i.process(ctx, req); err != nil {
						log.Warn("ingestion did not complete", "request_id", req.RequestID, "error", err)
					}
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has returned, then marks ingestions still
// in the queue as failed.
func (i *Ingestor) Wait() {
	i.wg.Wait()
	for {
		select {
		case req := <-i.jobs:
			i.markFailed(context.Background(), req.RequestID, ErrQueueClosed)
		default:
			return
		}
	}
}

// QueueDepth is the number of ingestions waiting for a worker.
func (i *Ingestor) QueueDepth() int {
	return len(i.jobs)
}

// Enqueue records the ingestion as queued and schedules it. If the queue is
// full this call blocks until space frees up or ctx is done.
func (i *Ingestor) Enqueue(ctx context.Context, req models.IngestionRequest) (*models.Ingestion, error) {
	i.mu.RLock()
	done := i.done
	i.mu.RUnlock()
	if isClosed(done) {
		return nil, ErrQueueClosed
	}

	ing, err := i.register(ctx, &req)
	if err != nil {
		return nil, err
	}
	select {
	case i.jobs <- req:
		return ing, nil
	case <-ctx.Done():
		i.markFailed(context.WithoutCancel(ctx), req.RequestID, ctx.Err())
		return nil, ctx.Err()
	case <-done:
		i.markFailed(ctx, req.RequestID, ErrQueueClosed)
		return nil, ErrQueueClosed
	}
}

func isClosed(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Submit runs the ingestion inline and returns its final catalog record.
func (i *Ingestor) Submit(ctx context.Context, req models.IngestionRequest) (*models.Ingestion, *Result, error) {
	if _, err := i.register(ctx, &req); err != nil {
		return nil, nil, err
	}
	res, runErr := i.process(ctx, req)
	ing, err := i.db.GetIngestionByID(context.WithoutCancel(ctx), req.RequestID)
	if err != nil {
		return nil, res, errors.Join(runErr, err)
	}
	return ing, res, runErr
}

func (i *Ingestor) register(ctx context.Context, req *models.IngestionRequest) (*models.Ingestion, error) {
	switch {
	case req.RequestID == "":
		req.RequestID = requestid.New()
	case !requestid.Valid(req.RequestID):
		return nil, fmt.Errorf("%w: request id %q is not a canonical uuid", core.ErrInvalidRequest, req.RequestID)
	}
	ing := &models.Ingestion{
		ID:       req.RequestID,
		FileName: req.FileName,
		Status:   models.StatusQueued,
	}
	if err := i.db.CreateIngestion(ctx, ing); err != nil {
		return nil, fmt.Errorf("register ingestion: %w", err)
	}
	return ing, nil
}

// process runs the pipeline for one request and records the outcome. The
// catalog is updated even when ctx was cancelled mid-run.
func (i *Ingestor) process(ctx context.Context, req models.IngestionRequest) (*Result, error) {
	procCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	bookCtx := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx).With("request_id", req.RequestID)

	if err := i.db.UpdateIngestionStatus(bookCtx, req.RequestID, models.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	res, err := i.runner.Ingest(procCtx, req)
	if err != nil {
		i.markFailed(bookCtx, req.RequestID, err)
		return nil, err
	}

	if err := i.db.SaveFragments(bookCtx, req.RequestID, res.Fragments, res.Vectors); err != nil {
		log.Warn("fragment mirror not saved", "error", err)
	}
	if err := i.db.CompleteIngestion(bookCtx, req.RequestID, res.Pages, res.Artifact); err != nil {
		return res, fmt.Errorf("mark ready: %w", err)
	}
	return res, nil
}

func (i *Ingestor) markFailed(ctx context.Context, id string, cause error) {
	if err := i.db.UpdateIngestionStatus(ctx, id, models.StatusFailed, cause.Error()); err != nil {
		logger.FromContext(ctx).Error("could not record failure", "request_id", id, "error", err)
	}
}
