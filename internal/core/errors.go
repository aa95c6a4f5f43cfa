package core

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the ingestion pipeline. Stage errors wrap one of these.
var (
	// ErrMalformedDocument indicates the input bytes are not a readable document.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrInvalidChunkConfig indicates chunk size / overlap parameters are unusable.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrEmbeddingUnavailable indicates no configured embedding model could be acquired.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrEmbeddingCall indicates an acquired embedding model failed a call.
	ErrEmbeddingCall = errors.New("embedding call failed")

	// ErrDimensionMismatch indicates fragments and vectors differ in count.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInconsistentEmbeddingDimension indicates vectors of different lengths.
	ErrInconsistentEmbeddingDimension = errors.New("inconsistent embedding dimension")

	// ErrInvalidRequest indicates a request the pipeline cannot accept as given,
	// such as a request id that is not a canonical UUID.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPersistenceFailure indicates the durable store rejected or lost a write.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Pipeline stage names.
const (
	StageLoad    = "load"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageBuild   = "build"
	StagePublish = "publish"
)

// StageError records which stage of which request failed.
type StageError struct {
	Stage     string
	RequestID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion %s: %s stage: %v", e.RequestID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failing stage of err, or "" if err carries none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
