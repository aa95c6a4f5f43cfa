// Package index assembles fragments and their vectors into a flat,
// exact similarity-search index and serializes it for publication.
package index

import (
	"fmt"
	"slices"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// Index holds parallel arrays: Vectors[i] embeds Fragments[i].
type Index struct {
	RequestID string
	Model     string
	Dimension int
	Vectors   [][]float32
	Fragments []models.Fragment
}

// Build pairs fragments with vectors by position. Both are copied, so the
// index does not share memory with its inputs. An empty input yields a valid
// empty index.
func Build(requestID, model string, fragments []models.Fragment, vectors []models.EmbeddingVector) (*Index, error) {
	if len(fragments) != len(vectors) {
		return nil, fmt.Errorf("%w: %d fragments, %d vectors", core.ErrDimensionMismatch, len(fragments), len(vectors))
	}
	ix := &Index{
		RequestID: requestID,
		Model:     model,
		Vectors:   make([][]float32, len(vectors)),
		Fragments: make([]models.Fragment, len(fragments)),
	}
	copy(ix.Fragments, fragments)
	for i, v := range vectors {
		if i == 0 {
			ix.Dimension = v.Dimension()
		}
		if v.Dimension() != ix.Dimension {
			return nil, fmt.Errorf("%w: vector %d has length %d, expected %d",
				core.ErrInconsistentEmbeddingDimension, i, v.Dimension(), ix.Dimension)
		}
		ix.Vectors[i] = slices.Clone(v.Values)
	}
	return ix, nil
}

func (ix *Index) Len() int {
	return len(ix.Fragments)
}

func (ix *Index) validate() error {
	if len(ix.Vectors) != len(ix.Fragments) {
		return fmt.Errorf("%w: %d fragments, %d vectors", core.ErrDimensionMismatch, len(ix.Fragments), len(ix.Vectors))
	}
	for i, v := range ix.Vectors {
		if len(v) != ix.Dimension {
			return fmt.Errorf("%w: vector %d has length %d, expected %d",
				core.ErrInconsistentEmbeddingDimension, i, len(v), ix.Dimension)
		}
	}
	return nil
}
