package index

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

var errBadK = errors.New("k must be positive")

// Hit is one search result. Position indexes both Vectors and Fragments.
type Hit struct {
	Position int             `json:"position"`
	Score    float32         `json:"score"`
	Fragment models.Fragment `json:"fragment"`
}

// Search returns the k fragments whose vectors are most similar to query by
// cosine similarity, best first. Ties keep fragment order. Zero vectors score
// 0. An empty index returns no hits for any query.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errBadK
	}
	if ix.Len() == 0 {
		return []Hit{}, nil
	}
	if len(query) != ix.Dimension {
		return nil, fmt.Errorf("%w: query has length %d, index dimension is %d",
			core.ErrInconsistentEmbeddingDimension, len(query), ix.Dimension)
	}

	qn := norm(query)
	hits := make([]Hit, len(ix.Vectors))
	for i, v := range ix.Vectors {
		hits[i] = Hit{Position: i, Score: cosine(query, qn, v)}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})

	hits = hits[:min(k, len(hits))]
	for i := range hits {
		hits[i].Fragment = ix.Fragments[hits[i].Position]
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qn float64, v []float32) float32 {
	vn := norm(v)
	if qn == 0 || vn == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return float32(dot / (qn * vn))
}
