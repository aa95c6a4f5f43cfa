package loader

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

var _ core.DocumentLoader = (*DocconvLoader)(nil)

// DocconvLoader converts the whole document with docconv (pdftotext for PDFs)
// and recovers pages from the form feeds the converter emits between them.
type DocconvLoader struct {
	useReadability bool
}

func NewDocconvLoader(useReadability bool) *DocconvLoader {
	return &DocconvLoader{useReadability: useReadability}
}

func (l *DocconvLoader) Load(ctx context.Context, data []byte) ([]models.PageUnit, error) {
	if err := checkPDF(data); err != nil {
		return nil, err
	}

	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", l.useReadability)
	if err != nil {
		return nil, fmt.Errorf("%w: docconv: %v", core.ErrMalformedDocument, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return splitPages(res.Body), nil
}

// splitPages turns form-feed separated text into ordered page units.
func splitPages(body string) []models.PageUnit {
	if strings.TrimSpace(body) == "" {
		return []models.PageUnit{}
	}
	raw := strings.Split(body, "\f")
	// pdftotext terminates the last page with a form feed too
	if len(raw) > 1 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}
	pages := make([]models.PageUnit, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, newPage(text, i, len(raw)))
	}
	return pages
}
