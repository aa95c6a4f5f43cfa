package loader

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

var pdfMagic = []byte("%PDF-")

var _ core.DocumentLoader = (*PDFLoader)(nil)

// PDFLoader extracts plain text page by page with ledongthuc/pdf.
type PDFLoader struct{}

func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load returns one PageUnit per physical page, in page order.
func (l *PDFLoader) Load(ctx context.Context, data []byte) (pages []models.PageUnit, err error) {
	if err := checkPDF(data); err != nil {
		return nil, err
	}

	// the parser panics on some corrupt cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf parser: %v", core.ErrMalformedDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedDocument, err)
	}

	total := reader.NumPage()
	pages = make([]models.PageUnit, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := ""
		page := reader.Page(i)
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("%w: page %d: %v", core.ErrMalformedDocument, i, err)
			}
		}
		pages = append(pages, newPage(text, i-1, total))
	}
	return pages, nil
}

func checkPDF(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", core.ErrMalformedDocument)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), pdfMagic) {
		return fmt.Errorf("%w: missing %%PDF header", core.ErrMalformedDocument)
	}
	return nil
}

func newPage(text string, index, total int) models.PageUnit {
	meta := map[string]string{
		"page":        strconv.Itoa(index),
		"total_pages": strconv.Itoa(total),
	}
	return models.PageUnit{Text: text, PageIndex: index, Metadata: meta}
}
