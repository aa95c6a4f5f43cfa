// Package loader turns raw document bytes into ordered page units.
package loader

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/pdfindex/internal/core"
)

const (
	KindPDF     = "pdf"
	KindDocconv = "docconv"
)

// New returns the loader registered under kind.
func New(kind string) (core.DocumentLoader, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindPDF:
		return NewPDFLoader(), nil
	case KindDocconv:
		return NewDocconvLoader(false), nil
	default:
		return nil, fmt.Errorf("unknown loader %q", kind)
	}
}
