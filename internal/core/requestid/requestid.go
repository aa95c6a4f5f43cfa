// Package requestid issues identifiers for ingestion requests.
package requestid

import (
	"github.com/google/uuid"
)

// New returns a random 128-bit identifier in canonical UUID form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is a canonical request identifier.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
