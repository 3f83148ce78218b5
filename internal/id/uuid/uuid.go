// Package uuid mints run identifiers. Runs use UUIDv7 so manifest documents
// and journal lines sort by creation time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator mints run IDs.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewRawID returns a fresh UUIDv7 in binary form. The string form feeds the
// manifest; the raw bytes ride progress events.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
