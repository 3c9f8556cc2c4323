package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// BatchID identifies one processing request (CLI invocation or HTTP upload)
	BatchID ID
	// FileID identifies one input file inside a batch
	FileID ID
)

func NewBatchID() BatchID { return BatchID(NewID()) }
func NewFileID() FileID   { return FileID(NewID()) }

func (id BatchID) String() string { return ID(id).String() }
func (id FileID) String() string  { return ID(id).String() }

// ParseBatchID parses a string into BatchID
func ParseBatchID(s string) (BatchID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("batch ID cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("batch ID %q is not a UUID: %w", s, err)
	}
	return BatchID(s), nil
}
