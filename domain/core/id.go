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
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
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
	// InvocationID identifies one execution of the tool.
	InvocationID ID
	// RunKey identifies one subject-run unit (subject + task + optional
	// session/run/space entities) within an invocation.
	RunKey ID
)

// String conversions for domain IDs
func (id InvocationID) String() string { return ID(id).String() }
func (k RunKey) String() string        { return ID(k).String() }

// NewInvocationID creates a fresh invocation identifier
func NewInvocationID() InvocationID {
	return InvocationID(NewID())
}

// ParseRunKey parses a string into RunKey
func ParseRunKey(s string) (RunKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run key cannot be empty")
	}
	return RunKey(s), nil
}
