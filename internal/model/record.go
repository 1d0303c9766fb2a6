package model

import (
	"fmt"
	"strings"
	"time"
)

// Payload is an arbitrary JSON-compatible configuration document
// (theme, branding, layout and so on).
type Payload map[string]any

// Record is a configuration document bound to one context.
type Record struct {
	ID        string     `json:"id"`
	Context   Descriptor `json:"context"`
	Payload   Payload    `json:"payload"`
	IsActive  bool       `json:"is_active"`
	CreatedBy string     `json:"created_by,omitempty"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UpdateMode selects how an update payload is applied to a record.
type UpdateMode string

const (
	// UpdateReplace swaps the whole payload.
	UpdateReplace UpdateMode = "replace"
	// UpdateMerge deep-merges the update into the existing payload.
	UpdateMerge UpdateMode = "merge"
)

func (m UpdateMode) IsValid() bool {
	return m == UpdateReplace || m == UpdateMerge
}

// ParseUpdateMode accepts "replace" or "merge"; an empty string means replace.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch UpdateMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", UpdateReplace:
		return UpdateReplace, nil
	case UpdateMerge:
		return UpdateMerge, nil
	}
	return "", fmt.Errorf("invalid update mode %q (must be replace or merge)", s)
}

// Resolved is the outcome of a resolution: the winning payload and where it
// came from.
type Resolved struct {
	Payload    Payload      `json:"payload"`
	SourceKind Kind         `json:"source_kind"`
	Source     Descriptor   `json:"source"`
	RecordID   string       `json:"record_id"`
	Chain      []Descriptor `json:"resolution_chain"`
}
