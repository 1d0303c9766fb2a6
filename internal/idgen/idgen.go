// Package idgen mints record and request identifiers backed by nanoid.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// RecordPrefix starts every configuration record id.
	RecordPrefix = "cfg-"
	// RequestPrefix starts every generated request id.
	RequestPrefix = "req-"
)

// alphabet is lowercase only so ids survive case-folding in URLs and shells.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomLength is the number of random characters after the prefix.
const randomLength = 12

// NewRecordID returns a fresh record id such as "cfg-3k9x0a7m2q1z".
func NewRecordID() (string, error) {
	id, err := nanoid.Generate(alphabet, randomLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return RecordPrefix + id, nil
}

// NewRequestID returns an id for correlating one HTTP request in logs.
func NewRequestID() string {
	return RequestPrefix + nanoid.MustGenerate(alphabet, randomLength)
}

// IsRecordID reports whether s has the shape of an id minted by NewRecordID.
// Records imported from elsewhere may carry other ids; callers use this only
// for early rejection of obviously malformed input.
func IsRecordID(s string) bool {
	rest, ok := strings.CutPrefix(s, RecordPrefix)
	if !ok || len(rest) != randomLength {
		return false
	}
	for _, c := range rest {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}
