package model

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// MaxPayloadDepth bounds the nesting of payload objects and lists.
const MaxPayloadDepth = 32

// ErrInvalidPayload is returned when a payload fails the write-path schema check.
var ErrInvalidPayload = errors.New("invalid payload")

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
	Err     error // sentinel cause, if any
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the sentinel causes so callers can use errors.Is.
func (e *ValidationError) Unwrap() []error {
	var errs []error
	for _, fe := range e.Errors {
		if fe.Err != nil {
			errs = append(errs, fe.Err)
		}
	}
	return errs
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateRecord checks a Record before it is written.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
func ValidateRecord(r *Record) error {
	var ve ValidationError

	if err := r.Context.Validate(); err != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "context", Message: err.Error(), Err: cause(err)})
	}
	if err := ValidatePayload(r.Payload); err != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "payload", Message: err.Error(), Err: ErrInvalidPayload})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidatePayload is the schema boundary for stored payloads: the payload
// must be an object whose keys are non-empty and whose values are
// representable as a protobuf Struct, nested at most MaxPayloadDepth deep.
func ValidatePayload(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidPayload)
	}
	if err := checkDepth(map[string]any(p), "", 1); err != nil {
		return err
	}
	if _, err := structpb.NewStruct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func checkDepth(v any, path string, depth int) error {
	if depth > MaxPayloadDepth {
		return fmt.Errorf("%w: nesting deeper than %d at %q", ErrInvalidPayload, MaxPayloadDepth, path)
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("%w: empty key under %q", ErrInvalidPayload, path)
			}
			if err := checkDepth(child, joinPath(path, k), depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range t {
			if err := checkDepth(child, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// cause returns the first context-model sentinel wrapped by err.
func cause(err error) error {
	for _, sentinel := range []error{ErrInvalidContextKind, ErrMissingContextIdentifier, ErrUnexpectedContextIdentifier} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
