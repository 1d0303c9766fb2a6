package model

import (
	"errors"
	"strings"
	"testing"
)

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateRecord_Valid(t *testing.T) {
	r := &Record{
		Context: Descriptor{Kind: KindRole, Identifier: "editor"},
		Payload: Payload{"theme": map[string]any{"mode": "dark"}, "tags": []any{"a", 1.0}},
	}
	if err := ValidateRecord(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRecord_Errors(t *testing.T) {
	r := &Record{Context: Descriptor{Kind: KindUser}}
	errs := fieldErrors(t, ValidateRecord(r))
	if !hasFieldError(errs, "context") || !hasFieldError(errs, "payload") {
		t.Fatalf("expected context and payload errors, got %+v", errs)
	}
	err := ValidateRecord(r)
	if !errors.Is(err, ErrMissingContextIdentifier) {
		t.Errorf("expected errors.Is ErrMissingContextIdentifier, got %v", err)
	}
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected errors.Is ErrInvalidPayload, got %v", err)
	}
}

func TestValidatePayload(t *testing.T) {
	deep := map[string]any{}
	cur := deep
	for i := 0; i < MaxPayloadDepth+1; i++ {
		next := map[string]any{}
		cur["n"] = next
		cur = next
	}

	for _, tc := range []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"Empty", Payload{}, false},
		{"Nested", Payload{"a": map[string]any{"b": []any{1.0, "x", nil, true}}}, false},
		{"NullValue", Payload{"logo": nil}, false},
		{"Nil", nil, true},
		{"EmptyKey", Payload{"": "x"}, true},
		{"UnsupportedType", Payload{"ch": make(chan int)}, true},
		{"TooDeep", Payload(deep), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload(tc.payload)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "context", Message: "is required"},
		{Field: "payload", Message: "must be an object"},
	}}
	msg := ve.Error()
	if !strings.HasPrefix(msg, "validation failed: ") || !strings.Contains(msg, "context: is required; payload") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestParseUpdateMode(t *testing.T) {
	for in, want := range map[string]UpdateMode{"": UpdateReplace, "replace": UpdateReplace, "MERGE": UpdateMerge} {
		got, err := ParseUpdateMode(in)
		if err != nil || got != want {
			t.Errorf("ParseUpdateMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseUpdateMode("append"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRecordFilterNormalize(t *testing.T) {
	f := RecordFilter{Page: 0, Size: 500}.Normalize()
	if f.Page != 1 || f.Size != MaxPageSize {
		t.Fatalf("got page=%d size=%d", f.Page, f.Size)
	}
	if off := (RecordFilter{Page: 3, Size: 20}).Offset(); off != 40 {
		t.Fatalf("Offset() = %d, want 40", off)
	}
	if d := (RecordFilter{}).Normalize(); d.Size != DefaultPageSize {
		t.Fatalf("default size = %d", d.Size)
	}
}
