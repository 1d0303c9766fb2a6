package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the granularity at which a configuration applies.
type Kind string

const (
	KindUser         Kind = "user"
	KindRole         Kind = "role"
	KindOrganization Kind = "org"
	KindGlobal       Kind = "global"
)

// ResolutionOrder lists the context kinds from highest to lowest precedence.
var ResolutionOrder = []Kind{KindUser, KindRole, KindOrganization, KindGlobal}

var (
	ErrInvalidContextKind          = errors.New("invalid context kind")
	ErrMissingContextIdentifier    = errors.New("missing context identifier")
	ErrUnexpectedContextIdentifier = errors.New("unexpected context identifier")
)

// IsValid reports whether k is one of the four known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindUser, KindRole, KindOrganization, KindGlobal:
		return true
	}
	return false
}

// PriorityOf returns the precedence of a kind. Lower numbers win.
func PriorityOf(k Kind) (int, error) {
	switch k {
	case KindUser:
		return 1, nil
	case KindRole:
		return 2, nil
	case KindOrganization:
		return 3, nil
	case KindGlobal:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidContextKind, string(k))
}

// ParseKind maps user input onto a Kind. It is case-insensitive and accepts
// "organization" as an alias for "org".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return KindUser, nil
	case "role":
		return KindRole, nil
	case "org", "organization":
		return KindOrganization, nil
	case "global":
		return KindGlobal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContextKind, s)
}

// Descriptor identifies one context instance: a (kind, identifier) pair.
// Two descriptors are equal iff both fields match, so the struct can be
// compared with == and used as a map key.
type Descriptor struct {
	Kind       Kind   `json:"kind"`
	Identifier string `json:"identifier,omitempty"`
}

// NewDescriptor builds a validated descriptor. Identifiers are trimmed.
func NewDescriptor(kind Kind, identifier string) (Descriptor, error) {
	d := Descriptor{Kind: kind, Identifier: strings.TrimSpace(identifier)}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// GlobalDescriptor returns the descriptor of the single global context.
func GlobalDescriptor() Descriptor {
	return Descriptor{Kind: KindGlobal}
}

// Validate checks the identifier rules for the descriptor's kind.
func (d Descriptor) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidContextKind, string(d.Kind))
	}
	id := strings.TrimSpace(d.Identifier)
	if d.Kind == KindGlobal {
		if id != "" {
			return fmt.Errorf("%w: global context takes no identifier, got %q", ErrUnexpectedContextIdentifier, d.Identifier)
		}
		return nil
	}
	if id == "" {
		return fmt.Errorf("%w: %s context requires an identifier", ErrMissingContextIdentifier, d.Kind)
	}
	return nil
}

// Priority returns the precedence of the descriptor's kind, or 0 for an
// invalid kind.
func (d Descriptor) Priority() int {
	p, _ := PriorityOf(d.Kind)
	return p
}

// IsGlobal reports whether d is the global context.
func (d Descriptor) IsGlobal() bool { return d.Kind == KindGlobal }

// Key is the canonical string form used for cache keys and subjects,
// e.g. "user:alice" or "global".
func (d Descriptor) Key() string {
	if d.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(d.Kind) + ":" + d.Identifier
}

func (d Descriptor) String() string { return d.Key() }

// Requester carries the identity attributes used for resolution. RoleID and
// OrgID are empty when the requester has no such association.
type Requester struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
}

// Validate requires a user id; role and org are optional.
func (r Requester) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrMissingContextIdentifier)
	}
	return nil
}

// Chain returns the descriptors a resolution consults, in precedence order.
// The global descriptor is always last.
func (r Requester) Chain() []Descriptor {
	chain := make([]Descriptor, 0, 4)
	if id := strings.TrimSpace(r.UserID); id != "" {
		chain = append(chain, Descriptor{Kind: KindUser, Identifier: id})
	}
	if id := strings.TrimSpace(r.RoleID); id != "" {
		chain = append(chain, Descriptor{Kind: KindRole, Identifier: id})
	}
	if id := strings.TrimSpace(r.OrgID); id != "" {
		chain = append(chain, Descriptor{Kind: KindOrganization, Identifier: id})
	}
	return append(chain, GlobalDescriptor())
}
