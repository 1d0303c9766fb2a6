package model

import (
	"errors"
	"testing"
)

func TestPriorityOf(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		want int
	}{
		{KindUser, 1},
		{KindRole, 2},
		{KindOrganization, 3},
		{KindGlobal, 4},
	} {
		got, err := PriorityOf(tc.kind)
		if err != nil {
			t.Fatalf("PriorityOf(%q): unexpected error: %v", tc.kind, err)
		}
		if got != tc.want {
			t.Errorf("PriorityOf(%q) = %d, want %d", tc.kind, got, tc.want)
		}
	}

	if _, err := PriorityOf("team"); !errors.Is(err, ErrInvalidContextKind) {
		t.Fatalf("expected ErrInvalidContextKind, got %v", err)
	}
}

func TestResolutionOrderIsAscendingPriority(t *testing.T) {
	prev := 0
	for _, k := range ResolutionOrder {
		p, err := PriorityOf(k)
		if err != nil {
			t.Fatal(err)
		}
		if p <= prev {
			t.Fatalf("kind %q has priority %d, not greater than %d", k, p, prev)
		}
		prev = p
	}
}

func TestParseKind(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"user", KindUser, false},
		{"USER", KindUser, false},
		{" role ", KindRole, false},
		{"org", KindOrganization, false},
		{"Organization", KindOrganization, false},
		{"global", KindGlobal, false},
		{"", "", true},
		{"tenant", "", true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidContextKind) {
					t.Fatalf("expected ErrInvalidContextKind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewDescriptor(t *testing.T) {
	for _, tc := range []struct {
		name    string
		kind    Kind
		id      string
		wantErr error
	}{
		{"User", KindUser, "alice", nil},
		{"Role", KindRole, "editor", nil},
		{"Org", KindOrganization, "acme", nil},
		{"Global", KindGlobal, "", nil},
		{"UnknownKind", "team", "x", ErrInvalidContextKind},
		{"UserMissingID", KindUser, "", ErrMissingContextIdentifier},
		{"RoleBlankID", KindRole, "   ", ErrMissingContextIdentifier},
		{"OrgMissingID", KindOrganization, "", ErrMissingContextIdentifier},
		{"GlobalWithID", KindGlobal, "default", ErrUnexpectedContextIdentifier},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDescriptor(tc.kind, tc.id)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", d.Kind, tc.kind)
			}
		})
	}
}

func TestDescriptorEqualityAndKey(t *testing.T) {
	a, _ := NewDescriptor(KindRole, " editor")
	b, _ := NewDescriptor(KindRole, "editor")
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}
	c, _ := NewDescriptor(KindUser, "editor")
	if a == c {
		t.Fatal("descriptors with different kinds must differ")
	}
	if a.Key() != "role:editor" {
		t.Errorf("Key() = %q", a.Key())
	}
	if GlobalDescriptor().Key() != "global" {
		t.Errorf("global Key() = %q", GlobalDescriptor().Key())
	}
	if a.Priority() != 2 || GlobalDescriptor().Priority() != 4 {
		t.Errorf("unexpected priorities %d, %d", a.Priority(), GlobalDescriptor().Priority())
	}
}

func TestRequesterChain(t *testing.T) {
	for _, tc := range []struct {
		name string
		req  Requester
		want []string
	}{
		{"UserOnly", Requester{UserID: "u1"}, []string{"user:u1", "global"}},
		{"UserAndOrg", Requester{UserID: "u1", OrgID: "acme"}, []string{"user:u1", "org:acme", "global"}},
		{"All", Requester{UserID: "u1", RoleID: "admin", OrgID: "acme"}, []string{"user:u1", "role:admin", "org:acme", "global"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			chain := tc.req.Chain()
			if len(chain) != len(tc.want) {
				t.Fatalf("chain length = %d, want %d", len(chain), len(tc.want))
			}
			for i, d := range chain {
				if d.Key() != tc.want[i] {
					t.Errorf("chain[%d] = %q, want %q", i, d.Key(), tc.want[i])
				}
			}
		})
	}

	if err := (Requester{}).Validate(); !errors.Is(err, ErrMissingContextIdentifier) {
		t.Fatalf("expected ErrMissingContextIdentifier for empty user id, got %v", err)
	}
}
