package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
	"github.com/alfredjeanlab/ctxconf/internal/store/memory"
)

// countingLookup counts store reads and can be told to fail.
type countingLookup struct {
	inner Lookup
	reads atomic.Int32
	err   error
}

func (c *countingLookup) GetActiveRecord(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	c.reads.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.GetActiveRecord(ctx, d)
}

func seed(t *testing.T, s *memory.Store, id string, kind model.Kind, ident string, active bool, payload model.Payload) {
	t.Helper()
	require.NoError(t, s.CreateRecord(context.Background(), &model.Record{
		ID:       id,
		Context:  model.Descriptor{Kind: kind, Identifier: ident},
		Payload:  payload,
		IsActive: active,
	}))
}

func fullStore(t *testing.T) *memory.Store {
	s := memory.New()
	seed(t, s, "cfg-u", model.KindUser, "alice", true, model.Payload{"theme": "user"})
	seed(t, s, "cfg-r", model.KindRole, "editor", true, model.Payload{"theme": "role", "logo": "R"})
	seed(t, s, "cfg-o", model.KindOrganization, "acme", true, model.Payload{"theme": "org"})
	seed(t, s, "cfg-g", model.KindGlobal, "", true, model.Payload{"theme": "global", "footer": "G"})
	return s
}

func TestResolvePriority(t *testing.T) {
	r := New(fullStore(t), nil)
	got, err := r.Resolve(context.Background(), model.Requester{UserID: "alice", RoleID: "editor", OrgID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, model.KindUser, got.SourceKind)
	assert.Equal(t, "cfg-u", got.RecordID)
	assert.Equal(t, model.Payload{"theme": "user"}, got.Payload)
	assert.Equal(t, []model.Descriptor{
		{Kind: model.KindUser, Identifier: "alice"},
		{Kind: model.KindRole, Identifier: "editor"},
		{Kind: model.KindOrganization, Identifier: "acme"},
		model.GlobalDescriptor(),
	}, got.Chain)
}

func TestResolveFallback(t *testing.T) {
	r := New(fullStore(t), nil)
	tests := []struct {
		name string
		req  model.Requester
		want model.Kind
	}{
		{"unknown user falls to role", model.Requester{UserID: "bob", RoleID: "editor", OrgID: "acme"}, model.KindRole},
		{"no role falls to org", model.Requester{UserID: "bob", OrgID: "acme"}, model.KindOrganization},
		{"unknown role and org fall to global", model.Requester{UserID: "bob", RoleID: "viewer", OrgID: "other"}, model.KindGlobal},
		{"user only", model.Requester{UserID: "bob"}, model.KindGlobal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.SourceKind)
		})
	}
}

func TestResolveWinnerTakeAll(t *testing.T) {
	r := New(fullStore(t), nil)
	got, err := r.Resolve(context.Background(), model.Requester{UserID: "bob", RoleID: "editor"})
	require.NoError(t, err)
	// Keys only present at lower levels do not leak into the result.
	assert.Equal(t, model.Payload{"theme": "role", "logo": "R"}, got.Payload)
	assert.NotContains(t, got.Payload, "footer")
}

func TestResolveSkipsInactive(t *testing.T) {
	s := memory.New()
	seed(t, s, "cfg-u", model.KindUser, "alice", false, model.Payload{"theme": "inactive"})
	seed(t, s, "cfg-g", model.KindGlobal, "", true, model.Payload{"theme": "global"})

	got, err := New(s, nil).Resolve(context.Background(), model.Requester{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "cfg-g", got.RecordID)
}

func TestResolveMissingGlobal(t *testing.T) {
	s := memory.New()
	seed(t, s, "cfg-g", model.KindGlobal, "", false, model.Payload{"theme": "global"})

	_, err := New(s, nil).Resolve(context.Background(), model.Requester{UserID: "alice", RoleID: "x", OrgID: "y"})
	assert.ErrorIs(t, err, ErrMissingGlobalConfiguration)
}

func TestResolveMissingGlobalDespiteOverrides(t *testing.T) {
	s := memory.New()
	seed(t, s, "cfg-u", model.KindUser, "alice", true, model.Payload{"theme": "user"})
	seed(t, s, "cfg-r", model.KindRole, "editor", true, model.Payload{"theme": "role"})
	seed(t, s, "cfg-o", model.KindOrganization, "acme", true, model.Payload{"theme": "org"})
	seed(t, s, "cfg-g", model.KindGlobal, "", false, model.Payload{"theme": "global"})

	tests := []struct {
		name string
		req  model.Requester
	}{
		{"user override", model.Requester{UserID: "alice"}},
		{"role override", model.Requester{UserID: "bob", RoleID: "editor"}},
		{"org override", model.Requester{UserID: "bob", OrgID: "acme"}},
		{"every level", model.Requester{UserID: "alice", RoleID: "editor", OrgID: "acme"}},
	}
	for _, withCache := range []bool{false, true} {
		var c *cache.Cache
		if withCache {
			c = cache.New(cache.NewLocalBackend(10, time.Minute))
			t.Cleanup(func() { c.Close() })
		}
		r := New(s, c)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := r.Resolve(context.Background(), tt.req)
				assert.Nil(t, got)
				assert.ErrorIs(t, err, ErrMissingGlobalConfiguration)
			})
		}
	}
}

func TestResolveGlobalCheckErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	lookup := &failOnGlobal{inner: fullStore(t), err: boom}
	_, err := New(lookup, nil).Resolve(context.Background(), model.Requester{UserID: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMissingGlobalConfiguration)
}

// failOnGlobal fails only the global lookup.
type failOnGlobal struct {
	inner Lookup
	err   error
}

func (f *failOnGlobal) GetActiveRecord(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	if d.IsGlobal() {
		return nil, f.err
	}
	return f.inner.GetActiveRecord(ctx, d)
}

func TestResolveRequiresUser(t *testing.T) {
	_, err := New(fullStore(t), nil).Resolve(context.Background(), model.Requester{RoleID: "editor"})
	assert.ErrorIs(t, err, model.ErrMissingContextIdentifier)
}

func TestResolveStoreErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	lookup := &countingLookup{inner: fullStore(t), err: boom}
	_, err := New(lookup, nil).Resolve(context.Background(), model.Requester{UserID: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMissingGlobalConfiguration)
}

func TestResolvePayloadIsCopy(t *testing.T) {
	s := memory.New()
	seed(t, s, "cfg-g", model.KindGlobal, "", true, model.Payload{"theme": map[string]any{"mode": "dark"}})
	c := cache.New(cache.NewLocalBackend(10, time.Minute))
	t.Cleanup(func() { c.Close() })
	r := New(s, c)

	first, err := r.Resolve(context.Background(), model.Requester{UserID: "alice"})
	require.NoError(t, err)
	first.Payload["theme"].(map[string]any)["mode"] = "light"

	second, err := r.Resolve(context.Background(), model.Requester{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "dark", second.Payload["theme"].(map[string]any)["mode"])
}

func TestResolveUsesCache(t *testing.T) {
	lookup := &countingLookup{inner: fullStore(t)}
	c := cache.New(cache.NewLocalBackend(10, time.Minute))
	t.Cleanup(func() { c.Close() })
	r := New(lookup, c)
	req := model.Requester{UserID: "bob", RoleID: "viewer", OrgID: "acme"}

	_, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(4), lookup.reads.Load(), "user miss, role miss, org hit, global check")

	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(4), lookup.reads.Load(), "negative and positive entries both cached")
}

func TestActiveNotFound(t *testing.T) {
	c := cache.New(cache.NewLocalBackend(10, time.Minute))
	t.Cleanup(func() { c.Close() })
	r := New(memory.New(), c)

	_, err := r.Active(context.Background(), model.Descriptor{Kind: model.KindRole, Identifier: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
