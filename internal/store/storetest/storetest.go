// Package storetest holds a behavioral suite every store.Store driver must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

// Factory returns an empty store. The suite closes nothing; drivers register
// their own cleanup.
type Factory func(t *testing.T) store.Store

// Run exercises the full store.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateActive", func(t *testing.T) { testDuplicateActive(t, newStore(t)) })
	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("InactiveCoexist", func(t *testing.T) { testInactiveCoexist(t, newStore(t)) })
	t.Run("UpdateModes", func(t *testing.T) { testUpdateModes(t, newStore(t)) })
	t.Run("SetActive", func(t *testing.T) { testSetActive(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("Search", func(t *testing.T) { testSearch(t, newStore(t)) })
}

func newRecord(id string, kind model.Kind, ident string, active bool, payload model.Payload) *model.Record {
	return &model.Record{
		ID:        id,
		Context:   model.Descriptor{Kind: kind, Identifier: ident},
		Payload:   payload,
		IsActive:  active,
		CreatedBy: "tester",
	}
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord("cfg-a", model.KindUser, "alice", true, model.Payload{
		"theme": map[string]any{"mode": "dark"},
		"tags":  []any{"x", "y"},
		"logo":  nil,
	})
	require.NoError(t, s.CreateRecord(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetRecord(ctx, "cfg-a")
	require.NoError(t, err)
	assert.Equal(t, rec.Context, got.Context)
	assert.Equal(t, "dark", got.Payload["theme"].(map[string]any)["mode"])
	assert.Equal(t, []any{"x", "y"}, got.Payload["tags"])
	v, present := got.Payload["logo"]
	assert.True(t, present, "null value must survive storage")
	assert.Nil(t, v)

	active, err := s.GetActiveRecord(ctx, rec.Context)
	require.NoError(t, err)
	assert.Equal(t, "cfg-a", active.ID)

	_, err = s.GetRecord(ctx, "cfg-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetActiveRecord(ctx, model.Descriptor{Kind: model.KindRole, Identifier: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-1", model.KindRole, "editor", true, model.Payload{})))
	err := s.CreateRecord(ctx, newRecord("cfg-2", model.KindRole, "editor", true, model.Payload{}))
	assert.ErrorIs(t, err, store.ErrDuplicateActive)

	// The global context follows the same rule.
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-g1", model.KindGlobal, "", true, model.Payload{})))
	err = s.CreateRecord(ctx, newRecord("cfg-g2", model.KindGlobal, "", true, model.Payload{}))
	assert.ErrorIs(t, err, store.ErrDuplicateActive)
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		dups int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateRecord(ctx, newRecord(fmt.Sprintf("cfg-c%d", i), model.KindOrganization, "acme", true, model.Payload{}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, store.ErrDuplicateActive):
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, dups)
}

func testInactiveCoexist(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-1", model.KindRole, "editor", true, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-2", model.KindRole, "editor", false, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-3", model.KindRole, "editor", false, model.Payload{})))

	records, err := s.ListRecords(ctx, model.KindRole)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func testUpdateModes(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord("cfg-1", model.KindOrganization, "acme", true, model.Payload{
		"theme": map[string]any{"color": "blue", "font": "sans"},
		"logo":  "A",
	})
	require.NoError(t, s.CreateRecord(ctx, rec))

	merged, err := s.UpdateRecord(ctx, "cfg-1", model.Payload{
		"theme": map[string]any{"color": "green"},
		"logo":  nil,
	}, model.UpdateMerge, "editor")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"color": "green", "font": "sans"}, merged.Payload["theme"])
	v, present := merged.Payload["logo"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, "editor", merged.UpdatedBy)
	assert.False(t, merged.UpdatedAt.Before(rec.CreatedAt))

	replaced, err := s.UpdateRecord(ctx, "cfg-1", model.Payload{"logo": "B"}, model.UpdateReplace, "editor")
	require.NoError(t, err)
	assert.Equal(t, model.Payload{"logo": "B"}, replaced.Payload)

	_, err = s.UpdateRecord(ctx, "cfg-missing", model.Payload{}, model.UpdateMerge, "editor")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSetActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-1", model.KindUser, "bob", true, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-2", model.KindUser, "bob", false, model.Payload{})))

	_, err := s.SetActive(ctx, "cfg-2", true, "admin")
	assert.ErrorIs(t, err, store.ErrDuplicateActive)

	off, err := s.SetActive(ctx, "cfg-1", false, "admin")
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	again, err := s.SetActive(ctx, "cfg-1", false, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, off.UpdatedAt, again.UpdatedAt, "idempotent toggle must not bump updated_at")

	_, err = s.GetActiveRecord(ctx, model.Descriptor{Kind: model.KindUser, Identifier: "bob"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	on, err := s.SetActive(ctx, "cfg-2", true, "admin")
	require.NoError(t, err)
	assert.True(t, on.IsActive)

	_, err = s.SetActive(ctx, "cfg-missing", true, "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-1", model.KindRole, "viewer", true, model.Payload{})))
	require.NoError(t, s.DeleteRecord(ctx, "cfg-1"))
	assert.ErrorIs(t, s.DeleteRecord(ctx, "cfg-1"), store.ErrNotFound)

	// Deleting the active record frees its descriptor.
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-2", model.KindRole, "viewer", true, model.Payload{})))
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-g", model.KindGlobal, "", true, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-o", model.KindOrganization, "acme", true, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-r", model.KindRole, "editor", false, model.Payload{})))
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-u", model.KindUser, "alice", true, model.Payload{})))

	all, err := s.ListAllRecords(ctx)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"cfg-u", "cfg-r", "cfg-o", "cfg-g"}, ids)

	counts, err := s.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.KindCount{
		{Kind: model.KindUser, Total: 1, Active: 1},
		{Kind: model.KindRole, Total: 1, Active: 0},
		{Kind: model.KindOrganization, Total: 1, Active: 1},
		{Kind: model.KindGlobal, Total: 1, Active: 1},
	}, counts)

	users, err := s.ListRecords(ctx, model.KindUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "cfg-u", users[0].ID)
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 12 {
		rec := newRecord(fmt.Sprintf("cfg-%02d", i), model.KindUser, fmt.Sprintf("user%02d", i), i%3 != 0, model.Payload{})
		if i%2 == 0 {
			rec.CreatedBy = "admin"
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}
	require.NoError(t, s.CreateRecord(ctx, newRecord("cfg-role", model.KindRole, "editor", true, model.Payload{})))

	page, total, err := s.SearchRecords(ctx, model.RecordFilter{Kind: model.KindUser, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, page, 5)

	last, total, err := s.SearchRecords(ctx, model.RecordFilter{Kind: model.KindUser, Page: 3, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, last, 2)

	beyond, total, err := s.SearchRecords(ctx, model.RecordFilter{Kind: model.KindUser, Page: 9, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Empty(t, beyond)

	active, total, err := s.SearchRecords(ctx, model.RecordFilter{Kind: model.KindUser, ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Len(t, active, 8)

	byAdmin, total, err := s.SearchRecords(ctx, model.RecordFilter{CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	for _, r := range byAdmin {
		assert.Equal(t, "admin", r.CreatedBy)
	}

	one, total, err := s.SearchRecords(ctx, model.RecordFilter{Identifier: "editor"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, one, 1)
	assert.Equal(t, "cfg-role", one[0].ID)
}
