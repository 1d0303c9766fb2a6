// Package memory implements store.Store in process memory. It backs
// development servers (CTXCONF_STORE=memory) and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

// Store keeps records in maps guarded by a single mutex. The active index
// enforces the one-active-record-per-descriptor rule under the same lock as
// the write, so check and insert are atomic.
type Store struct {
	mu      sync.RWMutex
	records map[string]*model.Record
	active  map[model.Descriptor]string // descriptor -> id of the active record

	txMu sync.Mutex
	now  func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*model.Record),
		active:  make(map[model.Descriptor]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateRecord(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(rec)
}

func (s *Store) createLocked(rec *model.Record) error {
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	if rec.IsActive {
		if _, taken := s.active[rec.Context]; taken {
			return store.ErrDuplicateActive
		}
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	s.records[rec.ID] = cloneRecord(rec)
	if rec.IsActive {
		s.active[rec.Context] = rec.ID
	}
	return nil
}

func (s *Store) GetRecord(_ context.Context, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *Store) GetActiveRecord(_ context.Context, desc model.Descriptor) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[desc]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(s.records[id]), nil
}

func (s *Store) UpdateRecord(_ context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, payload, mode, actor)
}

func (s *Store) updateLocked(id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	r.Payload = store.ApplyUpdate(r.Payload, payload, mode)
	r.UpdatedBy = actor
	r.UpdatedAt = s.bump(r.UpdatedAt)
	return cloneRecord(r), nil
}

func (s *Store) SetActive(_ context.Context, id string, active bool, actor string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setActiveLocked(id, active, actor)
}

func (s *Store) setActiveLocked(id string, active bool, actor string) (*model.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.IsActive == active {
		return cloneRecord(r), nil
	}
	if active {
		if other, taken := s.active[r.Context]; taken && other != id {
			return nil, store.ErrDuplicateActive
		}
		s.active[r.Context] = id
	} else if s.active[r.Context] == id {
		delete(s.active, r.Context)
	}
	r.IsActive = active
	r.UpdatedBy = actor
	r.UpdatedAt = s.bump(r.UpdatedAt)
	return cloneRecord(r), nil
}

func (s *Store) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id string) error {
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.active[r.Context] == id {
		delete(s.active, r.Context)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) ListRecords(_ context.Context, kind model.Kind) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Record
	for _, r := range s.records {
		if r.Context.Kind == kind {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Context.Identifier != out[j].Context.Identifier {
			return out[i].Context.Identifier < out[j].Context.Identifier
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListAllRecords(_ context.Context) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Context.Priority() != b.Context.Priority() {
			return a.Context.Priority() < b.Context.Priority()
		}
		if a.Context.Identifier != b.Context.Identifier {
			return a.Context.Identifier < b.Context.Identifier
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) SearchRecords(_ context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	var matched []*model.Record
	for _, r := range s.records {
		if filter.Kind != "" && r.Context.Kind != filter.Kind {
			continue
		}
		if filter.Identifier != "" && r.Context.Identifier != filter.Identifier {
			continue
		}
		if filter.CreatedBy != "" && r.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		matched = append(matched, cloneRecord(r))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*model.Record{}, total, nil
	}
	end := start + filter.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) CountByKind(_ context.Context) ([]model.KindCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.Kind]*model.KindCount, len(model.ResolutionOrder))
	out := make([]model.KindCount, len(model.ResolutionOrder))
	for i, k := range model.ResolutionOrder {
		out[i].Kind = k
		counts[k] = &out[i]
	}
	for _, r := range s.records {
		c, ok := counts[r.Context.Kind]
		if !ok {
			continue
		}
		c.Total++
		if r.IsActive {
			c.Active++
		}
	}
	return out, nil
}

// RunInTransaction serializes transactions. Writes made through tx are
// journaled; when fn fails only those records are put back, so writes other
// callers committed meanwhile survive the rollback.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{Store: s, seen: make(map[string]bool)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// undoEntry is a record as it was before a transaction first wrote it. A
// nil prev means the transaction created it.
type undoEntry struct {
	id   string
	prev *model.Record
}

// txStore is the handle passed to a transaction function. Reads go straight
// to the store; writes first journal the record they touch.
type txStore struct {
	*Store
	seen map[string]bool
	undo []undoEntry
}

// remember journals id's current state. Callers hold s.mu.
func (t *txStore) remember(id string) {
	if t.seen[id] {
		return
	}
	t.seen[id] = true
	var prev *model.Record
	if r, ok := t.records[id]; ok {
		prev = cloneRecord(r)
	}
	t.undo = append(t.undo, undoEntry{id: id, prev: prev})
}

func (t *txStore) CreateRecord(_ context.Context, rec *model.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.records[rec.ID]; !exists {
		t.remember(rec.ID)
	}
	return t.createLocked(rec)
}

func (t *txStore) UpdateRecord(_ context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remember(id)
	return t.updateLocked(id, payload, mode, actor)
}

func (t *txStore) SetActive(_ context.Context, id string, active bool, actor string) (*model.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remember(id)
	return t.setActiveLocked(id, active, actor)
}

func (t *txStore) DeleteRecord(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remember(id)
	return t.deleteLocked(id)
}

// RunInTransaction nests into the enclosing transaction.
func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// rollback restores journaled records newest first. A restored record whose
// descriptor was activated by someone else in the meantime comes back
// inactive.
func (t *txStore) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		u := t.undo[i]
		if cur, ok := t.records[u.id]; ok {
			if t.active[cur.Context] == u.id {
				delete(t.active, cur.Context)
			}
			delete(t.records, u.id)
		}
		if u.prev == nil {
			continue
		}
		if u.prev.IsActive {
			if other, taken := t.active[u.prev.Context]; taken && other != u.id {
				u.prev.IsActive = false
			} else {
				t.active[u.prev.Context] = u.id
			}
		}
		t.records[u.id] = u.prev
	}
}

// bump returns a timestamp strictly after prev so updated_at always moves.
func (s *Store) bump(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func cloneRecord(r *model.Record) *model.Record {
	c := *r
	c.Payload = model.Payload(merge.Clone(r.Payload))
	return &c
}
