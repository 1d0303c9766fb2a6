// Package overrides is the operation layer above the store: it validates
// input, guards the global record, keeps the cache coherent and publishes
// change events.
package overrides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/events"
	"github.com/alfredjeanlab/ctxconf/internal/idgen"
	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/metrics"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/resolver"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

var (
	// ErrGlobalRequired is returned when an operation would leave the
	// system without an active global record.
	ErrGlobalRequired = errors.New("the active global configuration cannot be deactivated or deleted")
	// ErrInvalidInput covers malformed requests that are not descriptor or
	// payload errors.
	ErrInvalidInput = errors.New("invalid input")
)

// Service is safe for concurrent use.
type Service struct {
	store    store.Store
	cache    *cache.Cache
	resolver *resolver.Resolver
	events   events.Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newID    func() (string, error)
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher sets where change events go. The default drops them.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithIDGenerator replaces the record id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newID = fn }
}

// New wires a Service over st. c may be nil to run without a cache.
func New(st store.Store, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:  st,
		cache:  c,
		events: events.NoopPublisher{},
		logger: slog.Default(),
		newID:  idgen.NewRecordID,
	}
	for _, o := range opts {
		o(s)
	}
	s.resolver = resolver.New(st, c, resolver.WithLogger(s.logger), resolver.WithMetrics(s.metrics))
	return s
}

// Resolve returns the effective configuration for a requester.
func (s *Service) Resolve(ctx context.Context, req model.Requester) (*model.Resolved, error) {
	return s.resolver.Resolve(ctx, req)
}

// CreateInput describes a new record. Active defaults to true.
type CreateInput struct {
	Context model.Descriptor
	Payload model.Payload
	Active  *bool
}

// CreateOverride stores a new record. Creating an active record for a
// descriptor that already has one fails with store.ErrDuplicateActive.
func (s *Service) CreateOverride(ctx context.Context, in CreateInput, actor string) (*model.Record, error) {
	desc, err := model.NewDescriptor(in.Context.Kind, in.Context.Identifier)
	if err != nil {
		return nil, err
	}
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	rec := &model.Record{
		ID:        id,
		Context:   desc,
		Payload:   in.Payload,
		IsActive:  in.Active == nil || *in.Active,
		CreatedBy: actor,
	}
	if err := model.ValidateRecord(rec); err != nil {
		return nil, err
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create %s override: %w", desc, err)
	}

	if rec.IsActive {
		s.invalidate(ctx, desc)
	}
	s.metrics.Mutation("create", string(desc.Kind))
	s.publish(ctx, events.TopicRecordCreated, events.RecordCreated{Record: rec})
	s.logger.Info("override created", "id", rec.ID, "context", desc.Key(), "active", rec.IsActive, "actor", actor)
	return rec, nil
}

// UpdateInput changes a record's payload, its active flag, or both.
type UpdateInput struct {
	Payload model.Payload
	Mode    model.UpdateMode
	Active  *bool
}

// UpdateOverride applies a payload update and an optional activation change
// in one transaction.
func (s *Service) UpdateOverride(ctx context.Context, id string, in UpdateInput, actor string) (*model.Record, error) {
	if in.Payload == nil && in.Active == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	mode := in.Mode
	if mode == "" {
		mode = model.UpdateReplace
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: update mode %q", ErrInvalidInput, in.Mode)
	}
	if in.Payload != nil {
		if err := model.ValidatePayload(in.Payload); err != nil {
			return nil, err
		}
	}

	var before, after *model.Record
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		before, err = tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		after = before
		if in.Active != nil && !*in.Active {
			if err := guardGlobal(before); err != nil {
				return err
			}
		}
		if in.Payload != nil {
			if mode == model.UpdateMerge {
				if err := model.ValidatePayload(store.ApplyUpdate(before.Payload, in.Payload, mode)); err != nil {
					return err
				}
			}
			if after, err = tx.UpdateRecord(ctx, id, in.Payload, mode, actor); err != nil {
				return err
			}
		}
		if in.Active != nil && *in.Active != after.IsActive {
			if after, err = tx.SetActive(ctx, id, *in.Active, actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update override %s: %w", id, err)
	}

	s.invalidate(ctx, after.Context)
	s.metrics.Mutation("update", string(after.Context.Kind))
	if in.Payload != nil {
		s.publish(ctx, events.TopicRecordUpdated, events.RecordUpdated{Record: after, Mode: mode})
	}
	if before.IsActive != after.IsActive {
		s.publishToggle(ctx, after)
	}
	s.logger.Info("override updated", "id", id, "context", after.Context.Key(), "mode", mode, "actor", actor)
	return after, nil
}

// Activate makes a record the active one for its descriptor.
func (s *Service) Activate(ctx context.Context, id, actor string) (*model.Record, error) {
	return s.setActive(ctx, id, true, actor)
}

// Deactivate clears a record's active flag. Repeating it is a no-op.
func (s *Service) Deactivate(ctx context.Context, id, actor string) (*model.Record, error) {
	return s.setActive(ctx, id, false, actor)
}

func (s *Service) setActive(ctx context.Context, id string, active bool, actor string) (*model.Record, error) {
	current, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get override %s: %w", id, err)
	}
	if current.IsActive == active {
		return current, nil
	}
	if !active {
		if err := guardGlobal(current); err != nil {
			return nil, err
		}
	}

	rec, err := s.store.SetActive(ctx, id, active, actor)
	if err != nil {
		return nil, fmt.Errorf("set active on %s: %w", id, err)
	}
	s.invalidate(ctx, rec.Context)
	op := "deactivate"
	if active {
		op = "activate"
	}
	s.metrics.Mutation(op, string(rec.Context.Kind))
	s.publishToggle(ctx, rec)
	s.logger.Info("override "+op+"d", "id", id, "context", rec.Context.Key(), "actor", actor)
	return rec, nil
}

// Delete removes a record permanently.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("get override %s: %w", id, err)
	}
	if err := guardGlobal(rec); err != nil {
		return err
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete override %s: %w", id, err)
	}

	if rec.IsActive {
		s.invalidate(ctx, rec.Context)
	}
	s.metrics.Mutation("delete", string(rec.Context.Kind))
	s.publish(ctx, events.TopicRecordDeleted, events.RecordDeleted{ID: id, Context: rec.Context, DeletedBy: actor})
	s.logger.Info("override deleted", "id", id, "context", rec.Context.Key(), "actor", actor)
	return nil
}

// Get returns a record by id, active or not.
func (s *Service) Get(ctx context.Context, id string) (*model.Record, error) {
	return s.store.GetRecord(ctx, id)
}

// GetActive returns the active record for a descriptor.
func (s *Service) GetActive(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	desc, err := model.NewDescriptor(d.Kind, d.Identifier)
	if err != nil {
		return nil, err
	}
	rec, err := s.resolver.Active(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("active override for %s: %w", desc, err)
	}
	return rec, nil
}

// List returns every record of one kind, active or not.
func (s *Service) List(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidContextKind, string(kind))
	}
	return s.store.ListRecords(ctx, kind)
}

// Page is one page of search results.
type Page struct {
	Records []*model.Record `json:"records"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	HasNext bool            `json:"has_next"`
	HasPrev bool            `json:"has_prev"`
}

// Search returns a page of records matching f, newest first.
func (s *Service) Search(ctx context.Context, f model.RecordFilter) (*Page, error) {
	if f.Kind != "" && !f.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidContextKind, string(f.Kind))
	}
	if f.Page < 0 || f.Size < 0 || f.Size > model.MaxPageSize {
		return nil, fmt.Errorf("%w: page must be >= 1 and size between 1 and %d", ErrInvalidInput, model.MaxPageSize)
	}
	f = f.Normalize()

	records, total, err := s.store.SearchRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Page{
		Records: records,
		Total:   total,
		Page:    f.Page,
		Size:    f.Size,
		HasNext: f.Page*f.Size < total,
		HasPrev: f.Page > 1,
	}, nil
}

// SavePreferences turns the simplified preference form into an update of
// the user's own record. Without one, the user's current effective payload
// becomes the base of a new user record.
func (s *Service) SavePreferences(ctx context.Context, req model.Requester, prefs model.Preferences, actor string) (*model.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if prefs.IsEmpty() {
		return nil, fmt.Errorf("%w: no preferences given", ErrInvalidInput)
	}
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = req.UserID
	}
	desc := model.Descriptor{Kind: model.KindUser, Identifier: strings.TrimSpace(req.UserID)}

	existing, err := s.store.GetActiveRecord(ctx, desc)
	switch {
	case err == nil:
		return s.UpdateOverride(ctx, existing.ID, UpdateInput{
			Payload: prefs.Patch(existing.Payload),
			Mode:    model.UpdateMerge,
		}, actor)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	effective, err := s.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	payload := model.Payload(merge.Merge(effective.Payload, prefs.Patch(effective.Payload)))
	return s.CreateOverride(ctx, CreateInput{Context: desc, Payload: payload}, actor)
}

// Stats summarizes stored records and cache activity.
type Stats struct {
	Kinds []model.KindCount `json:"kinds"`
	Cache *cache.Stats      `json:"cache,omitempty"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	kinds, err := s.store.CountByKind(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Kinds: kinds}
	if s.cache != nil {
		cs := s.cache.Stats(ctx)
		st.Cache = &cs
	}
	return st, nil
}

// FlushCache drops every cached entry on every instance.
func (s *Service) FlushCache(ctx context.Context, actor string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateAll(ctx)
	s.logger.Info("cache flushed", "actor", actor)
}

// EnsureGlobal creates the global record from defaults when no active one
// exists. It reports whether a record was created.
func (s *Service) EnsureGlobal(ctx context.Context, defaults model.Payload, actor string) (*model.Record, bool, error) {
	rec, err := s.store.GetActiveRecord(ctx, model.GlobalDescriptor())
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if defaults == nil {
		defaults = model.Payload{}
	}
	rec, err = s.CreateOverride(ctx, CreateInput{Context: model.GlobalDescriptor(), Payload: defaults}, actor)
	if errors.Is(err, store.ErrDuplicateActive) {
		// Another instance bootstrapped first.
		rec, err = s.store.GetActiveRecord(ctx, model.GlobalDescriptor())
		return rec, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// guardGlobal refuses to remove the active global record.
func guardGlobal(rec *model.Record) error {
	if rec.Context.IsGlobal() && rec.IsActive {
		return fmt.Errorf("%w (record %s)", ErrGlobalRequired, rec.ID)
	}
	return nil
}

// invalidate drops cached state for d before the mutation is acknowledged.
// A global change can alter any resolution, so it flushes everything.
func (s *Service) invalidate(ctx context.Context, d model.Descriptor) {
	if s.cache == nil {
		return
	}
	if d.IsGlobal() {
		s.cache.InvalidateAll(ctx)
		return
	}
	s.cache.Invalidate(ctx, d)
}

func (s *Service) publishToggle(ctx context.Context, rec *model.Record) {
	topic := events.TopicRecordDeactivated
	if rec.IsActive {
		topic = events.TopicRecordActivated
	}
	s.publish(ctx, topic, events.RecordToggled{Record: rec})
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.events.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "err", err)
	}
}
