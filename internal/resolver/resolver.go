// Package resolver computes the effective configuration for a requester.
//
// Resolution is winner-take-all: the descriptors of Requester.Chain are
// consulted in precedence order and the first active record found supplies
// the whole payload. Lower levels are not merged in.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/metrics"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

// ErrMissingGlobalConfiguration means no level matched and there is no
// active global record. It is a deployment fault, not a client error.
var ErrMissingGlobalConfiguration = errors.New("no active global configuration")

// Lookup is the slice of store.Store the resolver reads from.
type Lookup interface {
	GetActiveRecord(ctx context.Context, desc model.Descriptor) (*model.Record, error)
}

// Resolver is safe for concurrent use.
type Resolver struct {
	store   Lookup
	cache   *cache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver. A nil cache makes every lookup hit the store.
func New(s Lookup, c *cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{store: s, cache: c, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the payload of the highest-precedence active record
// among the requester's contexts. The global record must exist even when a
// more specific record wins; without it every resolution fails with
// ErrMissingGlobalConfiguration.
func (r *Resolver) Resolve(ctx context.Context, req model.Requester) (*model.Resolved, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		r.metrics.ObserveResolve("none", "invalid", start)
		return nil, err
	}

	chain := req.Chain()
	var (
		winner *model.Record
		source model.Descriptor
	)
	for _, d := range chain {
		rec, err := r.Active(ctx, d)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			r.metrics.ObserveResolve("none", "error", start)
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		winner, source = rec, d
		break
	}

	if winner != nil && !source.IsGlobal() {
		_, err := r.Active(ctx, model.GlobalDescriptor())
		switch {
		case errors.Is(err, store.ErrNotFound):
			winner = nil
		case err != nil:
			r.metrics.ObserveResolve("none", "error", start)
			return nil, fmt.Errorf("resolve %s: %w", model.GlobalDescriptor(), err)
		}
	}

	if winner == nil {
		r.metrics.ObserveResolve("none", "missing_global", start)
		r.logger.Error("no active global configuration", "user_id", req.UserID, "role_id", req.RoleID, "org_id", req.OrgID)
		return nil, ErrMissingGlobalConfiguration
	}

	r.metrics.ObserveResolve(string(source.Kind), "ok", start)
	return &model.Resolved{
		Payload:    model.Payload(merge.Clone(winner.Payload)),
		SourceKind: source.Kind,
		Source:     source,
		RecordID:   winner.ID,
		Chain:      chain,
	}, nil
}

// Active returns the active record for d, going through the cache when one
// is configured. A missing record is store.ErrNotFound.
func (r *Resolver) Active(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	if r.cache == nil {
		return r.store.GetActiveRecord(ctx, d)
	}
	e, err := r.cache.Fetch(ctx, d, func(ctx context.Context) (cache.Entry, error) {
		rec, err := r.store.GetActiveRecord(ctx, d)
		if errors.Is(err, store.ErrNotFound) {
			return cache.Entry{Found: false}, nil
		}
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{Found: true, Record: rec}, nil
	})
	if err != nil {
		return nil, err
	}
	if !e.Found || e.Record == nil {
		return nil, store.ErrNotFound
	}
	return e.Record, nil
}
