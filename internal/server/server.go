package server

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/ctxconf/internal/metrics"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigServer exposes the override service over HTTP and gRPC health.
type ConfigServer struct {
	svc      *overrides.Service
	pinger   Pinger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	hub      *EventHub

	authToken  string
	adminToken string
}

// Option configures a ConfigServer.
type Option func(*ConfigServer)

func WithLogger(l *slog.Logger) Option {
	return func(s *ConfigServer) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ConfigServer) { s.metrics = m }
}

// WithEventHub serves hub at GET /v1/events/stream. The same hub should be
// passed to the override service as a publisher.
func WithEventHub(h *EventHub) Option {
	return func(s *ConfigServer) { s.hub = h }
}

// WithAuth requires a bearer token on every route except health and metrics.
// Admin routes need adminToken; when it is empty, token is admin too. An
// empty token disables auth entirely.
func WithAuth(token, adminToken string) Option {
	return func(s *ConfigServer) {
		s.authToken = token
		s.adminToken = adminToken
	}
}

// NewConfigServer returns a server for svc. pinger backs the health checks.
func NewConfigServer(svc *overrides.Service, pinger Pinger, opts ...Option) *ConfigServer {
	s := &ConfigServer{
		svc:      svc,
		pinger:   pinger,
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
