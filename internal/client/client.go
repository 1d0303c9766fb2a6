// Package client provides a transport-agnostic interface for the ctxconf
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
)

// ConfigClient is the interface that all ctxd CLI commands use to
// communicate with the server. It is implemented by HTTPClient.
type ConfigClient interface {
	// Resolution
	Resolve(ctx context.Context, req model.Requester) (*model.Resolved, error)
	SavePreferences(ctx context.Context, req model.Requester, prefs model.Preferences) (*model.Record, error)

	// Overrides
	CreateOverride(ctx context.Context, req *CreateOverrideRequest) (*model.Record, error)
	GetOverride(ctx context.Context, id string) (*model.Record, error)
	GetActive(ctx context.Context, d model.Descriptor) (*model.Record, error)
	UpdateOverride(ctx context.Context, id string, req *UpdateOverrideRequest) (*model.Record, error)
	Activate(ctx context.Context, id, actor string) (*model.Record, error)
	Deactivate(ctx context.Context, id, actor string) (*model.Record, error)
	DeleteOverride(ctx context.Context, id string) error
	ListOverrides(ctx context.Context, kind model.Kind) ([]*model.Record, error)
	SearchOverrides(ctx context.Context, f model.RecordFilter) (*overrides.Page, error)
	Bulk(ctx context.Context, req *BulkRequest) (*BulkResponse, error)

	// Events
	WatchEvents(ctx context.Context, topics []string, lastEventID string, fn func(Event) error) error

	// Operations
	Stats(ctx context.Context) (*overrides.Stats, error)
	FlushCache(ctx context.Context) error
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// CreateOverrideRequest holds parameters for creating a record.
type CreateOverrideRequest struct {
	Kind       model.Kind    `json:"kind"`
	Identifier string        `json:"identifier,omitempty"`
	Payload    model.Payload `json:"payload"`
	IsActive   *bool         `json:"is_active,omitempty"`
	Actor      string        `json:"actor,omitempty"`
}

// UpdateOverrideRequest holds optional parameters for updating a record.
// A nil Payload or IsActive means "don't change".
type UpdateOverrideRequest struct {
	Payload  model.Payload    `json:"payload,omitempty"`
	Mode     model.UpdateMode `json:"mode,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`
	Actor    string           `json:"actor,omitempty"`
}

// BulkRequest applies one action to several records.
type BulkRequest struct {
	Action overrides.BulkAction `json:"action"`
	IDs    []string             `json:"ids"`
	Actor  string               `json:"actor,omitempty"`
}

// BulkResponse is the response from Bulk.
type BulkResponse struct {
	Results   []overrides.BulkResult `json:"results"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
}

// Event is one frame of the server's change stream.
type Event struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}
