package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/model"
)

var (
	// ErrNotFound is returned when no record matches an id or descriptor.
	ErrNotFound = errors.New("configuration record not found")
	// ErrDuplicateActive is returned when a write would leave two active
	// records for one descriptor.
	ErrDuplicateActive = errors.New("an active configuration already exists for this context")
)

// Store defines the persistence interface for contextual configuration records.
// Implementations enforce at most one active record per descriptor atomically.
type Store interface {
	// Records
	CreateRecord(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	GetActiveRecord(ctx context.Context, desc model.Descriptor) (*model.Record, error)
	UpdateRecord(ctx context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error)
	SetActive(ctx context.Context, id string, active bool, actor string) (*model.Record, error)
	DeleteRecord(ctx context.Context, id string) error

	// Listing
	ListRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error)
	ListAllRecords(ctx context.Context) ([]*model.Record, error)
	SearchRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) // returns records, total count, error
	CountByKind(ctx context.Context) ([]model.KindCount, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// ApplyUpdate computes the payload an update leaves behind. Drivers call it
// while holding whatever lock or version check guards the record.
func ApplyUpdate(current, update model.Payload, mode model.UpdateMode) model.Payload {
	if mode == model.UpdateMerge {
		return merge.Merge(current, update)
	}
	return merge.Clone(update)
}
