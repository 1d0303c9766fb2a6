// Package events publishes configuration changes and cache invalidations
// over NATS.
package events

import (
	"context"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// Event topic constants
const (
	TopicRecordCreated     = "ctxconf.record.created"
	TopicRecordUpdated     = "ctxconf.record.updated"
	TopicRecordActivated   = "ctxconf.record.activated"
	TopicRecordDeactivated = "ctxconf.record.deactivated"
	TopicRecordDeleted     = "ctxconf.record.deleted"

	// TopicRecordAll matches every record topic.
	TopicRecordAll = "ctxconf.record.>"

	// TopicCacheInvalidate carries cross-instance cache invalidations.
	TopicCacheInvalidate = "ctxconf.cache.invalidate"
)

// Event types

type RecordCreated struct {
	Record *model.Record `json:"record"`
}

type RecordUpdated struct {
	Record *model.Record    `json:"record"`
	Mode   model.UpdateMode `json:"mode"`
}

// RecordToggled is published on both the activated and deactivated topics.
type RecordToggled struct {
	Record *model.Record `json:"record"`
}

type RecordDeleted struct {
	ID        string           `json:"id"`
	Context   model.Descriptor `json:"context"`
	DeletedBy string           `json:"deleted_by,omitempty"`
}

// CacheInvalidation asks every instance except Origin to drop cached
// entries: one descriptor, or everything when All is set.
type CacheInvalidation struct {
	Origin     string            `json:"origin"`
	Descriptor *model.Descriptor `json:"descriptor,omitempty"`
	All        bool              `json:"all,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
