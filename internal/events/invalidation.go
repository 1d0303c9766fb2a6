package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// Broadcaster publishes local cache invalidations for other instances. It
// satisfies cache.Notifier.
type Broadcaster struct {
	pub    Publisher
	origin string
}

// NewBroadcaster tags every notice with origin so the sending instance can
// ignore its own messages.
func NewBroadcaster(pub Publisher, origin string) *Broadcaster {
	return &Broadcaster{pub: pub, origin: origin}
}

func (b *Broadcaster) NotifyInvalidate(ctx context.Context, d model.Descriptor) error {
	return b.pub.Publish(ctx, TopicCacheInvalidate, CacheInvalidation{Origin: b.origin, Descriptor: &d})
}

func (b *Broadcaster) NotifyInvalidateAll(ctx context.Context) error {
	return b.pub.Publish(ctx, TopicCacheInvalidate, CacheInvalidation{Origin: b.origin, All: true})
}

// Evictor applies invalidations received from other instances without
// re-broadcasting them.
type Evictor interface {
	Evict(ctx context.Context, d model.Descriptor)
	EvictAll(ctx context.Context)
}

// ListenInvalidations applies remote invalidation notices to target until
// ctx is done. Notices from origin are skipped.
func ListenInvalidations(ctx context.Context, sub Subscriber, target Evictor, origin string, logger *slog.Logger) error {
	ch, cancel, err := sub.Subscribe(TopicCacheInvalidate)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				applyInvalidation(ctx, data, target, origin, logger)
			}
		}
	}()
	return nil
}

func applyInvalidation(ctx context.Context, data []byte, target Evictor, origin string, logger *slog.Logger) {
	var n CacheInvalidation
	if err := json.Unmarshal(data, &n); err != nil {
		logger.Warn("malformed cache invalidation", "err", err)
		return
	}
	if n.Origin == origin {
		return
	}
	switch {
	case n.All:
		logger.Debug("remote cache flush", "origin", n.Origin)
		target.EvictAll(ctx)
	case n.Descriptor != nil:
		logger.Debug("remote cache invalidation", "origin", n.Origin, "key", n.Descriptor.Key())
		target.Evict(ctx, *n.Descriptor)
	default:
		logger.Warn("cache invalidation without target", "origin", n.Origin)
	}
}
