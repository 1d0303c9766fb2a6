package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer bounds each Subscribe channel.
const subscriptionBuffer = 64

// natsConn is the connection shared by the publisher and subscriber.
type natsConn struct {
	conn *nats.Conn
}

func dialNATS(url, name string, opts []nats.Option) (natsConn, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return natsConn{}, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return natsConn{conn: nc}, nil
}

// Flush waits until the server has processed everything sent so far.
func (c natsConn) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

// Close ends the connection without draining pending messages.
func (c natsConn) Close() error {
	c.conn.Close()
	return nil
}

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	natsConn
}

// NewNATSPublisher connects to url. Extra nats.Option values are appended
// to the reconnect-forever defaults.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	c, err := dialNATS(url, "ctxconf-publisher", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{natsConn: c}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	natsConn
}

// NewNATSSubscriber connects to url. Extra options (disconnect and
// reconnect handlers, for instance) are appended to the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	c, err := dialNATS(url, "ctxconf-subscriber", opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{natsConn: c}, nil
}

// subscription forwards NATS messages into a bounded channel.
type subscription struct {
	topic   string
	sub     *nats.Subscription
	ch      chan []byte
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg.Data:
	default:
		// Never stall the NATS client; cached entries still expire by TTL.
		if s.dropped.Add(1) == 1 {
			slog.Warn("nats subscriber falling behind, dropping messages", "topic", s.topic)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		_ = s.sub.Unsubscribe()
		s.mu.Lock()
		s.closed = true
		for len(s.ch) > 0 {
			<-s.ch
		}
		close(s.ch)
		s.mu.Unlock()
	})
}

// Subscribe returns a channel of raw payloads for topic, which may use NATS
// wildcards such as "ctxconf.>". The returned cancel function unsubscribes
// and closes the channel; it is safe to call more than once.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	sub := &subscription{topic: topic, ch: make(chan []byte, subscriptionBuffer)}

	ns, err := s.conn.Subscribe(topic, sub.deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sub.sub = ns
	// The subscription must reach the server before messages published on
	// other connections are routed to it.
	if err := s.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return sub.ch, sub.stop, nil
}
