package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/events"
)

const (
	// feedBacklog is how many recent events are kept for Last-Event-ID replay.
	feedBacklog = 1000

	feedKeepalive = 15 * time.Second

	// feedClientBuffer bounds each subscriber; a full buffer drops events
	// for that subscriber only.
	feedClientBuffer = 64
)

// feedEvent is one change notification as sent to stream subscribers.
type feedEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

type feedClient struct {
	topics  []string
	ch      chan *feedEvent
	dropped atomic.Uint64
}

// EventHub fans record change events out to connected SSE subscribers and
// keeps a bounded backlog for reconnects. It implements events.Publisher so
// the override service can publish to it directly.
type EventHub struct {
	nextID    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	logMu   sync.RWMutex
	backlog [feedBacklog]feedEvent
	head    int // next write position
	size    int
}

var _ events.Publisher = (*EventHub)(nil)

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*feedClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Publish encodes event as JSON and delivers it to matching subscribers.
func (h *EventHub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}
	h.broadcast(topic, data)
	return nil
}

// Close ends every open stream. It is safe to call more than once.
func (h *EventHub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func (h *EventHub) broadcast(topic string, data []byte) {
	evt := &feedEvent{ID: h.nextID.Add(1), Topic: topic, Data: data}

	h.logMu.Lock()
	h.backlog[h.head] = *evt
	h.head = (h.head + 1) % feedBacklog
	if h.size < feedBacklog {
		h.size++
	}
	h.logMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			c.dropped.Add(1)
		}
	}
}

func (h *EventHub) subscribe(topics []string) *feedClient {
	c := &feedClient{topics: topics, ch: make(chan *feedEvent, feedClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *EventHub) unsubscribe(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Subscribers reports how many streams are connected.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// since returns backlog events newer than lastID, oldest first.
func (h *EventHub) since(lastID uint64) []feedEvent {
	h.logMu.RLock()
	defer h.logMu.RUnlock()

	var out []feedEvent
	start := (h.head - h.size + feedBacklog) % feedBacklog
	for i := range h.size {
		evt := h.backlog[(start+i)%feedBacklog]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

func (c *feedClient) wants(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, p := range c.topics {
		if matchTopic(p, topic) {
			return true
		}
	}
	return false
}

// matchTopic matches dot-separated topics NATS style: "*" is one segment,
// a trailing ">" is one or more segments.
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	for i, seg := range pp {
		if seg == ">" {
			return i < len(tp)
		}
		if i >= len(tp) || (seg != "*" && seg != tp[i]) {
			return false
		}
	}
	return len(pp) == len(tp)
}

// handleEventStream handles GET /v1/events/stream.
func (s *ConfigServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	client := s.hub.subscribe(topics)
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream: flush unsupported", "err", err)
		return
	}

	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if lastID, err := strconv.ParseUint(last, 10, 64); err == nil {
			for _, evt := range s.hub.since(lastID) {
				if client.wants(evt.Topic) {
					writeFeedEvent(w, &evt)
				}
			}
			_ = rc.Flush()
		}
	}

	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(feedKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-s.hub.done:
			return
		case <-r.Context().Done():
			if n := client.dropped.Load(); n > 0 {
				s.logger.Info("event stream closed", "dropped", n)
			}
			return
		case evt := <-client.ch:
			writeFeedEvent(w, evt)
			if err := rc.Flush(); err != nil {
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeFeedEvent(w http.ResponseWriter, evt *feedEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
