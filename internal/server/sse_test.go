package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/events"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/alfredjeanlab/ctxconf/internal/store/memory"
)

func TestEventHub_BroadcastAndReceive(t *testing.T) {
	hub := NewEventHub()
	c := hub.subscribe(nil)
	defer hub.unsubscribe(c)

	if err := hub.Publish(context.Background(), events.TopicRecordCreated, map[string]string{"id": "cfg-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-c.ch:
		if evt.Topic != events.TopicRecordCreated || string(evt.Data) != `{"id":"cfg-1"}` || evt.ID != 1 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventHub_TopicFiltering(t *testing.T) {
	hub := NewEventHub()
	toggles := hub.subscribe([]string{"ctxconf.record.activated", "ctxconf.record.deactivated"})
	all := hub.subscribe([]string{"ctxconf.record.>"})
	defer hub.unsubscribe(toggles)
	defer hub.unsubscribe(all)

	hub.broadcast(events.TopicRecordCreated, []byte(`{}`))
	hub.broadcast(events.TopicRecordDeactivated, []byte(`{}`))

	if got := len(toggles.ch); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if evt := <-toggles.ch; evt.Topic != events.TopicRecordDeactivated {
		t.Fatalf("filtered subscriber got %q", evt.Topic)
	}
	if got := len(all.ch); got != 2 {
		t.Fatalf("wildcard subscriber got %d events, want 2", got)
	}
}

func TestEventHub_SlowSubscriberDrops(t *testing.T) {
	hub := NewEventHub()
	c := hub.subscribe(nil)
	defer hub.unsubscribe(c)

	for range feedClientBuffer + 5 {
		hub.broadcast(events.TopicRecordUpdated, []byte(`{}`))
	}
	if got := c.dropped.Load(); got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}
}

func TestEventHub_Unsubscribe(t *testing.T) {
	hub := NewEventHub()
	c := hub.subscribe(nil)
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Subscribers())
	}
	hub.unsubscribe(c)
	hub.broadcast(events.TopicRecordCreated, []byte(`{}`))
	if hub.Subscribers() != 0 || len(c.ch) != 0 {
		t.Fatal("unsubscribed client should receive nothing")
	}
}

func TestEventHub_Since(t *testing.T) {
	hub := NewEventHub()
	if got := hub.since(0); len(got) != 0 {
		t.Fatalf("empty hub returned %d events", len(got))
	}
	for i := range 5 {
		hub.broadcast(events.TopicRecordUpdated, []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	got := hub.since(3)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("since(3) = %+v", got)
	}
}

func TestEventHub_BacklogWraps(t *testing.T) {
	hub := NewEventHub()
	for range feedBacklog + 10 {
		hub.broadcast(events.TopicRecordUpdated, []byte(`{}`))
	}
	got := hub.since(0)
	if len(got) != feedBacklog {
		t.Fatalf("backlog holds %d events, want %d", len(got), feedBacklog)
	}
	if got[0].ID != 11 || got[len(got)-1].ID != feedBacklog+10 {
		t.Fatalf("backlog spans %d..%d", got[0].ID, got[len(got)-1].ID)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"ctxconf.record.created", "ctxconf.record.created", true},
		{"ctxconf.record.*", "ctxconf.record.deleted", true},
		{"ctxconf.*", "ctxconf.record.deleted", false},
		{"ctxconf.>", "ctxconf.record.deleted", true},
		{"ctxconf.record.>", "ctxconf.record", false},
		{"ctxconf.cache.*", "ctxconf.record.created", false},
		{"ctxconf.record.created.extra", "ctxconf.record.created", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.topic, func(t *testing.T) {
			if got := matchTopic(tt.pattern, tt.topic); got != tt.want {
				t.Fatalf("matchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

type streamEvent struct {
	ID    string
	Event string
	Data  string
}

// readStream parses SSE frames from body until it closes.
func readStream(body *bufio.Scanner) <-chan streamEvent {
	ch := make(chan streamEvent, 32)
	go func() {
		defer close(ch)
		var cur streamEvent
		for body.Scan() {
			line := body.Text()
			switch {
			case strings.HasPrefix(line, "id:"):
				cur.ID = strings.TrimPrefix(line, "id:")
			case strings.HasPrefix(line, "event:"):
				cur.Event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				cur.Data = strings.TrimPrefix(line, "data:")
			case line == "" && cur.Event != "":
				ch <- cur
				cur = streamEvent{}
			}
		}
	}()
	return ch
}

type feedEnv struct {
	url string
	svc *overrides.Service
	hub *EventHub
}

func newFeedServer(t *testing.T) *feedEnv {
	t.Helper()
	st := memory.New()
	c := cache.New(cache.NewLocalBackend(100, time.Minute))
	t.Cleanup(func() { c.Close() })
	hub := NewEventHub()
	svc := overrides.New(st, c, overrides.WithPublisher(hub))
	if _, _, err := svc.EnsureGlobal(context.Background(), model.Payload{"theme": map[string]any{"mode": "light"}}, "bootstrap"); err != nil {
		t.Fatalf("seed global: %v", err)
	}
	ts := httptest.NewServer(NewConfigServer(svc, st, WithEventHub(hub)).NewHTTPHandler())
	t.Cleanup(ts.Close)
	return &feedEnv{url: ts.URL, svc: svc, hub: hub}
}

func (e *feedEnv) stream(t *testing.T, query string, headers ...string) <-chan streamEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/v1/events/stream"+query, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect stream: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return readStream(bufio.NewScanner(resp.Body))
}

func waitFor(t *testing.T, ch <-chan streamEvent, topic string) streamEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before %q", topic)
			}
			if evt.Event == topic {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", topic)
		}
	}
}

func waitSubscribers(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", hub.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStream_RecordLifecycle(t *testing.T) {
	env := newFeedServer(t)
	ch := env.stream(t, "")
	waitSubscribers(t, env.hub, 1)

	ctx := context.Background()
	d, _ := model.NewDescriptor(model.KindUser, "alice")
	rec, err := env.svc.CreateOverride(ctx, overrides.CreateInput{Context: d, Payload: model.Payload{"theme": map[string]any{"mode": "dark"}}}, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	evt := waitFor(t, ch, events.TopicRecordCreated)
	var created events.RecordCreated
	if err := json.Unmarshal([]byte(evt.Data), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Record.ID != rec.ID || created.Record.Context != d {
		t.Fatalf("created event = %+v", created.Record)
	}

	if _, err := env.svc.Deactivate(ctx, rec.ID, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	waitFor(t, ch, events.TopicRecordDeactivated)

	if err := env.svc.Delete(ctx, rec.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	evt = waitFor(t, ch, events.TopicRecordDeleted)
	if !strings.Contains(evt.Data, rec.ID) {
		t.Fatalf("deleted event data = %s", evt.Data)
	}
}

func TestEventStream_TopicFilter(t *testing.T) {
	env := newFeedServer(t)
	ch := env.stream(t, "?topics=ctxconf.record.updated")
	waitSubscribers(t, env.hub, 1)

	ctx := context.Background()
	d, _ := model.NewDescriptor(model.KindOrganization, "acme")
	rec, err := env.svc.CreateOverride(ctx, overrides.CreateInput{Context: d, Payload: model.Payload{"a": 1.0}}, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.UpdateOverride(ctx, rec.ID, overrides.UpdateInput{Payload: model.Payload{"b": 2.0}, Mode: model.UpdateMerge}, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The first event delivered must be the update; the create was filtered.
	select {
	case evt := <-ch:
		if evt.Event != events.TopicRecordUpdated {
			t.Fatalf("first event = %q, want update", evt.Event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update event")
	}
}

func TestEventStream_LastEventIDReplay(t *testing.T) {
	env := newFeedServer(t)

	// The bootstrap create is event 1; reconnecting from 0 replays it.
	ch := env.stream(t, "", "Last-Event-ID", "0")
	evt := waitFor(t, ch, events.TopicRecordCreated)
	if evt.ID != "1" {
		t.Fatalf("replayed id = %s, want 1", evt.ID)
	}
	if !strings.Contains(evt.Data, `"kind":"global"`) {
		t.Fatalf("replayed data = %s", evt.Data)
	}
}

func TestEventStream_EndsOnHubClose(t *testing.T) {
	env := newFeedServer(t)
	ch := env.stream(t, "")
	waitSubscribers(t, env.hub, 1)

	env.hub.Close()
	env.hub.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected stream to end without events")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream still open after hub close")
	}
}

func TestEventStream_NotRegisteredWithoutHub(t *testing.T) {
	env := newTestServer(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/events/stream", nil)
	requireStatus(t, rec, http.StatusNotFound)
}
