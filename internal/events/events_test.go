package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicRecordCreated, RecordCreated{}); err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return p.err
}

func TestMultiPublisher(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingPublisher{err: boom}
	ok := &recordingPublisher{}
	pub := MultiPublisher{failing, ok}

	err := pub.Publish(context.Background(), TopicRecordDeleted, RecordDeleted{ID: "cfg-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.topics) != 1 || ok.topics[0] != TopicRecordDeleted {
		t.Fatalf("healthy publisher should still receive the event, got %v", ok.topics)
	}

	if err := pub.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
	if !failing.closed || !ok.closed {
		t.Fatal("every publisher should be closed")
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(TopicRecordCreated, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	event := RecordCreated{Record: &model.Record{
		ID:      "cfg-pub1",
		Context: model.Descriptor{Kind: model.KindRole, Identifier: "editor"},
		Payload: model.Payload{"theme": "dark"},
	}}
	if err := pub.Publish(context.Background(), TopicRecordCreated, event); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	select {
	case msg := <-ch:
		var got RecordCreated
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Record.ID != "cfg-pub1" || got.Record.Context.Identifier != "editor" {
			t.Errorf("got record %+v", got.Record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

// fakeEvictor records what it was asked to drop.
type fakeEvictor struct {
	mu   sync.Mutex
	keys []string
	all  int
	hit  chan struct{}
}

func newFakeEvictor() *fakeEvictor { return &fakeEvictor{hit: make(chan struct{}, 16)} }

func (f *fakeEvictor) Evict(_ context.Context, d model.Descriptor) {
	f.mu.Lock()
	f.keys = append(f.keys, d.Key())
	f.mu.Unlock()
	f.hit <- struct{}{}
}

func (f *fakeEvictor) EvictAll(context.Context) {
	f.mu.Lock()
	f.all++
	f.mu.Unlock()
	f.hit <- struct{}{}
}

func TestInvalidationRoundTrip(t *testing.T) {
	url := startTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubA, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pubA.Close()
	subB, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer subB.Close()

	target := newFakeEvictor()
	if err := ListenInvalidations(ctx, subB, target, "instance-b", slog.Default()); err != nil {
		t.Fatalf("listen: %v", err)
	}

	a := NewBroadcaster(pubA, "instance-a")
	if err := a.NotifyInvalidate(ctx, model.Descriptor{Kind: model.KindUser, Identifier: "alice"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := a.NotifyInvalidateAll(ctx); err != nil {
		t.Fatalf("notify all: %v", err)
	}
	pubA.Flush(ctx)

	for i := range 2 {
		select {
		case <-target.hit:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for eviction %d", i)
		}
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.keys) != 1 || target.keys[0] != "user:alice" {
		t.Errorf("evicted keys = %v", target.keys)
	}
	if target.all != 1 {
		t.Errorf("flushes = %d, want 1", target.all)
	}
}

func TestApplyInvalidation(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ctx := context.Background()

	tests := []struct {
		name     string
		data     string
		wantKeys int
		wantAll  int
	}{
		{"own origin ignored", `{"origin":"self","all":true}`, 0, 0},
		{"descriptor", `{"origin":"peer","descriptor":{"kind":"org","identifier":"acme"}}`, 1, 0},
		{"flush", `{"origin":"peer","all":true}`, 0, 1},
		{"malformed", `{not json`, 0, 0},
		{"empty notice", `{"origin":"peer"}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeEvictor()
			applyInvalidation(ctx, []byte(tt.data), target, "self", logger)
			if len(target.keys) != tt.wantKeys || target.all != tt.wantAll {
				t.Errorf("keys=%v all=%d, want %d keys and %d flushes", target.keys, target.all, tt.wantKeys, tt.wantAll)
			}
		})
	}
}
