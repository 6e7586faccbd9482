package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rentnest/internal/model"
)

type fakeSource struct {
	ch        chan *pq.Notification
	listenErr error
	listened  []string
	pings     int
	closed    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *pq.Notification, 8)}
}

func (f *fakeSource) Listen(channel string) error {
	f.listened = append(f.listened, channel)
	return f.listenErr
}

func (f *fakeSource) NotificationChannel() <-chan *pq.Notification { return f.ch }

func (f *fakeSource) Ping() error {
	f.pings++
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type mockFinder struct {
	findByIDFn func(ctx context.Context, id int64) (*model.Message, error)
}

func (m *mockFinder) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func newTestListener(source *fakeSource, hub *Hub, finder MessageFinder) *Listener {
	return &Listener{
		source:       source,
		hub:          hub,
		finder:       finder,
		logger:       hub.logger,
		pingInterval: time.Hour,
	}
}

const samplePayload = `{"id":12,"conversation_id":3,"sender_id":"alice","content":"Is it available?",` +
	`"created_at":"2026-03-01T12:00:00.123456+00:00","participant_one_id":"alice","participant_two_id":"bob"}`

func TestListener_Run_DispatchesNotifications(t *testing.T) {
	hub := NewHub(nil, nil)
	bob := hub.Subscribe("bob")
	source := newFakeSource()
	l := newTestListener(source, hub, &mockFinder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	source.ch <- nil // 再接続通知は無視される
	source.ch <- &pq.Notification{Channel: Channel, Extra: samplePayload}

	got := receive(t, bob)
	if got.ID != 12 || got.ConversationID != 3 || got.SenderID != "alice" || got.Content != "Is it available?" {
		t.Errorf("message = %+v", got)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	if !got.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if !source.closed {
		t.Error("source should be closed after Run returns")
	}
	if len(source.listened) != 1 || source.listened[0] != Channel {
		t.Errorf("listened = %v", source.listened)
	}
}

func TestListener_Run_ListenFailure(t *testing.T) {
	source := newFakeSource()
	source.listenErr = errors.New("connection refused")
	l := newTestListener(source, NewHub(nil, nil), &mockFinder{})

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !source.closed {
		t.Error("source should be closed on listen failure")
	}
}

func TestListener_Run_ClosedChannel_ReturnsError(t *testing.T) {
	source := newFakeSource()
	close(source.ch)
	l := newTestListener(source, NewHub(nil, nil), &mockFinder{})

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected error for closed notification channel")
	}
}

func TestListener_Dispatch_TruncatedPayload_RefetchesMessage(t *testing.T) {
	hub := NewHub(nil, nil)
	alice := hub.Subscribe("alice")
	finder := &mockFinder{
		findByIDFn: func(ctx context.Context, id int64) (*model.Message, error) {
			if id != 40 {
				t.Errorf("FindByID id = %d, want 40", id)
			}
			return &model.Message{ID: 40, ConversationID: 3, SenderID: "bob", Content: "long text"}, nil
		},
	}
	l := newTestListener(newFakeSource(), hub, finder)

	l.dispatch(context.Background(),
		`{"id":40,"conversation_id":3,"sender_id":"bob","created_at":"2026-03-01T12:00:00+00:00",`+
			`"participant_one_id":"alice","participant_two_id":"bob","truncated":true}`)

	if got := receive(t, alice); got.Content != "long text" {
		t.Errorf("Content = %q, want refetched content", got.Content)
	}
}

func TestListener_Dispatch_InvalidPayload_IsDropped(t *testing.T) {
	hub := NewHub(nil, nil)
	alice := hub.Subscribe("alice")
	l := newTestListener(newFakeSource(), hub, &mockFinder{})

	l.dispatch(context.Background(), `not json`)

	assertNoMessage(t, alice)
}

func TestListener_Dispatch_TruncatedMissingMessage_IsDropped(t *testing.T) {
	hub := NewHub(nil, nil)
	alice := hub.Subscribe("alice")
	l := newTestListener(newFakeSource(), hub, &mockFinder{})

	l.dispatch(context.Background(),
		`{"id":41,"conversation_id":3,"participant_one_id":"alice","participant_two_id":"bob","truncated":true}`)

	assertNoMessage(t, alice)
}
