package notify

import (
	"context"
	"sync"
	"testing"

	"afggram/pkg/domain"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func TestHandlerStoresAndPublishes(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	q := queue.NewMemoryQueue(Handler(st, pub))
	ctx := context.Background()

	req := Request{ID: "n1", UserID: "u1", ActorID: "u2", Kind: domain.NotifyLike, EntityID: "p1"}
	if err := Enqueue(ctx, q, req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	list, err := st.ListNotifications("u1", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("notifications = %v, %v", list, err)
	}
	if list[0].Kind != domain.NotifyLike || list[0].EntityID != "p1" {
		t.Fatalf("unexpected notification: %+v", list[0])
	}
	if len(pub.events) != 1 || pub.events[0].Table != realtime.TableNotifications || pub.events[0].Record["userId"] != "u1" {
		t.Fatalf("unexpected events: %+v", pub.events)
	}

	// A redelivered job must not duplicate the row.
	if err := Enqueue(ctx, q, req); err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if n, _ := st.UnreadNotificationCount("u1"); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
}

func TestEnqueueDropsSelfNotifications(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	if err := Enqueue(context.Background(), q, Request{UserID: "u1", ActorID: "u1", Kind: domain.NotifyLike}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(q.Jobs()) != 0 {
		t.Fatalf("self notification was enqueued")
	}
}

func TestHandlerRejectsIncompletePayload(t *testing.T) {
	h := Handler(store.NewMemoryStore(), nil)
	err := h(context.Background(), queue.Job{ID: "j", Kind: JobKind, Payload: []byte(`{"kind":"like"}`)})
	if !queue.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
