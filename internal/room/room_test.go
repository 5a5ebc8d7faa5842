package room

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	r := New(uuid.New())
	chA, cancelA := r.Subscribe()
	chB, cancelB := r.Subscribe()
	defer cancelA()
	defer cancelB()

	r.Broadcast([]byte("hello"))

	select {
	case got := <-chA:
		if string(got) != "hello" {
			t.Fatalf("subscriber A got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received frame")
	}
	select {
	case got := <-chB:
		if string(got) != "hello" {
			t.Fatalf("subscriber B got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received frame")
	}
}

func TestBroadcastDropsOnFullSubscriber(t *testing.T) {
	r := New(uuid.New())
	ch, cancel := r.Subscribe()
	defer cancel()

	for i := 0; i < broadcastBuffer+10; i++ {
		r.Broadcast([]byte{byte(i)})
	}

	if len(ch) != broadcastBuffer {
		t.Fatalf("want channel full at %d, got %d", broadcastBuffer, len(ch))
	}
}

func TestCancelClosesChannel(t *testing.T) {
	r := New(uuid.New())
	ch, cancel := r.Subscribe()
	cancel()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after cancel")
	}
	if r.SubscriberCount() != 0 {
		t.Fatalf("want 0 subscribers after cancel, got %d", r.SubscriberCount())
	}
}

func TestPresenceJoinLeave(t *testing.T) {
	r := New(uuid.New())
	u1, u2 := uuid.New(), uuid.New()
	r.Join(u1)
	r.Join(u2)
	if got := len(r.Presence()); got != 2 {
		t.Fatalf("want 2 present, got %d", got)
	}
	r.Leave(u1)
	if got := len(r.Presence()); got != 1 {
		t.Fatalf("want 1 present after leave, got %d", got)
	}
}

func TestDrainPendingEmptiesQueue(t *testing.T) {
	r := New(uuid.New())
	if got := r.DrainPending(); got != nil {
		t.Fatalf("want nil drain on empty room, got %v", got)
	}
	r.QueueUpdate([]byte{1})
	r.QueueUpdate([]byte{2})

	drained := r.DrainPending()
	if len(drained) != 2 {
		t.Fatalf("want 2 pending updates, got %d", len(drained))
	}
	if got := r.DrainPending(); got != nil {
		t.Fatalf("want nil after drain, got %v", got)
	}
}

func TestTouchResetsIdleClock(t *testing.T) {
	r := New(uuid.New())
	r.mu.Lock()
	r.lastActive = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	if r.IdleSince() < 30*time.Minute {
		t.Fatal("expected room to read as idle before Touch")
	}
	r.Touch()
	if r.IdleSince() > time.Second {
		t.Fatal("expected Touch to reset idle clock")
	}
}
