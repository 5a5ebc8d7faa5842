// Package room holds the in-memory state for one live board: its CRDT
// document, the set of connected sessions, and the bookkeeping the
// maintenance and projection loops need to decide when to act.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
)

// broadcastBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind drops frames rather than stalling the
// room for everyone else.
const broadcastBuffer = 100

// Room is the live state for a single board. All fields except doc
// are guarded by mu; doc guards itself internally.
type Room struct {
	BoardID uuid.UUID
	Doc     *crdtdoc.Doc

	mu             sync.Mutex
	subscribers    map[uint64]chan []byte
	nextSubID      uint64
	presence       map[uuid.UUID]struct{}
	pendingUpdates [][]byte
	lastActive     time.Time
	lastSave       time.Time
}

// New creates an empty room for boardID. The CRDT document starts
// blank; the caller (the registry's load path) is responsible for
// replaying durable state into it before the room is published.
func New(boardID uuid.UUID) *Room {
	now := time.Now()
	return &Room{
		BoardID:     boardID,
		Doc:         crdtdoc.New(boardID.String()),
		subscribers: make(map[uint64]chan []byte),
		presence:    make(map[uuid.UUID]struct{}),
		lastActive:  now,
		lastSave:    now,
	}
}

// Subscribe registers a new broadcast listener and returns its channel
// plus a function to unregister it. Frames published after
// Subscribe returns but dropped due to backpressure are not resent.
func (r *Room) Subscribe() (ch <-chan []byte, cancel func()) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	c := make(chan []byte, broadcastBuffer)
	r.subscribers[id] = c
	r.mu.Unlock()

	return c, func() {
		r.mu.Lock()
		if sub, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(sub)
		}
		r.mu.Unlock()
	}
}

// Broadcast fans frame out to every subscriber, including (per the
// wire protocol) whichever session originated it. Slow subscribers
// have the frame dropped rather than blocking the sender.
func (r *Room) Broadcast(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscribers {
		select {
		case sub <- frame:
		default:
		}
	}
}

// SubscriberCount reports how many sessions are currently attached.
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Join and Leave track presence for awareness/roster purposes. They
// don't gate broadcast membership — Subscribe/cancel do that.
func (r *Room) Join(userID uuid.UUID) {
	r.mu.Lock()
	r.presence[userID] = struct{}{}
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) Leave(userID uuid.UUID) {
	r.mu.Lock()
	delete(r.presence, userID)
	r.mu.Unlock()
}

func (r *Room) Presence() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.presence))
	for id := range r.presence {
		out = append(out, id)
	}
	return out
}

// Touch marks the room as recently active, resetting the idle-eviction
// clock the maintenance loop consults.
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) IdleSince() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastActive)
}

// QueueUpdate appends a raw CRDT update to the pending buffer the
// maintenance loop periodically drains and persists.
func (r *Room) QueueUpdate(update []byte) {
	if len(update) == 0 {
		return
	}
	r.mu.Lock()
	r.pendingUpdates = append(r.pendingUpdates, update)
	r.lastActive = time.Now()
	r.mu.Unlock()
}

// DrainPending removes and returns every update queued since the last
// drain. Returns nil if nothing is pending.
func (r *Room) DrainPending() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pendingUpdates) == 0 {
		return nil
	}
	drained := r.pendingUpdates
	r.pendingUpdates = nil
	return drained
}

func (r *Room) MarkSaved() {
	r.mu.Lock()
	r.lastSave = time.Now()
	r.mu.Unlock()
}
