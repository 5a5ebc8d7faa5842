// Package registry tracks every board currently live in memory and
// implements the load protocol that brings a board's CRDT document up
// to date from durable storage the first time it's touched.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

// Registry owns the set of live rooms, keyed by board id. Rooms are
// created lazily on first access and never removed except by the
// maintenance package's idle-eviction sweep.
type Registry struct {
	store *store.Store
	log   *slog.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]*room.Room
}

func New(st *store.Store, log *slog.Logger) *Registry {
	return &Registry{
		store: st,
		log:   log,
		rooms: make(map[uuid.UUID]*room.Room),
	}
}

// GetOrLoad returns the live room for boardID, loading it from durable
// storage first if this is the first access since startup. The lock is
// not held during the load, so concurrent callers that miss at the same
// time each load the board; the first to finish installs its room, and
// the others discard theirs and return the installed one, so every
// caller receives the same *room.Room.
func (r *Registry) GetOrLoad(ctx context.Context, boardID uuid.UUID) (*room.Room, error) {
	r.mu.Lock()
	if existing, ok := r.rooms[boardID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	loaded, err := r.loadRoom(ctx, boardID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[boardID]; ok {
		// Another goroutine won the race while we were loading.
		return existing, nil
	}
	r.rooms[boardID] = loaded
	return loaded, nil
}

// Peek returns the room for boardID only if it is already live,
// without triggering a load.
func (r *Registry) Peek(boardID uuid.UUID) (*room.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[boardID]
	return rm, ok
}

// All returns a snapshot of every currently live room, used by the
// maintenance loop's periodic sweep.
func (r *Registry) All() []*room.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

// Evict removes boardID from the registry. Callers must ensure no
// session still holds a reference it intends to keep using; existing
// subscribers are unaffected since they hold the *room.Room directly,
// but a future GetOrLoad will reload from storage.
func (r *Registry) Evict(boardID uuid.UUID) {
	r.mu.Lock()
	delete(r.rooms, boardID)
	r.mu.Unlock()
}

// loadRoom implements the load protocol: apply the latest snapshot (if
// any), then replay every update logged after it, in order. A corrupt
// update entry is logged and skipped rather than failing the whole
// load, matching the original engine's best-effort replay.
func (r *Registry) loadRoom(ctx context.Context, boardID uuid.UUID) (*room.Room, error) {
	rm := room.New(boardID)

	startSeq := int64(0)
	if seq, stateBin, ok, err := r.store.LatestSnapshot(ctx, boardID); err != nil {
		return nil, fmt.Errorf("load snapshot for board %s: %w", boardID, err)
	} else if ok {
		if err := rm.Doc.ApplyUpdate(stateBin); err != nil {
			return nil, fmt.Errorf("apply snapshot for board %s: %w", boardID, err)
		}
		startSeq = seq
		r.log.Info("loaded snapshot", "board_id", boardID, "seq", seq)
	}

	updates, err := r.store.UpdatesAfterSeq(ctx, boardID, startSeq)
	if err != nil {
		return nil, fmt.Errorf("load updates for board %s: %w", boardID, err)
	}
	applied := 0
	for _, u := range updates {
		if err := rm.Doc.ApplyUpdate(u.UpdateBin); err != nil {
			r.log.Error("skipping corrupt update log entry", "board_id", boardID, "seq", u.Seq, "error", err)
			continue
		}
		applied++
	}
	if applied > 0 {
		r.log.Info("replayed updates", "board_id", boardID, "count", applied)
	}
	return rm, nil
}
