// Package maintenance runs the background loops that keep a live
// board's durable storage in sync with its in-memory CRDT document:
// periodic persistence of queued updates, snapshot compaction once the
// update log grows large, and eviction of rooms nobody has touched in
// a while.
package maintenance

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

const (
	snapshotInterval  = 60 * time.Second
	cleanupInterval   = 5 * time.Minute
	idleEvictAfter    = 5 * time.Minute
	snapshotMinUpdates = 200
)

// Loop owns the two tickers the original engine spawns per process:
// one that flushes pending updates and conditionally compacts, one
// that evicts rooms idle longer than idleEvictAfter.
type Loop struct {
	reg   *registry.Registry
	store *store.Store
	log   *slog.Logger

	idleEvictAfter time.Duration
}

func NewLoop(reg *registry.Registry, st *store.Store, log *slog.Logger) *Loop {
	return &Loop{reg: reg, store: st, log: log, idleEvictAfter: idleEvictAfter}
}

// Run blocks until ctx is cancelled, driving both tickers. Call it in
// its own goroutine from the server's startup path.
func (l *Loop) Run(ctx context.Context) {
	snapTicker := time.NewTicker(snapshotInterval)
	defer snapTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is still sitting in pending buffers before
			// the process exits, using a fresh context since ctx is
			// already cancelled.
			l.tickSnapshot(context.Background())
			return
		case <-snapTicker.C:
			l.tickSnapshot(ctx)
		case <-cleanupTicker.C:
			l.tickCleanup()
		}
	}
}

func (l *Loop) tickSnapshot(ctx context.Context) {
	for _, rm := range l.reg.All() {
		l.persistPending(ctx, rm)
		if err := l.maybeSnapshot(ctx, rm); err != nil {
			l.log.Error("snapshot failed", "board_id", rm.BoardID, "error", err)
		}
	}
}

func (l *Loop) persistPending(ctx context.Context, rm *room.Room) {
	pending := rm.DrainPending()
	if len(pending) == 0 {
		return
	}
	merged := mergeUpdates(pending)
	if err := l.store.InsertUpdateLog(ctx, rm.BoardID, nil, merged); err != nil {
		l.log.Error("persist pending updates failed", "board_id", rm.BoardID, "error", err)
		return
	}
	rm.MarkSaved()
}

// mergeUpdates combines a batch of updates into one encoded update. An
// update is an op count followed by that many ops, each carrying its
// own path/key/dot, so the merged update is the summed count followed
// by every payload's ops in arrival order — the ops themselves aren't
// decoded. A payload whose op count can't be read is left out.
func mergeUpdates(updates [][]byte) []byte {
	var count uint64
	bodies := make([][]byte, 0, len(updates))
	for _, u := range updates {
		n, k := binary.Uvarint(u)
		if k <= 0 {
			continue
		}
		count += n
		bodies = append(bodies, u[k:])
	}
	var prefix [binary.MaxVarintLen64]byte
	out := append([]byte{}, prefix[:binary.PutUvarint(prefix[:], count)]...)
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out
}

func (l *Loop) maybeSnapshot(ctx context.Context, rm *room.Room) error {
	lastSnapshotSeq, err := l.store.LastSnapshotSeq(ctx, rm.BoardID)
	if err != nil {
		return err
	}
	latestSeq, err := l.store.LatestUpdateSeq(ctx, rm.BoardID)
	if err != nil {
		return err
	}
	if latestSeq == 0 || latestSeq <= lastSnapshotSeq {
		return nil
	}
	if latestSeq-lastSnapshotSeq < snapshotMinUpdates {
		return nil
	}

	state := rm.Doc.EncodeStateAsUpdate(crdtdoc.StateVector{})
	inserted, deleted, err := l.store.CreateSnapshotAndCleanup(ctx, rm.BoardID, latestSeq, state)
	if err != nil {
		return err
	}
	l.log.Info("snapshot created", "board_id", rm.BoardID, "seq", latestSeq, "inserted", inserted, "deleted", deleted)
	return nil
}

func (l *Loop) tickCleanup() {
	for _, rm := range l.reg.All() {
		if rm.SubscriberCount() > 0 {
			continue
		}
		if rm.IdleSince() >= l.idleEvictAfter {
			l.reg.Evict(rm.BoardID)
			l.log.Info("evicted idle room", "board_id", rm.BoardID)
		}
	}
}
