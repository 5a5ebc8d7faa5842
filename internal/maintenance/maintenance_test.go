package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPersistPendingWritesMergedUpdate(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	boardID := uuid.New()
	reg := registry.New(st, testLogger())
	rm, err := reg.GetOrLoad(ctx, boardID)
	if err != nil {
		t.Fatalf("get or load: %v", err)
	}

	u1 := rm.Doc.Transact(func(tx *crdtdoc.Txn) {
		tx.Map("elements").SubMap("e1").Set("type", crdtdoc.String("rectangle"))
	})
	u2 := rm.Doc.Transact(func(tx *crdtdoc.Txn) {
		tx.Map("elements").SubMap("e2").Set("type", crdtdoc.String("ellipse"))
	})
	rm.QueueUpdate(u1)
	rm.QueueUpdate(u2)

	loop := NewLoop(reg, st, testLogger())
	loop.persistPending(ctx, rm)

	entries, err := st.UpdatesAfterSeq(ctx, boardID, 0)
	if err != nil {
		t.Fatalf("updates after seq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 merged log entry, got %d", len(entries))
	}

	replay := crdtdoc.New("verify")
	if err := replay.ApplyUpdate(entries[0].UpdateBin); err != nil {
		t.Fatalf("apply merged update: %v", err)
	}
	for replica, counter := range rm.Doc.StateVector() {
		if replay.StateVector()[replica] != counter {
			t.Fatalf("replayed state vector mismatch for %s", replica)
		}
	}
}

func TestMaybeSnapshotSkipsBelowThreshold(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	boardID := uuid.New()
	if err := st.InsertUpdateLog(ctx, boardID, nil, []byte{1}); err != nil {
		t.Fatalf("insert update: %v", err)
	}

	reg := registry.New(st, testLogger())
	rm, err := reg.GetOrLoad(ctx, boardID)
	if err != nil {
		t.Fatalf("get or load: %v", err)
	}

	loop := NewLoop(reg, st, testLogger())
	if err := loop.maybeSnapshot(ctx, rm); err != nil {
		t.Fatalf("maybe snapshot: %v", err)
	}

	if _, _, ok, err := st.LatestSnapshot(ctx, boardID); err != nil || ok {
		t.Fatalf("expected no snapshot below threshold, ok=%v err=%v", ok, err)
	}
}

func TestTickCleanupEvictsOnlyIdleEmptyRooms(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	reg := registry.New(st, testLogger())

	idleBoard := uuid.New()
	activeBoard := uuid.New()

	idleRoom, err := reg.GetOrLoad(ctx, idleBoard)
	if err != nil {
		t.Fatalf("get or load idle: %v", err)
	}
	activeRoom, err := reg.GetOrLoad(ctx, activeBoard)
	if err != nil {
		t.Fatalf("get or load active: %v", err)
	}
	_, cancel := activeRoom.Subscribe()
	defer cancel()

	idleRoom.Touch()

	loop := NewLoop(reg, st, testLogger())
	loop.idleEvictAfter = 0 // any empty room counts as idle for this test

	loop.tickCleanup()

	if _, ok := reg.Peek(idleBoard); ok {
		t.Fatal("expected idle empty room to be evicted")
	}
	if _, ok := reg.Peek(activeBoard); !ok {
		t.Fatal("expected room with a subscriber to survive cleanup")
	}
}
