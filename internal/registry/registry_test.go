package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetOrLoadReplaysLoggedUpdates(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	boardID := uuid.New()
	ctx := context.Background()

	source := crdtdoc.New("origin")
	snap := source.Transact(func(tx *crdtdoc.Txn) {
		tx.Map("elements").SubMap("e1").Set("type", crdtdoc.String("rectangle"))
	})
	if err := st.InsertUpdateLog(ctx, boardID, nil, snap); err != nil {
		t.Fatalf("insert snapshot-as-update: %v", err)
	}
	update2 := source.Transact(func(tx *crdtdoc.Txn) {
		tx.Map("elements").SubMap("e2").Set("type", crdtdoc.String("ellipse"))
	})
	if err := st.InsertUpdateLog(ctx, boardID, nil, update2); err != nil {
		t.Fatalf("insert second update: %v", err)
	}

	reg := New(st, testLogger())
	rm, err := reg.GetOrLoad(ctx, boardID)
	if err != nil {
		t.Fatalf("get or load: %v", err)
	}

	if v := rm.Doc.StateVector()["origin"]; v == 0 {
		t.Fatalf("expected replayed state vector to reflect origin writes")
	}

	again, err := reg.GetOrLoad(ctx, boardID)
	if err != nil {
		t.Fatalf("second get or load: %v", err)
	}
	if again != rm {
		t.Fatal("expected second GetOrLoad to return the same room instance")
	}
}

func TestGetOrLoadConcurrentRaceReturnsSameRoom(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	boardID := uuid.New()
	reg := New(st, testLogger())

	var wg sync.WaitGroup
	roomsCh := make(chan *room.Room, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rm, err := reg.GetOrLoad(context.Background(), boardID)
			if err != nil {
				t.Errorf("get or load: %v", err)
				return
			}
			roomsCh <- rm
		}()
	}
	wg.Wait()
	close(roomsCh)

	var first *room.Room
	for rm := range roomsCh {
		if first == nil {
			first = rm
		} else if rm != first {
			t.Fatal("concurrent GetOrLoad calls returned different room instances")
		}
	}
}

func TestPeekDoesNotTriggerLoad(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	reg := New(st, testLogger())
	_, ok := reg.Peek(uuid.New())
	if ok {
		t.Fatal("expected Peek on unknown board to report false")
	}
}
