package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpdateLogAppendAndReplay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boardID := uuid.New()
	actor := uuid.New()

	for i := 0; i < 3; i++ {
		if err := s.InsertUpdateLog(ctx, boardID, &actor, []byte{byte(i)}); err != nil {
			t.Fatalf("insert update %d: %v", i, err)
		}
	}

	entries, err := s.UpdatesAfterSeq(ctx, boardID, 0)
	if err != nil {
		t.Fatalf("updates after seq: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.UpdateBin[0] != byte(i) {
			t.Fatalf("entry %d out of order: got %v", i, e.UpdateBin)
		}
	}

	mid := entries[1].Seq
	tail, err := s.UpdatesAfterSeq(ctx, boardID, mid)
	if err != nil {
		t.Fatalf("updates after mid: %v", err)
	}
	if len(tail) != 1 {
		t.Fatalf("want 1 trailing entry, got %d", len(tail))
	}
}

func TestSnapshotAndCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boardID := uuid.New()
	actor := uuid.New()

	var lastSeq int64
	for i := 0; i < 5; i++ {
		if err := s.InsertUpdateLog(ctx, boardID, &actor, []byte{byte(i)}); err != nil {
			t.Fatalf("insert update %d: %v", i, err)
		}
	}
	latest, err := s.LatestUpdateSeq(ctx, boardID)
	if err != nil {
		t.Fatalf("latest update seq: %v", err)
	}
	lastSeq = latest

	if _, _, err := s.CreateSnapshotAndCleanup(ctx, boardID, lastSeq, []byte("snapshot-state")); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	remaining, err := s.UpdatesAfterSeq(ctx, boardID, 0)
	if err != nil {
		t.Fatalf("updates after cleanup: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("want update log fully compacted, got %d rows", len(remaining))
	}

	seq, state, ok, err := s.LatestSnapshot(ctx, boardID)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if !ok || seq != lastSeq || string(state) != "snapshot-state" {
		t.Fatalf("unexpected snapshot: seq=%d ok=%v state=%q", seq, ok, state)
	}
}

func TestUpsertProjectedElementCreatesThenUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boardID := uuid.New()
	elemID := uuid.New()
	creator := uuid.New()
	now := time.Now()

	pe := ProjectedElement{
		ID: elemID, BoardID: boardID, CreatedBy: &creator,
		ElementType: "rectangle",
		Width:       10, Height: 10, Version: 1,
		Style: "{}", Properties: "{}", Metadata: "{}",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.UpsertProjectedElement(ctx, pe); err != nil {
		t.Fatalf("insert projected element: %v", err)
	}

	pe.Width = 42
	pe.Version = 2
	pe.UpdatedAt = now.Add(time.Second)
	if err := s.UpsertProjectedElement(ctx, pe); err != nil {
		t.Fatalf("update projected element: %v", err)
	}

	defaults, err := s.ListProjectionDefaults(ctx, boardID)
	if err != nil {
		t.Fatalf("list projection defaults: %v", err)
	}
	got, ok := defaults[elemID]
	if !ok {
		t.Fatalf("expected element %s in defaults", elemID)
	}
	if got.Version != 2 {
		t.Fatalf("want version 2, got %d", got.Version)
	}
	if got.CreatedBy == nil || *got.CreatedBy != creator {
		t.Fatalf("created_by not preserved across update")
	}
}

func TestSoftDeleteProjectedElementRequiresMatchingVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boardID := uuid.New()
	elemID := uuid.New()
	now := time.Now()

	pe := ProjectedElement{
		ID: elemID, BoardID: boardID, ElementType: "note",
		Version: 1, Style: "{}", Properties: "{}", Metadata: "{}",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.UpsertProjectedElement(ctx, pe); err != nil {
		t.Fatalf("insert projected element: %v", err)
	}

	ok, err := s.SoftDeleteProjectedElement(ctx, elemID, 2, now)
	if err != nil {
		t.Fatalf("soft delete with stale version: %v", err)
	}
	if ok {
		t.Fatalf("expected stale-version delete to be rejected")
	}

	ok, err = s.SoftDeleteProjectedElement(ctx, elemID, 1, now)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !ok {
		t.Fatalf("expected delete to apply at matching version")
	}
}
