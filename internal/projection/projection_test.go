package projection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/elements"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeRotationWrapsIntoRange(t *testing.T) {
	cases := map[float64]float64{
		0:     0,
		90:    90,
		360:   0,
		450:   90,
		-90:   270,
		-360:  0,
		720.5: 0.5,
	}
	for in, want := range cases {
		got := normalizeRotation(in)
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("normalizeRotation(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestNormalizeRotationHandlesNonFinite(t *testing.T) {
	if got := normalizeRotation(posInf()); got != 0 {
		t.Errorf("want 0 for +Inf, got %v", got)
	}
	if got := normalizeRotation(nan()); got != 0 {
		t.Errorf("want 0 for NaN, got %v", got)
	}
}

func posInf() float64 { return 1e308 * 10 }
func nan() float64    { z := 0.0; return z / z }

func TestNormalizeDimensionsFloorsNonPositive(t *testing.T) {
	w, h := normalizeDimensions(-5, 0)
	if w != minDimension || h != minDimension {
		t.Fatalf("want (%v,%v), got (%v,%v)", minDimension, minDimension, w, h)
	}
	w, h = normalizeDimensions(42, 17)
	if w != 42 || h != 17 {
		t.Fatalf("want positive dims preserved, got (%v,%v)", w, h)
	}
}

func TestProjectRoomUpsertsMaterializedElements(t *testing.T) {
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

	creator := uuid.New()
	elements.ApplySnapshot(rm.Doc, elements.Snapshot{
		ID: uuid.New(), BoardID: boardID, CreatedBy: creator,
		ElementType: elements.ElementShape, Width: 10, Height: 10,
		Rotation: 400, CreatedAt: time.Now(), UpdatedAt: time.Now(), Version: 1,
	})

	loop := NewLoop(reg, st, testLogger())
	if err := loop.projectRoom(ctx, rm); err != nil {
		t.Fatalf("project room: %v", err)
	}

	defaults, err := st.ListProjectionDefaults(ctx, boardID)
	if err != nil {
		t.Fatalf("list projection defaults: %v", err)
	}
	if len(defaults) != 1 {
		t.Fatalf("want 1 projected element, got %d", len(defaults))
	}
}

func TestProjectRoomSkipsEmptyRoom(t *testing.T) {
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

	loop := NewLoop(reg, st, testLogger())
	if err := loop.projectRoom(ctx, rm); err != nil {
		t.Fatalf("project empty room: %v", err)
	}
}
