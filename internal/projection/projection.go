// Package projection periodically flattens each live board's CRDT
// document into the relational element table. The REST element routes
// in internal/server do not read that table; they materialize the live
// document.
package projection

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/elements"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

const tickInterval = 2 * time.Second

const minDimension = 1.0

// Loop owns the periodic materialize-then-upsert sweep over every live
// room.
type Loop struct {
	reg   *registry.Registry
	store *store.Store
	log   *slog.Logger
}

func NewLoop(reg *registry.Registry, st *store.Store, log *slog.Logger) *Loop {
	return &Loop{reg: reg, store: st, log: log}
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rm := range l.reg.All() {
				if err := l.projectRoom(ctx, rm); err != nil {
					l.log.Error("project room failed", "board_id", rm.BoardID, "error", err)
				}
			}
		}
	}
}

func (l *Loop) projectRoom(ctx context.Context, rm *room.Room) error {
	materialized := elements.MaterializeElements(rm.Doc)
	if len(materialized) == 0 {
		return nil
	}

	defaults, err := l.store.ListProjectionDefaults(ctx, rm.BoardID)
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([]store.ProjectedElement, 0, len(materialized))
	for _, m := range materialized {
		row, ok := toProjectedRow(rm.BoardID, m, defaults[m.ID], now)
		if !ok {
			l.log.Warn("skipping element with no resolvable creator", "board_id", rm.BoardID, "element_id", m.ID)
			continue
		}
		rows = append(rows, row)
	}
	return l.store.UpsertProjectedElementsTx(ctx, rows)
}

func toProjectedRow(boardID uuid.UUID, m elements.Materialized, def store.ProjectionDefaults, fallbackNow time.Time) (store.ProjectedElement, bool) {
	rotation := normalizeRotation(m.Rotation)
	width, height := normalizeDimensions(m.Width, m.Height)

	createdBy := m.CreatedBy
	if createdBy == nil {
		createdBy = def.CreatedBy
	}

	createdAt := fallbackNow
	if m.CreatedAt != nil {
		createdAt = *m.CreatedAt
	} else if !def.CreatedAt.IsZero() {
		createdAt = def.CreatedAt
	}

	updatedAt := fallbackNow
	if m.UpdatedAt != nil {
		updatedAt = *m.UpdatedAt
	} else if !def.UpdatedAt.IsZero() {
		updatedAt = def.UpdatedAt
	}

	version := int64(1)
	switch {
	case m.Version != nil:
		version = int64(*m.Version)
	case def.Version != 0:
		version = def.Version
	}

	style := marshalOrEmptyObject(m.Style)
	properties := marshalOrEmptyObject(m.Properties)
	metadata := marshalOrEmptyObject(m.Metadata)

	return store.ProjectedElement{
		ID:          m.ID,
		BoardID:     boardID,
		LayerID:     m.LayerID,
		ParentID:    m.ParentID,
		CreatedBy:   createdBy,
		ElementType: string(m.ElementType),
		PositionX:   m.PositionX,
		PositionY:   m.PositionY,
		Width:       width,
		Height:      height,
		Rotation:    rotation,
		ZIndex:      int64(m.ZIndex),
		Style:       style,
		Properties:  properties,
		Metadata:    metadata,
		Version:     version,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   m.DeletedAt,
	}, true
}

func marshalOrEmptyObject(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// normalizeDimensions forces non-finite or non-positive widths/heights
// to minDimension rather than letting a malformed element round-trip
// into the relational projection with an unusable size.
func normalizeDimensions(width, height float64) (float64, float64) {
	w := width
	if !isFinitePositive(w) {
		w = minDimension
	}
	h := height
	if !isFinitePositive(h) {
		h = minDimension
	}
	return w, h
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// normalizeRotation folds rotation into [0, 360). A double boundary
// check matters here: the result can land exactly on 360 for values
// like -1e-14 after the += 360 correction, so it's re-checked rather
// than assumed resolved by the single Mod call.
func normalizeRotation(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	normalized := math.Mod(value, 360.0)
	if normalized < 0 {
		normalized += 360.0
	}
	if normalized >= 360.0 {
		return 0
	}
	return normalized
}
