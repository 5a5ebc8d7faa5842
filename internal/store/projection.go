package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectedElement mirrors one row of the relational element
// projection — the queryable view the CRDT materializer is flattened
// into. projected_by_engine marks rows
// the engine itself wrote, distinguishing them from rows a direct
// REST write might have touched before the projector next runs.
type ProjectedElement struct {
	ID          uuid.UUID
	BoardID     uuid.UUID
	LayerID     *uuid.UUID
	ParentID    *uuid.UUID
	CreatedBy   *uuid.UUID
	ElementType string
	PositionX   float64
	PositionY   float64
	Width       float64
	Height      float64
	Rotation    float64
	ZIndex      int64
	Style       string
	Properties  string
	Metadata    string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func uuidStr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// UpsertProjectedElement writes the materialized view of one element
// into the relational projection, creating it if absent, and always
// sets projected_by_engine = 1. The periodic projector writes through
// UpsertProjectedElementsTx, which runs the same statement.
func (s *Store) UpsertProjectedElement(ctx context.Context, e ProjectedElement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO element (
			id, board_id, layer_id, parent_id, created_by, element_type,
			position_x, position_y, width, height, rotation, z_index,
			style, properties, metadata, version,
			created_at, updated_at, deleted_at, projected_by_engine
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, 1
		)
		ON CONFLICT (id) DO UPDATE SET
			board_id = excluded.board_id,
			layer_id = excluded.layer_id,
			parent_id = excluded.parent_id,
			element_type = excluded.element_type,
			position_x = excluded.position_x,
			position_y = excluded.position_y,
			width = excluded.width,
			height = excluded.height,
			rotation = excluded.rotation,
			z_index = excluded.z_index,
			style = excluded.style,
			properties = excluded.properties,
			metadata = excluded.metadata,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			projected_by_engine = 1
	`,
		e.ID.String(), e.BoardID.String(), uuidStr(e.LayerID), uuidStr(e.ParentID), uuidStr(e.CreatedBy), e.ElementType,
		e.PositionX, e.PositionY, e.Width, e.Height, e.Rotation, e.ZIndex,
		e.Style, e.Properties, e.Metadata, e.Version,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(), timePtr(e.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert projected element %s: %w", e.ID, err)
	}
	return nil
}

// UpsertProjectedElementsTx runs the UpsertProjectedElement statement
// for every element of a batch inside one transaction, so a partial projector tick never leaves the
// table half-updated for a given pass.
func (s *Store) UpsertProjectedElementsTx(ctx context.Context, elems []ProjectedElement) error {
	if len(elems) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range elems {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO element (
				id, board_id, layer_id, parent_id, created_by, element_type,
				position_x, position_y, width, height, rotation, z_index,
				style, properties, metadata, version,
				created_at, updated_at, deleted_at, projected_by_engine
			) VALUES (
				?, ?, ?, ?, ?, ?,
				?, ?, ?, ?, ?, ?,
				?, ?, ?, ?,
				?, ?, ?, 1
			)
			ON CONFLICT (id) DO UPDATE SET
				board_id = excluded.board_id,
				layer_id = excluded.layer_id,
				parent_id = excluded.parent_id,
				element_type = excluded.element_type,
				position_x = excluded.position_x,
				position_y = excluded.position_y,
				width = excluded.width,
				height = excluded.height,
				rotation = excluded.rotation,
				z_index = excluded.z_index,
				style = excluded.style,
				properties = excluded.properties,
				metadata = excluded.metadata,
				version = excluded.version,
				updated_at = excluded.updated_at,
				deleted_at = excluded.deleted_at,
				projected_by_engine = 1
		`,
			e.ID.String(), e.BoardID.String(), uuidStr(e.LayerID), uuidStr(e.ParentID), uuidStr(e.CreatedBy), e.ElementType,
			e.PositionX, e.PositionY, e.Width, e.Height, e.Rotation, e.ZIndex,
			e.Style, e.Properties, e.Metadata, e.Version,
			e.CreatedAt.UTC(), e.UpdatedAt.UTC(), timePtr(e.DeletedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert projected element %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// ProjectionDefaults carries the fields a fresh element needs that the
// CRDT update alone doesn't supply on creation — id, creator and
// timestamps assigned once and never drifted by later partial writes.
type ProjectionDefaults struct {
	ID        uuid.UUID
	CreatedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// ListProjectionDefaults returns the current defaults for every
// element already projected for boardID, keyed by element id — the
// projector consults this before an upsert so it never regresses
// created_at/created_by for an element it didn't originate.
func (s *Store) ListProjectionDefaults(ctx context.Context, boardID uuid.UUID) (map[uuid.UUID]ProjectionDefaults, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_by, created_at, updated_at, version FROM element WHERE board_id = ?`,
		boardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list projection defaults: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]ProjectionDefaults)
	for rows.Next() {
		var (
			idStr        string
			createdByStr sql.NullString
			createdAt    time.Time
			updatedAt    time.Time
			version      int64
		)
		if err := rows.Scan(&idStr, &createdByStr, &createdAt, &updatedAt, &version); err != nil {
			return nil, fmt.Errorf("scan projection default: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		def := ProjectionDefaults{ID: id, CreatedAt: createdAt, UpdatedAt: updatedAt, Version: version}
		if createdByStr.Valid {
			if cb, err := uuid.Parse(createdByStr.String); err == nil {
				def.CreatedBy = &cb
			}
		}
		out[id] = def
	}
	return out, rows.Err()
}

// SoftDeleteProjectedElement marks a projected row deleted using an
// optimistic-concurrency guard: it only applies if the row is still at
// expectedVersion and not already deleted.
func (s *Store) SoftDeleteProjectedElement(ctx context.Context, id uuid.UUID, expectedVersion int64, deletedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE element SET deleted_at = ?, version = version + 1, projected_by_engine = 1
		 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		deletedAt.UTC(), id.String(), expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("soft delete projected element %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
