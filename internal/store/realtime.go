package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertUpdateLog appends a single CRDT update to the board's durable
// log. actorID is nil for merged/compacted entries that don't
// correspond to one client's write.
func (s *Store) InsertUpdateLog(ctx context.Context, boardID uuid.UUID, actorID *uuid.UUID, updateBin []byte) error {
	var actor any
	if actorID != nil {
		actor = actorID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO board_update (board_id, actor_id, update_bin) VALUES (?, ?, ?)`,
		boardID.String(), actor, updateBin,
	)
	if err != nil {
		return fmt.Errorf("insert update log: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for boardID, if any.
func (s *Store) LatestSnapshot(ctx context.Context, boardID uuid.UUID) (seq int64, stateBin []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_seq, state_bin FROM board_snapshot WHERE board_id = ? ORDER BY snapshot_seq DESC LIMIT 1`,
		boardID.String(),
	)
	if scanErr := row.Scan(&seq, &stateBin); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("latest snapshot: %w", scanErr)
	}
	return seq, stateBin, true, nil
}

// UpdateEntry is one row of the update log.
type UpdateEntry struct {
	Seq       int64
	UpdateBin []byte
}

// UpdatesAfterSeq returns every update for boardID with seq > startSeq,
// in ascending order — the replay order the Load Protocol requires.
func (s *Store) UpdatesAfterSeq(ctx context.Context, boardID uuid.UUID, startSeq int64) ([]UpdateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, update_bin FROM board_update WHERE board_id = ? AND seq > ? ORDER BY seq ASC`,
		boardID.String(), startSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("updates after seq: %w", err)
	}
	defer rows.Close()

	var out []UpdateEntry
	for rows.Next() {
		var e UpdateEntry
		if err := rows.Scan(&e.Seq, &e.UpdateBin); err != nil {
			return nil, fmt.Errorf("scan update row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LastSnapshotSeq(ctx context.Context, boardID uuid.UUID) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(snapshot_seq), 0) FROM board_snapshot WHERE board_id = ?`,
		boardID.String(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last snapshot seq: %w", err)
	}
	return seq, nil
}

func (s *Store) LatestUpdateSeq(ctx context.Context, boardID uuid.UUID) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM board_update WHERE board_id = ?`,
		boardID.String(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest update seq: %w", err)
	}
	return seq, nil
}

// CreateSnapshotAndCleanup inserts a snapshot at snapshotSeq and
// deletes every update log entry at or below it, atomically. Returns
// the number of rows each side affected.
func (s *Store) CreateSnapshotAndCleanup(ctx context.Context, boardID uuid.UUID, snapshotSeq int64, stateBin []byte) (inserted, deleted int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	insertRes, err := tx.ExecContext(ctx,
		`INSERT INTO board_snapshot (board_id, snapshot_seq, state_bin) VALUES (?, ?, ?)
		 ON CONFLICT (board_id, snapshot_seq) DO NOTHING`,
		boardID.String(), snapshotSeq, stateBin,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("insert snapshot: %w", err)
	}
	deleteRes, err := tx.ExecContext(ctx,
		`DELETE FROM board_update WHERE board_id = ? AND seq <= ?`,
		boardID.String(), snapshotSeq,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup updates: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit snapshot tx: %w", err)
	}
	inserted, _ = insertRes.RowsAffected()
	deleted, _ = deleteRes.RowsAffected()
	return inserted, deleted, nil
}

// InsertSnapshot records a snapshot without touching the update log.
// It runs as a single statement outside any transaction and fails if a
// snapshot already exists at snapshotSeq.
func (s *Store) InsertSnapshot(ctx context.Context, boardID uuid.UUID, snapshotSeq int64, stateBin []byte, createdBy *uuid.UUID) error {
	var creator any
	if createdBy != nil {
		creator = createdBy.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO board_snapshot (board_id, snapshot_seq, state_bin, created_by) VALUES (?, ?, ?, ?)`,
		boardID.String(), snapshotSeq, stateBin, creator,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
