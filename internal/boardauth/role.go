package boardauth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleEditor    Role = "editor"
	RoleCommenter Role = "commenter"
	RoleViewer    Role = "viewer"
)

// CanEdit reports whether role may mutate board content. This is the
// single admission check the session handler and REST element routes
// both gate on.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleEditor
}

// RoleLookup resolves a user's role on a board, backed by the
// externally-managed board_member table. A missing row means the user
// has no access to the board at all.
type RoleLookup struct {
	db *sql.DB
}

func NewRoleLookup(db *sql.DB) *RoleLookup {
	return &RoleLookup{db: db}
}

func (rl *RoleLookup) Get(ctx context.Context, boardID, userID uuid.UUID) (Role, bool, error) {
	var role string
	err := rl.db.QueryRowContext(ctx,
		`SELECT role FROM board_member WHERE board_id = ? AND user_id = ?`,
		boardID.String(), userID.String(),
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup board role: %w", err)
	}
	return Role(role), true, nil
}
