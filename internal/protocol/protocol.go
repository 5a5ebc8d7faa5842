// Package protocol implements the binary frame codec used on the
// board session WebSocket: one opcode byte followed by an
// opcode-specific payload.
package protocol

import "fmt"

type Opcode byte

const (
	OpSyncStep1 Opcode = 0
	OpSyncStep2 Opcode = 1
	OpUpdate    Opcode = 2
	OpAwareness Opcode = 3
	OpRoleUpdate Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpSyncStep1:
		return "sync_step_1"
	case OpSyncStep2:
		return "sync_step_2"
	case OpUpdate:
		return "update"
	case OpAwareness:
		return "awareness"
	case OpRoleUpdate:
		return "role_update"
	default:
		return fmt.Sprintf("opcode(%d)", byte(o))
	}
}

// Encode prepends opcode to payload without copying payload twice.
func Encode(op Opcode, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(op)
	copy(frame[1:], payload)
	return frame
}

// Decode splits a raw frame into its opcode and payload. An empty frame
// is an error: the caller's read loop should already have filtered out
// zero-length messages.
func Decode(frame []byte) (Opcode, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, fmt.Errorf("protocol: empty frame")
	}
	return Opcode(frame[0]), frame[1:], nil
}

// RoleUpdate is the JSON payload carried by an OpRoleUpdate frame. It is
// server-originated only and low frequency, so it skips the binary CRDT
// codec used by the other opcodes.
type RoleUpdate struct {
	UserID      string   `json:"user_id"`
	Role        *string  `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}
