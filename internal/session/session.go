// Package session drives one already-admitted board WebSocket
// connection: presence, initial sync, and the read/broadcast-forward
// goroutines that keep a client's view of a room's CRDT document
// converged with everyone else's.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/boardauth"
	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
	"github.com/plantrungnampl/realtime-board-sub000/internal/protocol"
	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
)

const writeTimeout = 10 * time.Second

// Session represents one admitted connection to a board's room.
type Session struct {
	Conn    *websocket.Conn
	Room    *room.Room
	UserID  uuid.UUID
	Role    boardauth.Role
	log     *slog.Logger
}

func New(conn *websocket.Conn, rm *room.Room, userID uuid.UUID, role boardauth.Role, log *slog.Logger) *Session {
	return &Session{Conn: conn, Room: rm, UserID: userID, Role: role, log: log}
}

// Run performs the initial sync handshake and then drives the
// connection until either side closes it or ctx is cancelled. It
// blocks until the session ends.
func (s *Session) Run(ctx context.Context) {
	s.Room.Join(s.UserID)
	defer s.Room.Leave(s.UserID)

	if err := s.initialSync(ctx); err != nil {
		s.log.Debug("initial sync failed", "board_id", s.Room.BoardID, "user_id", s.UserID, "error", err)
		return
	}

	sub, cancelSub := s.Room.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		s.broadcastForward(ctx, sub)
	}()

	// Reader runs on this goroutine; when it returns (peer closed, or
	// ctx was cancelled by the writer dying first) the writer is
	// signalled to stop by cancelling ctx.
	s.readLoop(ctx)
	cancel()
	<-writerDone
}

// initialSync sends SYNC_STEP_1 (our state vector), so the client can
// reply with only the updates we're missing, followed immediately by
// SYNC_STEP_2 (the full document state), so the client has something
// to render before it has sent us anything at all. Because CRDT
// application is commutative and idempotent, the client reapplying
// updates it already has via its own SYNC_STEP_2 reply is harmless.
func (s *Session) initialSync(ctx context.Context) error {
	sv := s.Room.Doc.StateVector()
	if err := s.write(ctx, protocol.Encode(protocol.OpSyncStep1, crdtdoc.EncodeStateVector(sv))); err != nil {
		return err
	}
	full := s.Room.Doc.EncodeStateAsUpdate(crdtdoc.StateVector{})
	return s.write(ctx, protocol.Encode(protocol.OpSyncStep2, full))
}

// broadcastForward relays frames published to the room onto this
// connection's WebSocket until sub closes or ctx is cancelled.
func (s *Session) broadcastForward(ctx context.Context, sub <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub:
			if !ok {
				return
			}
			if err := s.write(ctx, frame); err != nil {
				return
			}
		}
	}
}

// readLoop consumes frames from the client, applying edits to the
// room's document and rebroadcasting, until the connection errors or
// ctx is cancelled.
func (s *Session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.Conn.Read(ctx)
		if err != nil {
			return
		}
		if err := s.handleFrame(ctx, data); err != nil {
			s.log.Debug("dropping malformed frame", "board_id", s.Room.BoardID, "user_id", s.UserID, "error", err)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, raw []byte) error {
	op, payload, err := protocol.Decode(raw)
	if err != nil {
		return err
	}

	switch op {
	case protocol.OpSyncStep1:
		// Client sent its state vector: reply with exactly the updates
		// it's missing, addressed to this connection only.
		remoteSV, err := crdtdoc.DecodeStateVector(payload)
		if err != nil {
			return err
		}
		diff := s.Room.Doc.EncodeStateAsUpdate(remoteSV)
		if len(diff) == 0 {
			return nil
		}
		return s.write(ctx, protocol.Encode(protocol.OpSyncStep2, diff))

	case protocol.OpUpdate:
		if !s.Role.CanEdit() {
			// Dropped and logged at info: a non-editor's client shouldn't
			// be sending updates at all, but a stale client or a race
			// during a role downgrade can still produce one.
			s.log.Info("dropping update from non-editor", "board_id", s.Room.BoardID, "user_id", s.UserID, "role", s.Role)
			return nil
		}
		if err := s.Room.Doc.ApplyUpdate(payload); err != nil {
			return err
		}
		s.Room.QueueUpdate(payload)
		s.Room.Touch()
		s.Room.Broadcast(protocol.Encode(protocol.OpUpdate, payload))
		return nil

	case protocol.OpAwareness:
		// Awareness (cursors, selections) is ephemeral: rebroadcast
		// verbatim, never persisted, regardless of edit permission.
		s.Room.Broadcast(protocol.Encode(protocol.OpAwareness, payload))
		return nil

	default:
		return nil
	}
}

func (s *Session) write(ctx context.Context, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.Conn.Write(writeCtx, websocket.MessageBinary, frame)
}
