package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/apperror"
	"github.com/plantrungnampl/realtime-board-sub000/internal/elements"
	"github.com/plantrungnampl/realtime-board-sub000/internal/protocol"
	"github.com/plantrungnampl/realtime-board-sub000/internal/room"
)

type createElementRequest struct {
	LayerID     *uuid.UUID          `json:"layer_id"`
	ParentID    *uuid.UUID          `json:"parent_id"`
	ElementType elements.ElementType `json:"element_type"`
	PositionX   float64             `json:"position_x"`
	PositionY   float64             `json:"position_y"`
	Width       float64             `json:"width"`
	Height      float64             `json:"height"`
	Rotation    float64             `json:"rotation"`
	Style       map[string]any      `json:"style"`
	Properties  map[string]any      `json:"properties"`
	Metadata    map[string]any      `json:"metadata"`
}

type updateElementRequest struct {
	ExpectedVersion int            `json:"expected_version"`
	PositionX       *float64       `json:"position_x"`
	PositionY       *float64       `json:"position_y"`
	Width           *float64       `json:"width"`
	Height          *float64       `json:"height"`
	Rotation        *float64       `json:"rotation"`
	Style           map[string]any `json:"style"`
	Properties      map[string]any `json:"properties"`
	Metadata        map[string]any `json:"metadata"`
}

// deleteElementResponse mirrors the original's response shape: the
// caller learns whether its delete was the one that actually
// tombstoned the element, or whether it was already gone.
type deleteElementResponse struct {
	ID             uuid.UUID  `json:"id"`
	Version        *int       `json:"version"`
	DeletedAt      *time.Time `json:"deleted_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	AlreadyDeleted *bool      `json:"already_deleted,omitempty"`
}

type restoreElementResponse struct {
	ID        uuid.UUID  `json:"id"`
	Version   *int       `json:"version"`
	DeletedAt *time.Time `json:"deleted_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// validateExpectedVersion only checks that the client supplied a
// positive version number. The original this engine is grounded on
// accepts expected_version as a required field but never compares it
// against the element's current version before applying a write; this
// implementation reproduces that behavior rather than the stronger
// optimistic-concurrency check the abstract contract describes (see
// DESIGN.md).
func validateExpectedVersion(v int) bool {
	return v >= 1
}

// expectedVersionOK reads the expected_version query parameter
// required on delete and restore requests.
func expectedVersionOK(r *http.Request) bool {
	v, err := strconv.Atoi(r.URL.Query().Get("expected_version"))
	if err != nil {
		return false
	}
	return validateExpectedVersion(v)
}

// authorizeEdit loads the caller's role for boardID and rejects the
// request unless the role may mutate content. Shared by every REST
// element write so a viewer token can't bypass the WebSocket's
// CanEdit gate by hitting the HTTP API instead.
func (s *Server) authorizeEdit(w http.ResponseWriter, r *http.Request, boardID, userID uuid.UUID) bool {
	role, ok, err := s.roles.Get(r.Context(), boardID, userID)
	if err != nil {
		http.Error(w, "role lookup failed", http.StatusInternalServerError)
		return false
	}
	if !ok || !role.CanEdit() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) identityAndBoard(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	identity, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), apperror.StatusCode(err))
		return uuid.UUID{}, uuid.UUID{}, false
	}
	userID, err := uuid.Parse(identity.UserID)
	if err != nil {
		http.Error(w, "invalid subject", http.StatusForbidden)
		return uuid.UUID{}, uuid.UUID{}, false
	}
	boardID, err := s.boardID(r)
	if err != nil {
		http.Error(w, err.Error(), apperror.StatusCode(err))
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return userID, boardID, true
}

func (s *Server) handleCreateElement(w http.ResponseWriter, r *http.Request) {
	userID, boardID, ok := s.identityAndBoard(w, r)
	if !ok {
		return
	}
	if !s.authorizeEdit(w, r, boardID, userID) {
		return
	}
	if !s.connLimit.Allow(userID.String()) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req createElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	now := time.Now()
	snap := elements.Snapshot{
		ID: uuid.New(), BoardID: boardID, LayerID: req.LayerID, ParentID: req.ParentID,
		CreatedBy: userID, ElementType: req.ElementType,
		PositionX: req.PositionX, PositionY: req.PositionY,
		Width: req.Width, Height: req.Height, Rotation: req.Rotation,
		ZIndex:     elements.NextZIndex(rm.Doc, req.LayerID),
		Style:      req.Style, Properties: req.Properties, Metadata: req.Metadata,
		CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	applied := elements.ApplySnapshot(rm.Doc, snap)
	s.publish(r.Context(), rm, &userID, applied.Update)

	writeJSON(w, http.StatusCreated, applied.Element)
}

func (s *Server) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	userID, boardID, ok := s.identityAndBoard(w, r)
	if !ok {
		return
	}
	if !s.authorizeEdit(w, r, boardID, userID) {
		return
	}
	elementID, err := uuid.Parse(r.PathValue("element_id"))
	if err != nil {
		http.Error(w, "invalid element id", http.StatusBadRequest)
		return
	}

	var req updateElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !validateExpectedVersion(req.ExpectedVersion) {
		http.Error(w, "expected_version must be positive", http.StatusBadRequest)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	applied := elements.ApplyUpdate(rm.Doc, elementID, elements.Patch{
		PositionX: req.PositionX, PositionY: req.PositionY,
		Width: req.Width, Height: req.Height, Rotation: req.Rotation,
		Style: req.Style, Properties: req.Properties, Metadata: req.Metadata,
	}, time.Now())
	if applied == nil {
		http.Error(w, "element not found", http.StatusNotFound)
		return
	}
	s.publish(r.Context(), rm, &userID, applied.Update)
	writeJSON(w, http.StatusOK, applied.Element)
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	userID, boardID, ok := s.identityAndBoard(w, r)
	if !ok {
		return
	}
	if !s.authorizeEdit(w, r, boardID, userID) {
		return
	}
	elementID, err := uuid.Parse(r.PathValue("element_id"))
	if err != nil {
		http.Error(w, "invalid element id", http.StatusBadRequest)
		return
	}
	if !expectedVersionOK(r) {
		http.Error(w, "expected_version must be positive", http.StatusBadRequest)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	existing, found := elements.MaterializeElement(rm.Doc, elementID)
	if !found {
		http.Error(w, "element not found", http.StatusNotFound)
		return
	}
	wasDeleted := existing.DeletedAt != nil

	now := time.Now()
	applied := elements.ApplyDeleted(rm.Doc, elementID, &now, now)
	if applied == nil {
		http.Error(w, "element not found", http.StatusNotFound)
		return
	}
	s.publish(r.Context(), rm, &userID, applied.Update)

	resp := deleteElementResponse{
		ID:        applied.Element.ID,
		Version:   applied.Element.Version,
		DeletedAt: applied.Element.DeletedAt,
		UpdatedAt: applied.Element.UpdatedAt,
	}
	if wasDeleted {
		already := true
		resp.AlreadyDeleted = &already
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestoreElement(w http.ResponseWriter, r *http.Request) {
	userID, boardID, ok := s.identityAndBoard(w, r)
	if !ok {
		return
	}
	if !s.authorizeEdit(w, r, boardID, userID) {
		return
	}
	elementID, err := uuid.Parse(r.PathValue("element_id"))
	if err != nil {
		http.Error(w, "invalid element id", http.StatusBadRequest)
		return
	}
	if !expectedVersionOK(r) {
		http.Error(w, "expected_version must be positive", http.StatusBadRequest)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	existing, found := elements.MaterializeElement(rm.Doc, elementID)
	if !found {
		http.Error(w, "element not found", http.StatusNotFound)
		return
	}
	// A restore of an element that isn't currently deleted is a no-op:
	// it doesn't bump the version or touch updated_at.
	if existing.DeletedAt == nil {
		writeJSON(w, http.StatusOK, restoreElementResponse{
			ID:        existing.ID,
			Version:   existing.Version,
			DeletedAt: existing.DeletedAt,
			UpdatedAt: existing.UpdatedAt,
		})
		return
	}

	applied := elements.ApplyDeleted(rm.Doc, elementID, nil, time.Now())
	if applied == nil {
		http.Error(w, "element not found", http.StatusNotFound)
		return
	}
	s.publish(r.Context(), rm, &userID, applied.Update)
	writeJSON(w, http.StatusOK, restoreElementResponse{
		ID:        applied.Element.ID,
		Version:   applied.Element.Version,
		DeletedAt: applied.Element.DeletedAt,
		UpdatedAt: applied.Element.UpdatedAt,
	})
}

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	userID, boardID, ok := s.identityAndBoard(w, r)
	if !ok {
		return
	}
	if _, member, err := s.roles.Get(r.Context(), boardID, userID); err != nil {
		http.Error(w, "role lookup failed", http.StatusInternalServerError)
		return
	} else if !member {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	live := make([]elements.Materialized, 0)
	for _, m := range elements.MaterializeElements(rm.Doc) {
		if m.DeletedAt == nil {
			live = append(live, m)
		}
	}
	writeJSON(w, http.StatusOK, live)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// publish appends update to the durable log immediately, so a REST
// write survives a crash before the next snapshot tick, queues it for
// the next maintenance compaction, and fans it out to any connected
// sessions as an OpUpdate frame.
func (s *Server) publish(ctx context.Context, rm *room.Room, actorID *uuid.UUID, update []byte) {
	if len(update) == 0 {
		return
	}
	if err := s.store.InsertUpdateLog(ctx, rm.BoardID, actorID, update); err != nil {
		s.log.Error("insert update log failed", "board_id", rm.BoardID, "error", err)
	}
	rm.QueueUpdate(update)
	rm.Broadcast(protocol.Encode(protocol.OpUpdate, update))
}
