// Package server wires the engine's components behind an HTTP mux:
// the board session WebSocket and the REST element routes share the
// same registry, document materializer, and role lookup.
package server

import (
	"crypto/ecdsa"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/apperror"
	"github.com/plantrungnampl/realtime-board-sub000/internal/boardauth"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/session"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

type Server struct {
	registry  *registry.Registry
	store     *store.Store
	roles     *boardauth.RoleLookup
	pubKey    *ecdsa.PublicKey
	connLimit *boardauth.ConnectionLimiter
	ipLimit   *boardauth.IPRateLimiter
	log       *slog.Logger

	mux *http.ServeMux
}

type Deps struct {
	Registry     *registry.Registry
	Store        *store.Store
	Roles        *boardauth.RoleLookup
	PublicKey    *ecdsa.PublicKey
	ConnLimiter  *boardauth.ConnectionLimiter
	IPLimiter    *boardauth.IPRateLimiter
	Log          *slog.Logger
}

func New(d Deps) *Server {
	s := &Server{
		registry:  d.Registry,
		store:     d.Store,
		roles:     d.Roles,
		pubKey:    d.PublicKey,
		connLimit: d.ConnLimiter,
		ipLimit:   d.IPLimiter,
		log:       d.Log,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.ipLimit.Middleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws/boards/{board_id}", s.handleBoardWS)
	s.mux.HandleFunc("POST /api/boards/{board_id}/elements", s.handleCreateElement)
	s.mux.HandleFunc("PUT /api/boards/{board_id}/elements/{element_id}", s.handleUpdateElement)
	s.mux.HandleFunc("DELETE /api/boards/{board_id}/elements/{element_id}", s.handleDeleteElement)
	s.mux.HandleFunc("POST /api/boards/{board_id}/elements/{element_id}/restore", s.handleRestoreElement)
	s.mux.HandleFunc("GET /api/boards/{board_id}/elements", s.handleListElements)
}

// authenticate extracts and verifies the bearer token, returning the
// caller's identity. The token query parameter is checked first, on
// every route, since browser WebSocket clients can't set Authorization
// headers on the upgrade request; the Authorization header is used
// when the query parameter is absent.
func (s *Server) authenticate(r *http.Request) (*boardauth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		return nil, apperror.Wrap("missing token", apperror.ErrForbidden)
	}
	id, err := boardauth.ValidateSessionJWT(s.pubKey, token)
	if err != nil {
		return nil, apperror.Wrap("invalid token", apperror.ErrForbidden)
	}
	return id, nil
}

func (s *Server) boardID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("board_id"))
	if err != nil {
		return uuid.UUID{}, apperror.Wrap("invalid board id", apperror.ErrInvalidInput)
	}
	return id, nil
}

func (s *Server) handleBoardWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), apperror.StatusCode(err))
		return
	}
	userID, err := uuid.Parse(identity.UserID)
	if err != nil {
		http.Error(w, "invalid subject", http.StatusForbidden)
		return
	}
	if !s.connLimit.Allow(identity.UserID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	boardID, err := s.boardID(r)
	if err != nil {
		http.Error(w, err.Error(), apperror.StatusCode(err))
		return
	}

	role, ok, err := s.roles.Get(r.Context(), boardID, userID)
	if err != nil {
		http.Error(w, "role lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not a board member", http.StatusForbidden)
		return
	}

	rm, err := s.registry.GetOrLoad(r.Context(), boardID)
	if err != nil {
		s.log.Error("load room failed", "board_id", boardID, "error", err)
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sess := session.New(conn, rm, userID, role, s.log)
	sess.Run(r.Context())
}
