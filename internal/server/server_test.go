package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/boardauth"
	"github.com/plantrungnampl/realtime-board-sub000/internal/elements"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	srv     *httptest.Server
	store   *store.Store
	privKey *ecdsa.PrivateKey
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	key, _, err := boardauth.GenerateECKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	s := New(Deps{
		Registry:    registry.New(st, testLogger()),
		Store:       st,
		Roles:       boardauth.NewRoleLookup(st.DB()),
		PublicKey:   &key.PublicKey,
		ConnLimiter: boardauth.NewConnectionLimiter(1000, 1000),
		IPLimiter:   boardauth.NewIPRateLimiter(1000, 1000),
		Log:         testLogger(),
	})

	return &testHarness{srv: httptest.NewServer(s), store: st, privKey: key}
}

func (h *testHarness) addMember(t *testing.T, boardID, userID uuid.UUID, role boardauth.Role) {
	t.Helper()
	_, err := h.store.DB().Exec(
		`INSERT INTO board_member (board_id, user_id, role) VALUES (?, ?, ?)`,
		boardID.String(), userID.String(), string(role),
	)
	if err != nil {
		t.Fatalf("insert board member: %v", err)
	}
}

func (h *testHarness) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := boardauth.IssueSessionJWT(h.privKey, userID.String(), "", time.Hour)
	if err != nil {
		t.Fatalf("issue jwt: %v", err)
	}
	return tok
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestCreateElementRequiresEditorRole(t *testing.T) {
	h := newHarness(t)
	defer h.srv.Close()

	boardID := uuid.New()
	viewer := uuid.New()
	h.addMember(t, boardID, viewer, boardauth.RoleViewer)

	resp := h.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%s/elements", boardID), h.token(t, viewer), createElementRequest{
		ElementType: elements.ElementShape, Width: 10, Height: 10,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}

func TestCreateUpdateDeleteRestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.srv.Close()

	boardID := uuid.New()
	editor := uuid.New()
	h.addMember(t, boardID, editor, boardauth.RoleEditor)
	token := h.token(t, editor)

	createResp := h.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%s/elements", boardID), token, createElementRequest{
		ElementType: elements.ElementShape, Width: 10, Height: 20,
	})
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("want 201, got %d", createResp.StatusCode)
	}
	var created elements.Materialized
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Width != 10 || created.Height != 20 {
		t.Fatalf("unexpected created element: %+v", created)
	}

	newWidth := 99.0
	updateResp := h.do(t, http.MethodPut, fmt.Sprintf("/api/boards/%s/elements/%s", boardID, created.ID), token, updateElementRequest{
		ExpectedVersion: 1,
		Width:           &newWidth,
	})
	defer updateResp.Body.Close()
	if updateResp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", updateResp.StatusCode)
	}
	var updated elements.Materialized
	if err := json.NewDecoder(updateResp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if updated.Width != 99 {
		t.Fatalf("want width 99, got %v", updated.Width)
	}

	deleteResp := h.do(t, http.MethodDelete, fmt.Sprintf("/api/boards/%s/elements/%s?expected_version=2", boardID, created.ID), token, nil)
	defer deleteResp.Body.Close()
	if deleteResp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", deleteResp.StatusCode)
	}
	var deleted deleteElementResponse
	if err := json.NewDecoder(deleteResp.Body).Decode(&deleted); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if deleted.DeletedAt == nil {
		t.Fatalf("want deleted_at set")
	}
	if deleted.AlreadyDeleted != nil {
		t.Fatalf("want already_deleted unset on first delete")
	}

	listResp := h.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%s/elements", boardID), token, nil)
	defer listResp.Body.Close()
	var live []elements.Materialized
	if err := json.NewDecoder(listResp.Body).Decode(&live); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("want 0 live elements after delete, got %d", len(live))
	}

	restoreResp := h.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%s/elements/%s/restore?expected_version=3", boardID, created.ID), token, nil)
	defer restoreResp.Body.Close()
	if restoreResp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", restoreResp.StatusCode)
	}

	listResp2 := h.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%s/elements", boardID), token, nil)
	defer listResp2.Body.Close()
	var live2 []elements.Materialized
	if err := json.NewDecoder(listResp2.Body).Decode(&live2); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(live2) != 1 {
		t.Fatalf("want 1 live element after restore, got %d", len(live2))
	}
}

func TestListElementsRejectsNonMember(t *testing.T) {
	h := newHarness(t)
	defer h.srv.Close()

	boardID := uuid.New()
	stranger := uuid.New()

	resp := h.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%s/elements", boardID), h.token(t, stranger), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	h := newHarness(t)
	defer h.srv.Close()

	boardID := uuid.New()
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+fmt.Sprintf("/api/boards/%s/elements", boardID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}
