package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"github.com/coedit/server/internal/ot"
	"github.com/coedit/server/internal/session"
	"github.com/coedit/server/internal/storage"
	"github.com/coedit/server/internal/ws"
)

func setupTestAPI(t *testing.T) (*API, *mux.Router, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coedit-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := storage.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	sessions := session.NewStore(store)
	hub := ws.NewHub()
	go hub.Run()

	api := New(hub, sessions, store)
	router := mux.NewRouter()
	api.RegisterRoutes(router)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return api, router, cleanup
}

func TestHealthHandler(t *testing.T) {
	_, router, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, router, cleanup := setupTestAPI(t)
	defer cleanup()

	if _, err := api.sessions.SubmitEdit("stats-doc", "alice", 0, []ot.Op{
		{Type: ot.OpInsert, Pos: 0, Text: "hi", ClientID: "alice"},
	}); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if _, ok := response["active_rooms"]; !ok {
		t.Error("Response should contain 'active_rooms'")
	}
	if _, ok := response["active_clients"]; !ok {
		t.Error("Response should contain 'active_clients'")
	}
	if response["loaded_sessions"].(float64) != 1 {
		t.Errorf("Expected 1 loaded session, got %v", response["loaded_sessions"])
	}
}

func TestGetDocumentLive(t *testing.T) {
	api, router, cleanup := setupTestAPI(t)
	defer cleanup()

	if _, err := api.sessions.SubmitEdit("live-doc", "alice", 0, []ot.Op{
		{Type: ot.OpInsert, Pos: 0, Text: "in memory", ClientID: "alice"},
	}); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/docs/live-doc", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var doc DocumentResponse
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc.Content != "in memory" || doc.Version != 1 {
		t.Errorf("Expected ('in memory', 1), got (%q, %d)", doc.Content, doc.Version)
	}
	if !doc.Live {
		t.Error("Loaded document should be reported as live")
	}
}

func TestGetDocumentDurableFallback(t *testing.T) {
	api, router, cleanup := setupTestAPI(t)
	defer cleanup()

	if err := api.store.WriteDocument("cold-doc", "on disk", 9); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/docs/cold-doc", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var doc DocumentResponse
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc.Content != "on disk" || doc.Version != 9 {
		t.Errorf("Expected ('on disk', 9), got (%q, %d)", doc.Content, doc.Version)
	}
	if doc.Live {
		t.Error("Unloaded document should not be reported as live")
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	_, router, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/docs/non-existent", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListAudit(t *testing.T) {
	api, router, cleanup := setupTestAPI(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if _, err := api.sessions.SubmitEdit("audit-doc", "alice", i, []ot.Op{
			{Type: ot.OpInsert, Pos: 0, Text: "x", ClientID: "alice"},
		}); err != nil {
			t.Fatalf("Edit failed: %v", err)
		}
	}
	if err := api.sessions.Flush("audit-doc"); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/docs/audit-doc/audit", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	entries, ok := response["entries"].([]any)
	if !ok {
		t.Fatal("Response should contain 'entries' array")
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
	if response["total"].(float64) != 3 {
		t.Errorf("Expected total 3, got %v", response["total"])
	}
}

func TestListAuditEmpty(t *testing.T) {
	_, router, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/docs/quiet-doc/audit", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	entries, ok := response["entries"].([]any)
	if !ok {
		t.Fatal("Entries should be an empty array, not null")
	}
	if len(entries) != 0 {
		t.Errorf("Expected 0 entries, got %d", len(entries))
	}
}

func TestFlushDocumentHandler(t *testing.T) {
	api, router, cleanup := setupTestAPI(t)
	defer cleanup()

	if _, err := api.sessions.SubmitEdit("flush-doc", "alice", 0, []ot.Op{
		{Type: ot.OpInsert, Pos: 0, Text: "persist me", ClientID: "alice"},
	}); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/docs/flush-doc/flush", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	doc, err := api.store.ReadDocument("flush-doc")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc == nil || doc.Content != "persist me" || doc.Version != 1 {
		t.Errorf("Expected durable ('persist me', 1), got %+v", doc)
	}
}

func TestFlushDocumentMethodNotAllowed(t *testing.T) {
	_, router, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/docs/x/flush", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
