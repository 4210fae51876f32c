package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/coedit/server/internal/session"
	"github.com/coedit/server/internal/storage"
	"github.com/coedit/server/internal/ws"
)

type API struct {
	hub      *ws.Hub
	sessions *session.Store
	store    *storage.Store
}

func New(hub *ws.Hub, sessions *session.Store, store *storage.Store) *API {
	return &API{
		hub:      hub,
		sessions: sessions,
		store:    store,
	}
}

// RegisterRoutes mounts the REST surface on r.
func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/docs/{id}", a.GetDocumentHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/docs/{id}/audit", a.ListAuditHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/docs/{id}/flush", a.FlushDocumentHandler).Methods(http.MethodPost)
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"sessions":  a.sessions.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":    a.hub.GetRoomCount(),
		"active_clients":  a.hub.GetClientCount(),
		"loaded_sessions": a.sessions.Count(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		storeStats, err := a.store.GetStats()
		if err == nil {
			stats["total_documents"] = storeStats["document_count"]
			stats["total_audit_entries"] = storeStats["audit_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

type DocumentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Version int    `json:"version"`
	Live    bool   `json:"live"`
}

// GetDocumentHandler returns the live in-memory state when the document
// is loaded, falling back to the durable copy otherwise.
func (a *API) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	if docID == "" {
		errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	if snap, ok := a.sessions.Peek(docID); ok {
		jsonResponse(w, http.StatusOK, DocumentResponse{
			ID:      docID,
			Content: snap.Content,
			Version: snap.Version,
			Live:    true,
		})
		return
	}

	doc, err := a.store.ReadDocument(docID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to read document")
		return
	}
	if doc == nil {
		errorResponse(w, http.StatusNotFound, "Document not found")
		return
	}

	jsonResponse(w, http.StatusOK, DocumentResponse{
		ID:      doc.ID,
		Content: doc.Content,
		Version: doc.Version,
	})
}

func (a *API) ListAuditHandler(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	if docID == "" {
		errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := a.store.ListAuditEntries(docID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}

	total, _ := a.store.GetAuditCount(docID)

	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// FlushDocumentHandler forces a flush of one document.
func (a *API) FlushDocumentHandler(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	if docID == "" {
		errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	if err := a.sessions.Flush(docID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Flush failed")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Document flushed"})
}
