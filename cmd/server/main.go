package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/coedit/server/internal/api"
	"github.com/coedit/server/internal/session"
	"github.com/coedit/server/internal/storage"
	"github.com/coedit/server/internal/syncer"
	"github.com/coedit/server/internal/ws"
)

func main() {
	dbPath := os.Getenv("COEDIT_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/coedit.db"
	}

	store, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	sessions := session.NewStore(store)

	hub := ws.NewHub()
	go hub.Run()

	syncConfig := syncer.DefaultConfig()
	if interval := os.Getenv("FLUSH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			log.Fatalf("Invalid FLUSH_INTERVAL %q: %v", interval, err)
		}
		syncConfig.Interval = d
	}
	syncService := syncer.New(sessions, syncConfig)
	syncService.Start()

	apiHandler := api.New(hub, sessions, store)

	router := mux.NewRouter()
	apiHandler.RegisterRoutes(router)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, sessions, w, r)
	})

	handler := corsMiddleware(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		syncService.Stop()
		if flushed := syncService.FlushAll(); flushed > 0 {
			log.Printf("Final flush wrote %d documents", flushed)
		}
		store.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("✍️ Coedit collab server starting on :%s", port)
	log.Printf("📁 Database: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?doc={docId}&user={userId}&role={role}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Document:  GET /api/docs/{id}")
	log.Println("  - Audit:     GET /api/docs/{id}/audit")
	log.Println("  - Flush:     POST /api/docs/{id}/flush")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
