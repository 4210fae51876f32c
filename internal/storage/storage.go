package storage

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coedit/server/internal/ot"
)

// Store is the durable side of the collaboration engine: authoritative
// document snapshots plus an append-only audit log of applied edits.
type Store struct {
	db *sql.DB
}

type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry describes one committed edit batch.
type AuditEntry struct {
	ID        int       `json:"id,omitempty"`
	DocID     string    `json:"doc_id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Version   int       `json:"version"`
	Ops       []ot.Op   `json:"ops"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Storage initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		detail TEXT DEFAULT '',
		version INTEGER DEFAULT 0,
		ops TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_doc_id ON audit_log(doc_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_doc_version ON audit_log(doc_id, version);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Document operations

// ReadDocument returns the durable copy of a document, or nil if it has
// never been written.
func (s *Store) ReadDocument(docID string) (*Document, error) {
	row := s.db.QueryRow(
		"SELECT id, content, version, created_at, updated_at FROM documents WHERE id = ?",
		docID,
	)

	var doc Document
	err := row.Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// WriteDocument upserts the authoritative content and version for docID.
func (s *Store) WriteDocument(docID, content string, version int) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, content, version, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP
	`, docID, content, version)
	return err
}

// Audit log operations

// AppendAuditEntries writes a batch of audit entries in order inside a
// single transaction. Delivery is at-least-once; duplicates on
// (doc_id, version) are acceptable to readers.
func (s *Store) AppendAuditEntries(docID string, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_log (doc_id, user_id, action, detail, version, ops)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		opsJSON, err := json.Marshal(entry.Ops)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(docID, entry.UserID, entry.Action, entry.Detail, entry.Version, string(opsJSON)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListAuditEntries returns audit entries for a document, oldest first.
func (s *Store) ListAuditEntries(docID string, limit, offset int) ([]AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, doc_id, user_id, action, detail, version, ops, created_at
		FROM audit_log
		WHERE doc_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, docID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var opsJSON string
		if err := rows.Scan(&entry.ID, &entry.DocID, &entry.UserID, &entry.Action, &entry.Detail, &entry.Version, &opsJSON, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opsJSON), &entry.Ops); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetAuditCount(docID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM audit_log WHERE doc_id = ?",
		docID,
	).Scan(&count)
	return count, err
}

// Stats

func (s *Store) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var docCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&docCount); err != nil {
		return nil, err
	}
	stats["document_count"] = docCount

	var auditCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&auditCount); err != nil {
		return nil, err
	}
	stats["audit_count"] = auditCount

	return stats, nil
}
