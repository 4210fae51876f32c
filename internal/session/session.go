// Package session holds the live in-memory state of documents under
// collaborative editing and serializes concurrent edits to each one.
package session

import (
	"fmt"
	"sync"

	"github.com/coedit/server/internal/ot"
	"github.com/coedit/server/internal/storage"
)

// HistoryWindow bounds the number of retained edit batches per session.
// An edit whose base version predates the oldest retained batch is
// rebased best-effort against whatever is still retained; clients that
// far behind may diverge and should rejoin.
const HistoryWindow = 200

// Cursor is best-effort presence info, never persisted.
type Cursor struct {
	Pos       int   `json:"pos"`
	Selection []int `json:"selection,omitempty"`
}

type historyEntry struct {
	version int
	ops     []ot.Op
}

// Session is the in-memory state of one document. All mutation happens
// under mu; the version counter advances by exactly one per committed
// edit batch and never decreases.
type Session struct {
	docID string

	mu           sync.Mutex
	content      string
	version      int
	history      []historyEntry
	cursors      map[string]Cursor
	dirty        bool
	pendingAudit []storage.AuditEntry
}

// opsSince flattens the retained history recorded after baseVersion, in
// commit order. Callers hold mu.
func (s *Session) opsSince(baseVersion int) []ot.Op {
	var ops []ot.Op
	for _, entry := range s.history {
		if entry.version > baseVersion {
			ops = append(ops, entry.ops...)
		}
	}
	return ops
}

// flush writes the session's current state and drains pending audit
// entries. The dirty flag is captured with a version snapshot and only
// cleared if no edit landed during the storage I/O, so a concurrent
// SubmitEdit is never lost. On storage failure the drained audit
// entries are re-queued ahead of any newer ones and the session stays
// dirty for the next cycle.
func (s *Session) flush(store Storage) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	content := s.content
	version := s.version
	audit := s.pendingAudit
	s.pendingAudit = nil
	s.mu.Unlock()

	if err := store.WriteDocument(s.docID, content, version); err != nil {
		s.requeueAudit(audit)
		return fmt.Errorf("write document %s: %w", s.docID, err)
	}

	if err := store.AppendAuditEntries(s.docID, audit); err != nil {
		s.requeueAudit(audit)
		return fmt.Errorf("append audit entries for %s: %w", s.docID, err)
	}

	s.mu.Lock()
	if s.version == version {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) requeueAudit(audit []storage.AuditEntry) {
	if len(audit) == 0 {
		return
	}
	s.mu.Lock()
	s.pendingAudit = append(audit, s.pendingAudit...)
	s.mu.Unlock()
}
