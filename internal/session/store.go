package session

import (
	"fmt"
	"log"
	"sync"

	"github.com/coedit/server/internal/ot"
	"github.com/coedit/server/internal/storage"
)

// Storage is the durable collaborator a Store seeds from and flushes to.
// *storage.Store satisfies it; tests substitute an in-memory fake.
type Storage interface {
	ReadDocument(docID string) (*storage.Document, error)
	WriteDocument(docID, content string, version int) error
	AppendAuditEntries(docID string, entries []storage.AuditEntry) error
}

// EditResult is the authoritative outcome of a committed edit. Callers
// broadcast exactly this triple so every replica applies the same
// rebased operations.
type EditResult struct {
	Version int     `json:"version"`
	Content string  `json:"content"`
	Ops     []ot.Op `json:"ops"`
}

// Snapshot is the state handed to a joining participant.
type Snapshot struct {
	Version int               `json:"version"`
	Content string            `json:"content"`
	Cursors map[string]Cursor `json:"cursors"`
}

// Store maps document ids to live sessions. Sessions are created
// lazily on first access and live until process exit; there is no
// eviction, so memory grows with distinct documents touched.
type Store struct {
	storage Storage

	mu       sync.Mutex
	sessions map[string]*Session
	loading  map[string]*loadCall
}

type loadCall struct {
	done chan struct{}
	sess *Session
	err  error
}

func NewStore(st Storage) *Store {
	return &Store{
		storage:  st,
		sessions: make(map[string]*Session),
		loading:  make(map[string]*loadCall),
	}
}

// Load returns the live session for docID, seeding it from durable
// storage (or an empty default) on first reference. Concurrent first
// loads are deduplicated: one caller performs the storage read and the
// rest wait for it, so a single winner seeds the session. A failed
// seed registers nothing.
func (s *Store) Load(docID string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[docID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	if call, ok := s.loading[docID]; ok {
		s.mu.Unlock()
		<-call.done
		if call.err != nil {
			return nil, call.err
		}
		return call.sess, nil
	}
	call := &loadCall{done: make(chan struct{})}
	s.loading[docID] = call
	s.mu.Unlock()

	sess, err := s.seed(docID)
	call.sess, call.err = sess, err

	s.mu.Lock()
	delete(s.loading, docID)
	if err == nil {
		s.sessions[docID] = sess
	}
	s.mu.Unlock()
	close(call.done)

	return sess, err
}

func (s *Store) seed(docID string) (*Session, error) {
	doc, err := s.storage.ReadDocument(docID)
	if err != nil {
		return nil, fmt.Errorf("seed session %s: %w", docID, err)
	}

	sess := &Session{
		docID:   docID,
		cursors: make(map[string]Cursor),
	}
	if doc != nil {
		sess.content = doc.Content
		sess.version = doc.Version
	}
	return sess, nil
}

// SubmitEdit rebases ops against everything committed after
// baseVersion, applies them, advances the version by exactly one and
// records the batch. The whole step runs under the session lock, so
// edits to one document commit in strict arrival order.
func (s *Store) SubmitEdit(docID, authorID string, baseVersion int, ops []ot.Op) (*EditResult, error) {
	sess, err := s.Load(docID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	rebased := ot.TransformAll(ops, sess.opsSince(baseVersion))
	sess.content = ot.Apply(sess.content, rebased)
	sess.version++
	sess.history = append(sess.history, historyEntry{version: sess.version, ops: rebased})
	if len(sess.history) > HistoryWindow {
		sess.history = sess.history[1:]
	}
	sess.dirty = true
	sess.pendingAudit = append(sess.pendingAudit, storage.AuditEntry{
		DocID:   docID,
		UserID:  authorID,
		Action:  "edit_op",
		Detail:  fmt.Sprintf("applied %d ops at v%d", len(rebased), sess.version),
		Version: sess.version,
		Ops:     rebased,
	})

	return &EditResult{
		Version: sess.version,
		Content: sess.content,
		Ops:     rebased,
	}, nil
}

// Join loads the session and returns the state a new participant needs.
func (s *Store) Join(docID string) (*Snapshot, error) {
	sess, err := s.Load(docID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	cursors := make(map[string]Cursor, len(sess.cursors))
	for userID, cursor := range sess.cursors {
		cursors[userID] = cursor
	}
	return &Snapshot{
		Version: sess.version,
		Content: sess.content,
		Cursors: cursors,
	}, nil
}

// UpdateCursor records a participant's cursor, last-write-wins. No
// version bump and no dirty marking; cursors are not persisted.
func (s *Store) UpdateCursor(docID, userID string, cursor Cursor) error {
	sess, err := s.Load(docID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.cursors[userID] = cursor
	sess.mu.Unlock()
	return nil
}

// Peek returns the live state of docID without loading it.
func (s *Store) Peek(docID string) (*Snapshot, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[docID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &Snapshot{Version: sess.version, Content: sess.content}, true
}

// Flush writes docID's state to durable storage if it is dirty. A doc
// that was never loaded, or is clean, is a no-op with no storage I/O.
func (s *Store) Flush(docID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[docID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.flush(s.storage)
}

// FlushAll flushes every loaded document. Failures are logged per
// document and never block the others; the dirty flag keeps failed
// documents eligible for the next cycle.
func (s *Store) FlushAll() int {
	flushed := 0
	for _, docID := range s.DocIDs() {
		if err := s.Flush(docID); err != nil {
			log.Printf("Flush failed for %s: %v", docID, err)
			continue
		}
		flushed++
	}
	return flushed
}

// DocIDs lists every currently loaded document id.
func (s *Store) DocIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for docID := range s.sessions {
		ids = append(ids, docID)
	}
	return ids
}

// Count returns the number of loaded sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
