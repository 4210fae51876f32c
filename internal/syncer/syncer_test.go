package syncer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSessions struct {
	mu       sync.Mutex
	flushAll int
	flushed  map[string]int
	flushErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{flushed: make(map[string]int)}
}

func (f *fakeSessions) FlushAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushAll++
	return 0
}

func (f *fakeSessions) Flush(docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed[docID]++
	return f.flushErr
}

func (f *fakeSessions) flushAllCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushAll
}

func TestServiceTicksFlushAll(t *testing.T) {
	sessions := newFakeSessions()
	service := New(sessions, Config{Interval: 5 * time.Millisecond})

	service.Start()
	time.Sleep(30 * time.Millisecond)
	service.Stop()

	if sessions.flushAllCount() == 0 {
		t.Error("Expected at least one FlushAll tick")
	}
}

func TestServiceStopHalts(t *testing.T) {
	sessions := newFakeSessions()
	service := New(sessions, Config{Interval: 5 * time.Millisecond})

	service.Start()
	service.Stop()

	count := sessions.flushAllCount()
	time.Sleep(25 * time.Millisecond)
	if sessions.flushAllCount() != count {
		t.Error("Service kept flushing after Stop")
	}
}

func TestFlushNow(t *testing.T) {
	sessions := newFakeSessions()
	service := New(sessions, DefaultConfig())

	if err := service.FlushNow("doc-1"); err != nil {
		t.Fatalf("FlushNow failed: %v", err)
	}
	if sessions.flushed["doc-1"] != 1 {
		t.Errorf("Expected 1 flush of doc-1, got %d", sessions.flushed["doc-1"])
	}

	sessions.flushErr = errors.New("storage down")
	if err := service.FlushNow("doc-1"); err == nil {
		t.Error("Expected FlushNow to surface the flush error")
	}
}
