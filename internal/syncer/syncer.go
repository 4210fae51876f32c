// Package syncer drives periodic persistence of dirty sessions.
package syncer

import (
	"log"
	"sync"
	"time"
)

// Sessions is the slice of the session store the syncer needs.
type Sessions interface {
	FlushAll() int
	Flush(docID string) error
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Service flushes every loaded document on a fixed interval. A failed
// flush leaves the document dirty, so it is retried on the next tick;
// one document's failure never blocks the others.
type Service struct {
	sessions Sessions
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(sessions Sessions, config Config) *Service {
	return &Service{
		sessions: sessions,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("💾 Persistence syncer started (interval: %v)", s.config.Interval)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("💾 Persistence syncer stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.FlushAll()
		}
	}
}

// FlushAll flushes every loaded document independently and returns how
// many flushed without error.
func (s *Service) FlushAll() int {
	return s.sessions.FlushAll()
}

// FlushNow flushes a single document on demand.
func (s *Service) FlushNow(docID string) error {
	return s.sessions.Flush(docID)
}
