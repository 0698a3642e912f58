package search

import (
	"context"
	"sync"
	"time"

	"github.com/holon-run/localagent/pkg/wildcard"
)

// Status is the lifecycle state of a search session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// Session is one background directory search. Immutable fields are set at
// creation; everything below mu is owned by the traversal goroutine and the
// registry operations through mu.
type Session struct {
	ID        string
	Directory string
	Pattern   string
	StartedAt time.Time

	seq     uint64
	matcher *wildcard.Matcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex
	results    []string
	scanned    int
	status     Status
	finishedAt time.Time
}

// collector adapts a Session to the traversal Sink.
type collector struct {
	s *Session
}

func (c collector) AddDirectory() {
	c.s.mu.Lock()
	c.s.scanned++
	c.s.mu.Unlock()
}

func (c collector) AddMatch(path string) {
	c.s.mu.Lock()
	c.s.results = append(c.s.results, path)
	c.s.mu.Unlock()
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning
}

// finish records natural completion. A session already stopped keeps its
// stopped status and stop time.
func (s *Session) finish(now time.Time) (Status, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.status = StatusCompleted
		s.finishedAt = now
	}
	return s.status, len(s.results)
}

func (s *Session) runtime(now time.Time) time.Duration {
	end := s.finishedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}
