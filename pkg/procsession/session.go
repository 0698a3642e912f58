package procsession

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// Session is one spawned child process and its captured output.
type Session struct {
	ID        string
	Command   string
	Args      []string
	Cwd       string
	PID       int
	StartedAt time.Time

	seq  uint64
	cmd  *exec.Cmd
	done chan struct{}

	// writeMu serializes stdin writes; it is never held with mu.
	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu          sync.Mutex
	out         *transcript
	running     bool
	exitCode    int
	endedAt     time.Time
	openStreams int
}

func (s *Session) appendChunk(chunk string) {
	s.mu.Lock()
	s.out.append(chunk)
	s.mu.Unlock()
}

// end records the terminal entry and flips the session to not running.
func (s *Session) end(entry string, exitCode int, now time.Time) {
	s.mu.Lock()
	s.out.append(entry)
	s.running = false
	s.exitCode = exitCode
	s.endedAt = now
	s.mu.Unlock()
}

func (s *Session) streamClosed() {
	s.mu.Lock()
	s.openStreams--
	s.mu.Unlock()
}

// hasOpenStreams reports whether some process still holds stdout or stderr.
func (s *Session) hasOpenStreams() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openStreams > 0
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) runtime(now time.Time) time.Duration {
	s.mu.Lock()
	end := s.endedAt
	s.mu.Unlock()
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}
