// Package procsession spawns child processes, captures their interleaved
// stdout and stderr into a bounded transcript, and lets callers write to
// stdin, read output and terminate them across requests.
package procsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holon-run/localagent/pkg/agenterr"
	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/sessionid"
)

const (
	DefaultMaxChunks      = 1000
	DefaultRetainChunks   = 500
	DefaultReadBufferSize = 4096

	defaultDrainGrace = 200 * time.Millisecond
)

// ExitEvent reports that a session reached its terminal entry.
type ExitEvent struct {
	ID       string `json:"session_id"`
	ExitCode int    `json:"exit_code"`
	Entry    string `json:"entry"`
}

// Config configures a Registry. Zero values select the defaults.
type Config struct {
	MaxChunks      int
	RetainChunks   int
	ReadBufferSize int
	// OnExit, if set, is called from the reaper goroutine outside every lock.
	OnExit func(ExitEvent)
}

// Registry owns every process session of the agent.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxChunks  int
	retain     int
	bufferSize int
	drainGrace time.Duration
	onExit     func(ExitEvent)
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	if cfg.RetainChunks <= 0 || cfg.RetainChunks >= cfg.MaxChunks {
		cfg.RetainChunks = cfg.MaxChunks / 2
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		maxChunks:  cfg.MaxChunks,
		retain:     cfg.RetainChunks,
		bufferSize: cfg.ReadBufferSize,
		drainGrace: defaultDrainGrace,
		onExit:     cfg.OnExit,
		now:        time.Now,
	}
}

// StartResult is returned by Start.
type StartResult struct {
	ID  string `json:"session_id"`
	PID int    `json:"pid"`
}

// WriteResult is returned by Write.
type WriteResult struct {
	ID           string `json:"session_id"`
	BytesWritten int    `json:"bytes_written"`
}

// ReadResult is a snapshot of a session's retained output.
type ReadResult struct {
	ID        string `json:"session_id"`
	Output    string `json:"output"`
	IsRunning bool   `json:"is_running"`
	ExitCode  *int   `json:"exit_code"`
	Chunks    int    `json:"chunks"`
}

// SessionInfo is the List view of one session.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Cwd       string    `json:"cwd"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	RuntimeMS int64     `json:"runtime_ms"`
	IsRunning bool      `json:"is_running"`
}

// CloseResult is returned by Close.
type CloseResult struct {
	ID      string `json:"session_id"`
	Message string `json:"message"`
}

// Start spawns command and returns as soon as the child exists. A spawn
// failure does not fail Start: the session is registered as ended with a
// single spawn error entry, visible through Read.
func (r *Registry) Start(command string, args []string, cwd string) (StartResult, error) {
	const op = "process.start"
	if strings.TrimSpace(command) == "" {
		return StartResult{}, agenterr.InvalidArgument(op, "command is required")
	}
	if cwd != "" {
		if abs, err := filepath.Abs(cwd); err == nil {
			cwd = abs
		}
	}

	now := r.now()
	id, seq := sessionid.New("proc", now)
	s := &Session{
		ID:        id,
		Command:   command,
		Args:      append([]string(nil), args...),
		Cwd:       cwd,
		StartedAt: now,
		seq:       seq,
		done:      make(chan struct{}),
		out:       newTranscript(r.maxChunks, r.retain),
		exitCode:  -1,
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	configureCommand(cmd)

	pipes, err := openPipes(cmd)
	if err == nil {
		err = cmd.Start()
		if err != nil {
			pipes.closeAll()
		} else {
			pipes.closeChildEnds()
		}
	}
	if err != nil {
		entry := fmt.Sprintf("[spawn error: %v]", err)
		s.end(entry, -1, now)
		close(s.done)
		r.add(s)
		holonlog.Warn("process spawn failed", "session_id", id, "error", agenterr.Spawn(op, command, err))
		r.notifyExit(ExitEvent{ID: id, ExitCode: -1, Entry: entry})
		return StartResult{ID: id}, nil
	}

	s.cmd = cmd
	s.stdin = pipes.stdin
	s.PID = cmd.Process.Pid
	s.running = true
	s.openStreams = 2
	r.add(s)

	holonlog.Info("process started", "session_id", id, "command", command, "pid", s.PID)

	drained := make(chan struct{}, 2)
	go r.drain(s, pipes.stdout, drained)
	go r.drain(s, pipes.stderr, drained)
	go r.reap(s, drained)

	return StartResult{ID: id, PID: s.PID}, nil
}

// childPipes holds the child's stdio. stdout and stderr are plain os.Pipe
// pairs so that cmd.Wait returns when the child exits, even while a
// descendant still holds the write ends.
type childPipes struct {
	stdin          io.WriteCloser
	stdout, stderr *os.File
	childEnds      []*os.File
}

func openPipes(cmd *exec.Cmd) (*childPipes, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	p := &childPipes{stdin: stdin}
	outR, outW, err := os.Pipe()
	if err != nil {
		p.closeAll()
		return nil, err
	}
	p.stdout = outR
	p.childEnds = append(p.childEnds, outW)
	errR, errW, err := os.Pipe()
	if err != nil {
		p.closeAll()
		return nil, err
	}
	p.stderr = errR
	p.childEnds = append(p.childEnds, errW)

	cmd.Stdout = outW
	cmd.Stderr = errW
	return p, nil
}

// closeChildEnds drops the parent's copies of the write ends after Start.
func (p *childPipes) closeChildEnds() {
	for _, f := range p.childEnds {
		_ = f.Close()
	}
}

func (p *childPipes) closeAll() {
	p.closeChildEnds()
	_ = p.stdin.Close()
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.stderr != nil {
		_ = p.stderr.Close()
	}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// drain copies one stream into the transcript, one chunk per read, until
// every holder of the write end has closed it.
func (r *Registry) drain(s *Session, src io.ReadCloser, drained chan<- struct{}) {
	defer func() {
		_ = src.Close()
		s.streamClosed()
		drained <- struct{}{}
	}()
	buf := make([]byte, r.bufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			s.appendChunk(string(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				holonlog.Debug("process stream closed", "session_id", s.ID, "error", err)
			}
			return
		}
	}
}

// reap waits for the child to exit, then gives the drains up to drainGrace
// to pick up what the child flushed before the terminal entry is appended.
// Output from descendants that outlive the child lands after that entry.
func (r *Registry) reap(s *Session, drained <-chan struct{}) {
	err := s.cmd.Wait()

	timer := time.NewTimer(r.drainGrace)
	defer timer.Stop()
	for pending := 2; pending > 0; {
		select {
		case <-drained:
			pending--
		case <-timer.C:
			holonlog.Debug("process exited with streams still open", "session_id", s.ID, "pid", s.PID)
			pending = 0
		}
	}

	code, entry := exitEntry(s.cmd, err)
	s.end(entry, code, r.now())
	close(s.done)

	holonlog.Info("process exited", "session_id", s.ID, "pid", s.PID, "exit_code", code)
	r.notifyExit(ExitEvent{ID: s.ID, ExitCode: code, Entry: entry})
}

func exitEntry(cmd *exec.Cmd, waitErr error) (int, string) {
	state := cmd.ProcessState
	if state == nil {
		return -1, fmt.Sprintf("[process exited with error: %v]", waitErr)
	}
	if sig, ok := terminationSignal(state); ok {
		return -1, fmt.Sprintf("[process terminated by signal %s]", sig)
	}
	code := state.ExitCode()
	return code, fmt.Sprintf("[process exited with code %d]", code)
}

func (r *Registry) notifyExit(e ExitEvent) {
	if r.onExit != nil {
		r.onExit(e)
	}
}

func (r *Registry) get(op, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, agenterr.NotFound(op, id)
	}
	return s, nil
}

// Write sends input to the child's stdin, optionally followed by a newline.
func (r *Registry) Write(id, input string, appendNewline bool) (WriteResult, error) {
	const op = "process.write"
	s, err := r.get(op, id)
	if err != nil {
		return WriteResult{}, err
	}
	if !s.isRunning() {
		return WriteResult{}, agenterr.InvalidState(op, id, "session has ended")
	}
	if appendNewline {
		input += "\n"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := io.WriteString(s.stdin, input)
	if err != nil {
		if !s.isRunning() {
			return WriteResult{}, agenterr.InvalidState(op, id, "session has ended")
		}
		return WriteResult{}, &agenterr.Error{Kind: agenterr.KindInternal, Op: op, Subject: id, Msg: "write to stdin failed", Err: err}
	}
	return WriteResult{ID: id, BytesWritten: n}, nil
}

// Read returns the retained transcript. With clear, the transcript is
// emptied in the same critical section.
func (r *Registry) Read(id string, clear bool) (ReadResult, error) {
	s, err := r.get("process.read", id)
	if err != nil {
		return ReadResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := ReadResult{
		ID:        id,
		Output:    s.out.text(),
		IsRunning: s.running,
		Chunks:    s.out.len(),
	}
	if !s.running {
		code := s.exitCode
		res.ExitCode = &code
	}
	if clear {
		s.out.reset()
	}
	return res, nil
}

// List returns every session in creation order.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })

	now := r.now()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			Command:   s.Command,
			Args:      s.Args,
			Cwd:       s.Cwd,
			PID:       s.PID,
			StartedAt: s.StartedAt,
			RuntimeMS: s.runtime(now).Milliseconds(),
			IsRunning: s.isRunning(),
		})
	}
	return infos
}

// Close terminates a running child (SIGTERM, or SIGKILL with force) and
// removes the session at once. It does not wait for the child to exit.
func (r *Registry) Close(id string, force bool) (CloseResult, error) {
	const op = "process.close"
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return CloseResult{}, agenterr.NotFound(op, id)
	}

	if !s.isRunning() {
		// Descendants still holding the output pipes share the group.
		if s.hasOpenStreams() {
			if err := signalProcessGroup(s.PID, force); err != nil {
				holonlog.Warn("failed to signal process group", "session_id", id, "pid", s.PID, "error", err)
			}
		}
		return CloseResult{ID: id, Message: "session removed"}, nil
	}
	if err := signalProcessGroup(s.PID, force); err != nil {
		holonlog.Warn("failed to signal process group", "session_id", id, "pid", s.PID, "error", err)
	}
	_ = s.stdin.Close()

	holonlog.Info("process closed", "session_id", id, "pid", s.PID, "force", force)
	if force {
		return CloseResult{ID: id, Message: "process killed and session removed"}, nil
	}
	return CloseResult{ID: id, Message: "process terminated and session removed"}, nil
}

// Wait blocks until the session has its terminal entry or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) error {
	s, err := r.get("process.wait", id)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown force-closes every session.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_, _ = r.Close(id, true)
	}
}

// Counts returns the number of running and total sessions.
func (r *Registry) Counts() (running, total int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.isRunning() {
			running++
		}
	}
	return running, len(r.sessions)
}
