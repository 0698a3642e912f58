// Package search runs cancellable background directory searches and keeps
// their results for paginated retrieval across requests.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holon-run/localagent/pkg/agenterr"
	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/sessionid"
	"github.com/holon-run/localagent/pkg/wildcard"
)

// ClearAll is the Clear target that removes every finished session.
const ClearAll = "all"

const defaultPageSize = 100

// ErrNotDirectory is wrapped into the filesystem error returned by Start when
// the target exists but is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Event reports that a traversal goroutine returned.
type Event struct {
	ID                 string `json:"session_id"`
	Status             Status `json:"status"`
	Total              int    `json:"total"`
	ScannedDirectories int    `json:"scanned_directories"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// SkipDirs extends DefaultSkipDirs.
	SkipDirs []string
	// DefaultPageSize is used by Results when limit <= 0.
	DefaultPageSize int
	// OnFinish, if set, is called from the traversal goroutine after it
	// returns, outside every lock.
	OnFinish func(Event)
}

// Registry owns every search session of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	skip     SkipList
	pageSize int
	onFinish func(Event)
	now      func() time.Time
	readDir  func(string) ([]os.DirEntry, error)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	pageSize := cfg.DefaultPageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Registry{
		sessions: make(map[string]*Session),
		skip:     NewSkipList(cfg.SkipDirs...),
		pageSize: pageSize,
		onFinish: cfg.OnFinish,
		now:      time.Now,
		readDir:  os.ReadDir,
	}
}

// ResultPage is a live snapshot of one slice of a session's results.
type ResultPage struct {
	ID                 string   `json:"session_id"`
	Directory          string   `json:"directory"`
	Pattern            string   `json:"pattern"`
	Status             Status   `json:"status"`
	IsRunning          bool     `json:"is_running"`
	ScannedDirectories int      `json:"scanned_directories"`
	Total              int      `json:"total"`
	Offset             int      `json:"offset"`
	Limit              int      `json:"limit"`
	Results            []string `json:"results"`
	HasMore            bool     `json:"has_more"`
}

// StopResult is returned by Stop.
type StopResult struct {
	ID             string `json:"session_id"`
	Status         Status `json:"status"`
	AlreadyStopped bool   `json:"already_stopped"`
	Message        string `json:"message"`
}

// SessionInfo is the List view of one session.
type SessionInfo struct {
	ID          string    `json:"session_id"`
	Directory   string    `json:"directory"`
	Pattern     string    `json:"pattern"`
	ResultCount int       `json:"result_count"`
	StartedAt   time.Time `json:"started_at"`
	RuntimeMS   int64     `json:"runtime_ms"`
	IsRunning   bool      `json:"is_running"`
	Status      Status    `json:"status"`
}

// ClearResult is returned by Clear.
type ClearResult struct {
	Cleared int    `json:"cleared"`
	Message string `json:"message"`
}

// Start validates directory, launches a background traversal and returns the
// new session id without waiting for any result.
func (r *Registry) Start(directory, pattern string) (string, error) {
	const op = "search.start"
	if strings.TrimSpace(directory) == "" {
		return "", agenterr.InvalidArgument(op, "directory is required")
	}
	abs, err := filepath.Abs(directory)
	if err != nil {
		return "", agenterr.Filesystem(op, directory, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", agenterr.Filesystem(op, abs, err)
	}
	if !info.IsDir() {
		return "", agenterr.Filesystem(op, abs, ErrNotDirectory)
	}

	now := r.now()
	id, seq := sessionid.New("search", now)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Directory: abs,
		Pattern:   pattern,
		StartedAt: now,
		seq:       seq,
		matcher:   wildcard.Compile(pattern),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusRunning,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	holonlog.Info("search started", "session_id", id, "directory", abs, "pattern", pattern)
	go r.run(ctx, s)
	return id, nil
}

func (r *Registry) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer s.cancel()

	Traverse(ctx, s.Directory, TraverseOptions{
		Matcher: s.matcher,
		Skip:    r.skip,
		ReadDir: r.readDir,
	}, collector{s: s})

	status, total := s.finish(r.now())
	s.mu.Lock()
	scanned := s.scanned
	s.mu.Unlock()

	holonlog.Info("search finished", "session_id", s.ID, "status", status, "results", total, "scanned_directories", scanned)
	if r.onFinish != nil {
		r.onFinish(Event{ID: s.ID, Status: status, Total: total, ScannedDirectories: scanned})
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

// Results returns results[offset:offset+limit] as currently known. While the
// traversal runs, later calls may observe more results.
func (r *Registry) Results(id string, offset, limit int) (ResultPage, error) {
	s, err := r.get("search.results", id)
	if err != nil {
		return ResultPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = r.pageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.results)
	page := []string{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = append(page, s.results[offset:end]...)
	}
	return ResultPage{
		ID:                 s.ID,
		Directory:          s.Directory,
		Pattern:            s.Pattern,
		Status:             s.status,
		IsRunning:          s.status == StatusRunning,
		ScannedDirectories: s.scanned,
		Total:              total,
		Offset:             offset,
		Limit:              limit,
		Results:            page,
		HasMore:            offset+len(page) < total,
	}, nil
}

// Stop requests cancellation. The session reports not running immediately;
// the traversal goroutine observes the request at its next check point.
// Stopping a finished session is not an error.
func (r *Registry) Stop(id string) (StopResult, error) {
	s, err := r.get("search.stop", id)
	if err != nil {
		return StopResult{}, err
	}

	s.mu.Lock()
	if s.status != StatusRunning {
		status := s.status
		s.mu.Unlock()
		return StopResult{
			ID:             id,
			Status:         status,
			AlreadyStopped: true,
			Message:        "search already completed",
		}, nil
	}
	s.status = StatusStopped
	s.finishedAt = r.now()
	found := len(s.results)
	s.mu.Unlock()

	s.cancel()
	holonlog.Info("search stopped", "session_id", id, "results", found)
	return StopResult{
		ID:      id,
		Status:  StatusStopped,
		Message: "search stopped",
	}, nil
}

// List returns every session, running or finished, in creation order.
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
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:          s.ID,
			Directory:   s.Directory,
			Pattern:     s.Pattern,
			ResultCount: len(s.results),
			StartedAt:   s.StartedAt,
			RuntimeMS:   s.runtime(now).Milliseconds(),
			IsRunning:   s.status == StatusRunning,
			Status:      s.status,
		})
		s.mu.Unlock()
	}
	return infos
}

// Clear removes one finished session, or every finished session when target
// is ClearAll. Clearing all succeeds even when nothing qualifies.
func (r *Registry) Clear(target string) (ClearResult, error) {
	const op = "search.clear"
	if strings.TrimSpace(target) == "" {
		return ClearResult{}, agenterr.InvalidArgument(op, "session id or \"all\" is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if target == ClearAll {
		cleared := 0
		for id, s := range r.sessions {
			if s.isRunning() {
				continue
			}
			delete(r.sessions, id)
			cleared++
		}
		holonlog.Debug("search sessions cleared", "count", cleared)
		return ClearResult{Cleared: cleared, Message: clearMessage(cleared)}, nil
	}

	s, ok := r.sessions[target]
	if !ok {
		return ClearResult{}, agenterr.NotFound(op, target)
	}
	if s.isRunning() {
		return ClearResult{}, agenterr.InvalidState(op, target, "search is still running, stop it first")
	}
	delete(r.sessions, target)
	return ClearResult{Cleared: 1, Message: clearMessage(1)}, nil
}

func clearMessage(n int) string {
	switch n {
	case 0:
		return "no completed searches to clear"
	case 1:
		return "cleared 1 search"
	default:
		return fmt.Sprintf("cleared %d searches", n)
	}
}

// Wait blocks until the session's traversal goroutine has returned or ctx
// is done.
func (r *Registry) Wait(ctx context.Context, id string) error {
	s, err := r.get("search.wait", id)
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

// Shutdown stops every running search.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_, _ = r.Stop(id)
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
