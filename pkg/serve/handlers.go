package serve

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
)

const defaultMaxPageSize = 1000

// Service exposes the search and process registries as JSON-RPC methods.
type Service struct {
	searches    *search.Registry
	processes   *procsession.Registry
	maxPageSize int
	version     string
	startedAt   time.Time
	now         func() time.Time
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Searches    *search.Registry
	Processes   *procsession.Registry
	MaxPageSize int
	Version     string
}

// NewService creates a Service over existing registries.
func NewService(cfg ServiceConfig) *Service {
	maxPage := cfg.MaxPageSize
	if maxPage <= 0 {
		maxPage = defaultMaxPageSize
	}
	return &Service{
		searches:    cfg.Searches,
		processes:   cfg.Processes,
		maxPageSize: maxPage,
		version:     cfg.Version,
		startedAt:   time.Now(),
		now:         time.Now,
	}
}

// Register adds every session method to reg.
func (s *Service) Register(reg *MethodRegistry) {
	reg.RegisterMethod("search/start", s.HandleSearchStart)
	reg.RegisterMethod("search/results", s.HandleSearchResults)
	reg.RegisterMethod("search/stop", s.HandleSearchStop)
	reg.RegisterMethod("search/list", s.HandleSearchList)
	reg.RegisterMethod("search/clear", s.HandleSearchClear)

	reg.RegisterMethod("process/start", s.HandleProcessStart)
	reg.RegisterMethod("process/write", s.HandleProcessWrite)
	reg.RegisterMethod("process/read", s.HandleProcessRead)
	reg.RegisterMethod("process/list", s.HandleProcessList)
	reg.RegisterMethod("process/close", s.HandleProcessClose)

	reg.RegisterMethod("agent/status", s.HandleStatus)
}

// SearchStartRequest is the params object of search/start.
type SearchStartRequest struct {
	Directory string `json:"directory"`
	Pattern   string `json:"pattern"`
}

// SearchStartResponse is the result of search/start.
type SearchStartResponse struct {
	SessionID string `json:"session_id"`
}

// SearchResultsRequest is the params object of search/results.
type SearchResultsRequest struct {
	SessionID string `json:"session_id"`
	Offset    int    `json:"offset"`
	Limit     *int   `json:"limit,omitempty"`
}

// SessionRequest carries only a session id.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// SearchClearRequest is the params object of search/clear.
type SearchClearRequest struct {
	Target string `json:"target"`
}

// SearchListResponse is the result of search/list.
type SearchListResponse struct {
	Sessions []search.SessionInfo `json:"sessions"`
}

// ProcessStartRequest is the params object of process/start.
type ProcessStartRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

// ProcessWriteRequest is the params object of process/write.
type ProcessWriteRequest struct {
	SessionID     string `json:"session_id"`
	Input         string `json:"input"`
	AppendNewline *bool  `json:"append_newline,omitempty"`
}

// ProcessReadRequest is the params object of process/read.
type ProcessReadRequest struct {
	SessionID string `json:"session_id"`
	Clear     bool   `json:"clear,omitempty"`
}

// ProcessCloseRequest is the params object of process/close.
type ProcessCloseRequest struct {
	SessionID string `json:"session_id"`
	Force     bool   `json:"force,omitempty"`
}

// ProcessListResponse is the result of process/list.
type ProcessListResponse struct {
	Sessions []procsession.SessionInfo `json:"sessions"`
}

// StatusResponse is the result of agent/status.
type StatusResponse struct {
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	Uptime           string    `json:"uptime"`
	SearchesRunning  int       `json:"searches_running"`
	SearchesTotal    int       `json:"searches_total"`
	ProcessesRunning int       `json:"processes_running"`
	ProcessesTotal   int       `json:"processes_total"`
}

func requireSessionID(id string) *JSONRPCError {
	if strings.TrimSpace(id) == "" {
		return newInvalidParamFieldError("session_id", "session_id is required")
	}
	return nil
}

// HandleSearchStart is the JSON-RPC handler for search/start
func (s *Service) HandleSearchStart(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req SearchStartRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(req.Directory) == "" {
		return nil, newInvalidParamFieldError("directory", "directory is required")
	}
	if req.Pattern == "" {
		return nil, newInvalidParamFieldError("pattern", "pattern is required")
	}

	id, err := s.searches.Start(req.Directory, req.Pattern)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return SearchStartResponse{SessionID: id}, nil
}

// HandleSearchResults is the JSON-RPC handler for search/results
func (s *Service) HandleSearchResults(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req SearchResultsRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSessionID(req.SessionID); rpcErr != nil {
		return nil, rpcErr
	}
	if req.Offset < 0 {
		return nil, newInvalidParamFieldError("offset", "offset must be >= 0")
	}
	limit := 0
	if req.Limit != nil {
		limit = *req.Limit
		if limit < 1 || limit > s.maxPageSize {
			return nil, newInvalidParamFieldError("limit", fmt.Sprintf("limit must be between 1 and %d", s.maxPageSize))
		}
	}

	page, err := s.searches.Results(req.SessionID, req.Offset, limit)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return page, nil
}

// HandleSearchStop is the JSON-RPC handler for search/stop
func (s *Service) HandleSearchStop(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req SessionRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSessionID(req.SessionID); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.searches.Stop(req.SessionID)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleSearchList is the JSON-RPC handler for search/list
func (s *Service) HandleSearchList(params json.RawMessage) (interface{}, *JSONRPCError) {
	return SearchListResponse{Sessions: s.searches.List()}, nil
}

// HandleSearchClear is the JSON-RPC handler for search/clear
func (s *Service) HandleSearchClear(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req SearchClearRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(req.Target) == "" {
		return nil, newInvalidParamFieldError("target", `target must be a session id or "all"`)
	}
	res, err := s.searches.Clear(req.Target)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleProcessStart is the JSON-RPC handler for process/start
func (s *Service) HandleProcessStart(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req ProcessStartRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, newInvalidParamFieldError("command", "command is required")
	}
	res, err := s.processes.Start(req.Command, req.Args, req.Cwd)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleProcessWrite is the JSON-RPC handler for process/write
func (s *Service) HandleProcessWrite(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req ProcessWriteRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSessionID(req.SessionID); rpcErr != nil {
		return nil, rpcErr
	}
	appendNewline := true
	if req.AppendNewline != nil {
		appendNewline = *req.AppendNewline
	}
	res, err := s.processes.Write(req.SessionID, req.Input, appendNewline)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleProcessRead is the JSON-RPC handler for process/read
func (s *Service) HandleProcessRead(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req ProcessReadRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSessionID(req.SessionID); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.processes.Read(req.SessionID, req.Clear)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleProcessList is the JSON-RPC handler for process/list
func (s *Service) HandleProcessList(params json.RawMessage) (interface{}, *JSONRPCError) {
	return ProcessListResponse{Sessions: s.processes.List()}, nil
}

// HandleProcessClose is the JSON-RPC handler for process/close
func (s *Service) HandleProcessClose(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req ProcessCloseRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireSessionID(req.SessionID); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.processes.Close(req.SessionID, req.Force)
	if err != nil {
		return nil, errorFromAgentErr(err)
	}
	return res, nil
}

// HandleStatus is the JSON-RPC handler for agent/status
func (s *Service) HandleStatus(params json.RawMessage) (interface{}, *JSONRPCError) {
	searchesRunning, searchesTotal := s.searches.Counts()
	procsRunning, procsTotal := s.processes.Counts()
	return StatusResponse{
		Version:          s.version,
		StartedAt:        s.startedAt,
		Uptime:           s.now().Sub(s.startedAt).Round(time.Second).String(),
		SearchesRunning:  searchesRunning,
		SearchesTotal:    searchesTotal,
		ProcessesRunning: procsRunning,
		ProcessesTotal:   procsTotal,
	}, nil
}
