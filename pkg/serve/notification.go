package serve

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
)

// Notification is a server-initiated JSON-RPC message; it has no id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Notification methods
const (
	MethodSearchCompleted = "search/completed"
	MethodProcessExited   = "process/exited"
)

// SearchCompletedNotification announces that a traversal goroutine returned.
type SearchCompletedNotification struct {
	SessionID          string `json:"session_id"`
	Status             string `json:"status"`
	Total              int    `json:"total"`
	ScannedDirectories int    `json:"scanned_directories"`
	Timestamp          string `json:"timestamp"`
}

// ProcessExitedNotification announces that a process session ended.
type ProcessExitedNotification struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
	Entry     string `json:"entry"`
	Timestamp string `json:"timestamp"`
}

// NewSearchCompletedNotification builds the notification for a finished search.
func NewSearchCompletedNotification(e search.Event) SearchCompletedNotification {
	return SearchCompletedNotification{
		SessionID:          e.ID,
		Status:             string(e.Status),
		Total:              e.Total,
		ScannedDirectories: e.ScannedDirectories,
		Timestamp:          time.Now().Format(time.RFC3339),
	}
}

// NewProcessExitedNotification builds the notification for an ended process.
func NewProcessExitedNotification(e procsession.ExitEvent) ProcessExitedNotification {
	return ProcessExitedNotification{
		SessionID: e.ID,
		ExitCode:  e.ExitCode,
		Entry:     e.Entry,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func newNotification(method string, params interface{}) (Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to marshal %s notification: %w", method, err)
	}
	return Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
	}, nil
}

// ToJSONRPCNotification converts a SearchCompletedNotification to a JSON-RPC notification
func (n SearchCompletedNotification) ToJSONRPCNotification() (Notification, error) {
	return newNotification(MethodSearchCompleted, n)
}

// ToJSONRPCNotification converts a ProcessExitedNotification to a JSON-RPC notification
func (n ProcessExitedNotification) ToJSONRPCNotification() (Notification, error) {
	return newNotification(MethodProcessExited, n)
}
