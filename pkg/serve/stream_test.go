package serve

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
)

type failingWriter struct{}

func (failingWriter) WriteNotification(Notification) error { return errors.New("gone") }

func TestBroadcasterFanOut(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf)
	b := NewNotificationBroadcaster()
	unsubscribe := b.Subscribe(sw)
	b.Subscribe(failingWriter{})

	b.SearchFinished(search.Event{ID: "search_1_1", Status: search.StatusStopped, Total: 4, ScannedDirectories: 2})
	if b.Len() != 1 {
		t.Errorf("Len() = %d after failed write, want 1", b.Len())
	}
	b.ProcessExited(procsession.ExitEvent{ID: "proc_1_2", ExitCode: 3, Entry: "[process exited with code 3]"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d frames, want 2: %q", len(lines), buf.String())
	}

	var first Notification
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if first.Method != MethodSearchCompleted {
		t.Errorf("method = %s, want %s", first.Method, MethodSearchCompleted)
	}
	var params SearchCompletedNotification
	if err := json.Unmarshal(first.Params, &params); err != nil {
		t.Fatalf("bad params: %v", err)
	}
	if params.SessionID != "search_1_1" || params.Status != "stopped" || params.Total != 4 {
		t.Errorf("params = %+v", params)
	}

	var second Notification
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if second.Method != MethodProcessExited || !strings.Contains(string(second.Params), `"exit_code":3`) {
		t.Errorf("second frame = %s", lines[1])
	}

	unsubscribe()
	if b.Len() != 0 {
		t.Errorf("Len() = %d after unsubscribe, want 0", b.Len())
	}
}

func TestStreamWriterClosed(t *testing.T) {
	sw := NewStreamWriter(&bytes.Buffer{})
	_ = sw.Close()
	if err := sw.WriteResponse(JSONRPCResponse{JSONRPC: "2.0"}); err == nil {
		t.Error("WriteResponse() after Close succeeded, want error")
	}
}
