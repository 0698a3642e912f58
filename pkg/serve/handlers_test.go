package serve

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
)

type testAgent struct {
	methods   *MethodRegistry
	searches  *search.Registry
	processes *procsession.Registry
}

func newTestAgent(t *testing.T, b *NotificationBroadcaster) *testAgent {
	t.Helper()
	searchCfg := search.RegistryConfig{}
	procCfg := procsession.Config{}
	if b != nil {
		searchCfg.OnFinish = b.SearchFinished
		procCfg.OnExit = b.ProcessExited
	}
	a := &testAgent{
		methods:   NewMethodRegistry(),
		searches:  search.NewRegistry(searchCfg),
		processes: procsession.NewRegistry(procCfg),
	}
	NewService(ServiceConfig{
		Searches:    a.searches,
		Processes:   a.processes,
		MaxPageSize: 50,
		Version:     "test",
	}).Register(a.methods)
	t.Cleanup(func() {
		a.searches.Shutdown()
		a.processes.Shutdown()
	})
	return a
}

func (a *testAgent) call(t *testing.T, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, ok := a.methods.HandleMessage(data)
	if !ok {
		t.Fatalf("%s produced no response", method)
	}
	return resp
}

func decodeResult(t *testing.T, resp JSONRPCResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, v); err != nil {
		t.Fatalf("failed to decode result %s: %v", resp.Result, err)
	}
}

func errorKind(t *testing.T, rpcErr *JSONRPCError) (string, string) {
	t.Helper()
	var data map[string]string
	if err := json.Unmarshal(rpcErr.Data, &data); err != nil {
		t.Fatalf("failed to decode error data %s: %v", rpcErr.Data, err)
	}
	return data["kind"], data["field"]
}

func TestSearchMethods(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.ts", "b.ts", "c.js"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	a := newTestAgent(t, nil)

	var started SearchStartResponse
	decodeResult(t, a.call(t, "search/start", SearchStartRequest{Directory: root, Pattern: "*.ts"}), &started)
	if started.SessionID == "" {
		t.Fatal("search/start returned an empty session_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.searches.Wait(ctx, started.SessionID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	var page search.ResultPage
	decodeResult(t, a.call(t, "search/results", map[string]interface{}{"session_id": started.SessionID, "limit": 1}), &page)
	if page.Total != 2 || len(page.Results) != 1 || !page.HasMore || page.IsRunning {
		t.Errorf("search/results = %+v, want 1 of 2 results with more", page)
	}

	var stop search.StopResult
	decodeResult(t, a.call(t, "search/stop", SessionRequest{SessionID: started.SessionID}), &stop)
	if !stop.AlreadyStopped {
		t.Errorf("search/stop on finished search = %+v, want already_stopped", stop)
	}

	var list SearchListResponse
	decodeResult(t, a.call(t, "search/list", nil), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ResultCount != 2 {
		t.Errorf("search/list = %+v, want one session with 2 results", list)
	}

	var cleared search.ClearResult
	decodeResult(t, a.call(t, "search/clear", SearchClearRequest{Target: search.ClearAll}), &cleared)
	if cleared.Cleared != 1 {
		t.Errorf("search/clear cleared %d, want 1", cleared.Cleared)
	}

	var status StatusResponse
	decodeResult(t, a.call(t, "agent/status", nil), &status)
	if status.Version != "test" || status.SearchesTotal != 0 {
		t.Errorf("agent/status = %+v, want version test and no searches", status)
	}
}

func TestParamValidation(t *testing.T) {
	root := t.TempDir()
	a := newTestAgent(t, nil)

	tests := []struct {
		name      string
		method    string
		params    interface{}
		wantField string
	}{
		{"start without directory", "search/start", map[string]string{"pattern": "*"}, "directory"},
		{"start without pattern", "search/start", map[string]string{"directory": root}, "pattern"},
		{"results without id", "search/results", map[string]int{"offset": 0}, "session_id"},
		{"results negative offset", "search/results", map[string]interface{}{"session_id": "x", "offset": -1}, "offset"},
		{"results zero limit", "search/results", map[string]interface{}{"session_id": "x", "limit": 0}, "limit"},
		{"results limit above max", "search/results", map[string]interface{}{"session_id": "x", "limit": 51}, "limit"},
		{"stop without id", "search/stop", nil, "session_id"},
		{"clear without target", "search/clear", map[string]string{}, "target"},
		{"process start without command", "process/start", map[string]string{"cwd": root}, "command"},
		{"process write without id", "process/write", map[string]string{"input": "x"}, "session_id"},
		{"process read without id", "process/read", nil, "session_id"},
		{"process close without id", "process/close", map[string]bool{"force": true}, "session_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.call(t, tt.method, tt.params)
			if resp.Error == nil {
				t.Fatalf("%s succeeded, want invalid params", tt.method)
			}
			if resp.Error.Code != ErrCodeInvalidParams {
				t.Errorf("Code = %d, want %d", resp.Error.Code, ErrCodeInvalidParams)
			}
			kind, field := errorKind(t, resp.Error)
			if kind != "invalid_argument" || field != tt.wantField {
				t.Errorf("data kind=%q field=%q, want invalid_argument/%s", kind, field, tt.wantField)
			}
		})
	}
}

func TestMalformedParams(t *testing.T) {
	a := newTestAgent(t, nil)
	resp, _ := a.methods.HandleMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"search/start","params":[1,2]}`))
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("array params error = %+v, want invalid params", resp.Error)
	}
}

func TestRegistryErrorCodes(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	a := newTestAgent(t, nil)

	tests := []struct {
		name     string
		method   string
		params   interface{}
		wantCode int
		wantKind string
	}{
		{"unknown search", "search/results", SessionRequest{SessionID: "search_1_1"}, ErrCodeNotFound, "not_found"},
		{"unknown clear target", "search/clear", SearchClearRequest{Target: "search_1_1"}, ErrCodeNotFound, "not_found"},
		{"search on file", "search/start", SearchStartRequest{Directory: file, Pattern: "*"}, ErrCodeFilesystem, "filesystem"},
		{"search on missing dir", "search/start", SearchStartRequest{Directory: filepath.Join(root, "nope"), Pattern: "*"}, ErrCodeFilesystem, "filesystem"},
		{"unknown process read", "process/read", ProcessReadRequest{SessionID: "proc_1_1"}, ErrCodeNotFound, "not_found"},
		{"unknown process close", "process/close", ProcessCloseRequest{SessionID: "proc_1_1"}, ErrCodeNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.call(t, tt.method, tt.params)
			if resp.Error == nil {
				t.Fatalf("%s succeeded, want error", tt.method)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", resp.Error.Code, tt.wantCode)
			}
			if kind, _ := errorKind(t, resp.Error); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestProcessMethods(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	a := newTestAgent(t, nil)

	var started procsession.StartResult
	decodeResult(t, a.call(t, "process/start", ProcessStartRequest{Command: "sh", Args: []string{"-c", "read line; echo got:$line"}}), &started)
	if started.ID == "" || started.PID <= 0 {
		t.Fatalf("process/start = %+v, want id and pid", started)
	}

	var written procsession.WriteResult
	decodeResult(t, a.call(t, "process/write", map[string]interface{}{"session_id": started.ID, "input": "hi"}), &written)
	if written.BytesWritten != 3 {
		t.Errorf("bytes_written = %d, want 3 (newline appended by default)", written.BytesWritten)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.processes.Wait(ctx, started.ID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	var out procsession.ReadResult
	decodeResult(t, a.call(t, "process/read", ProcessReadRequest{SessionID: started.ID}), &out)
	if out.IsRunning || out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("process/read = %+v, want exited with code 0", out)
	}
	if want := "got:hi\n[process exited with code 0]"; out.Output != want {
		t.Errorf("output = %q, want %q", out.Output, want)
	}

	resp := a.call(t, "process/write", ProcessWriteRequest{SessionID: started.ID, Input: "late"})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidState {
		t.Errorf("process/write after exit error = %+v, want invalid state", resp.Error)
	}

	var list ProcessListResponse
	decodeResult(t, a.call(t, "process/list", nil), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].Command != "sh" {
		t.Errorf("process/list = %+v, want the sh session", list)
	}

	var closed procsession.CloseResult
	decodeResult(t, a.call(t, "process/close", ProcessCloseRequest{SessionID: started.ID, Force: true}), &closed)
	decodeResult(t, a.call(t, "process/list", nil), &list)
	if len(list.Sessions) != 0 {
		t.Errorf("process/list after close = %+v, want empty", list)
	}
}
