package serve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestServeStdio(t *testing.T) {
	a := newTestAgent(t, nil)
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"search/list"}`,
		``,
		`{"jsonrpc":"2.0","method":"search/list"}`,
		`garbage`,
		`{"jsonrpc":"2.0","id":2,"method":"nope"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := ServeStdio(context.Background(), strings.NewReader(in), &out, a.methods, nil); err != nil {
		t.Fatalf("ServeStdio() error = %v", err)
	}

	var frames []JSONRPCResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp JSONRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad output line %q: %v", scanner.Text(), err)
		}
		frames = append(frames, resp)
	}

	if len(frames) != 3 {
		t.Fatalf("got %d response lines, want 3 (notification gets none)", len(frames))
	}
	if frames[0].ID != float64(1) || frames[0].Error != nil {
		t.Errorf("frame 0 = %+v, want result for id 1", frames[0])
	}
	if frames[1].ID != nil || frames[1].Error == nil || frames[1].Error.Code != ErrCodeParseError {
		t.Errorf("frame 1 = %+v, want parse error with null id", frames[1])
	}
	if frames[2].ID != float64(2) || frames[2].Error == nil || frames[2].Error.Code != ErrCodeMethodNotFound {
		t.Errorf("frame 2 = %+v, want method not found for id 2", frames[2])
	}
}

func TestServeStdioCancellation(t *testing.T) {
	a := newTestAgent(t, nil)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ServeStdio(ctx, pr, io.Discard, a.methods, NewNotificationBroadcaster()) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ServeStdio() error = %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("ServeStdio() did not return after cancellation")
	}
}
