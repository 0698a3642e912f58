package serve

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	holonlog "github.com/holon-run/localagent/pkg/log"
)

const maxStdioLine = 4 << 20

// ServeStdio handles NDJSON JSON-RPC over a reader/writer pair: one request
// per input line, one response per output line. Notifications from b are
// interleaved on the same output. It returns nil when in reaches EOF and
// ctx.Err() when ctx is cancelled first.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer, methods *MethodRegistry, b *NotificationBroadcaster) error {
	writer := NewStreamWriter(out)
	defer writer.Close()
	if b != nil {
		unsubscribe := b.Subscribe(writer)
		defer unsubscribe()
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxStdioLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	holonlog.Info("stdio transport ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("error reading stdin: %w", err)
			}
			holonlog.Info("stdio transport reached end of input")
			return nil
		case line := <-lines:
			resp, ok := methods.HandleMessage(line)
			if !ok {
				continue
			}
			if err := writer.WriteResponse(resp); err != nil {
				return err
			}
		}
	}
}
