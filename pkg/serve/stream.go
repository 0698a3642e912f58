package serve

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
)

// NotificationWriter is a connection that accepts server notifications.
type NotificationWriter interface {
	WriteNotification(n Notification) error
}

// StreamWriter writes NDJSON frames (responses and notifications) to w.
type StreamWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher interface{ Flush() }
	closed  bool
}

// NewStreamWriter creates a new stream writer for NDJSON streaming
func NewStreamWriter(w io.Writer) *StreamWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	sw := &StreamWriter{enc: enc}
	if f, ok := w.(interface{ Flush() }); ok {
		sw.flusher = f
	}
	return sw
}

func (sw *StreamWriter) write(v interface{}) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return fmt.Errorf("stream writer is closed")
	}
	if err := sw.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteResponse writes one response frame.
func (sw *StreamWriter) WriteResponse(resp JSONRPCResponse) error {
	return sw.write(resp)
}

// WriteNotification writes one notification frame.
func (sw *StreamWriter) WriteNotification(n Notification) error {
	return sw.write(n)
}

// Close marks the writer closed; later writes fail.
func (sw *StreamWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}

// NotificationBroadcaster fans notifications out to every subscribed
// connection. A subscriber whose write fails is dropped.
type NotificationBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[NotificationWriter]struct{}
}

// NewNotificationBroadcaster creates a new notification broadcaster
func NewNotificationBroadcaster() *NotificationBroadcaster {
	return &NotificationBroadcaster{
		subscribers: make(map[NotificationWriter]struct{}),
	}
}

// Subscribe adds w and returns its unsubscribe function.
func (nb *NotificationBroadcaster) Subscribe(w NotificationWriter) func() {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	nb.subscribers[w] = struct{}{}
	return func() {
		nb.Unsubscribe(w)
	}
}

// Unsubscribe removes a subscriber
func (nb *NotificationBroadcaster) Unsubscribe(w NotificationWriter) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	delete(nb.subscribers, w)
}

// Len returns the number of subscribers.
func (nb *NotificationBroadcaster) Len() int {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return len(nb.subscribers)
}

func (nb *NotificationBroadcaster) snapshotSubscribers() []NotificationWriter {
	nb.mu.RLock()
	defer nb.mu.RUnlock()

	out := make([]NotificationWriter, 0, len(nb.subscribers))
	for w := range nb.subscribers {
		out = append(out, w)
	}
	return out
}

func (nb *NotificationBroadcaster) broadcast(n Notification) {
	for _, w := range nb.snapshotSubscribers() {
		if err := w.WriteNotification(n); err != nil {
			holonlog.Debug("dropping notification subscriber", "method", n.Method, "error", err)
			nb.Unsubscribe(w)
		}
	}
}

// SearchFinished broadcasts a search/completed notification. It matches the
// search registry's OnFinish hook.
func (nb *NotificationBroadcaster) SearchFinished(e search.Event) {
	n, err := NewSearchCompletedNotification(e).ToJSONRPCNotification()
	if err != nil {
		return
	}
	nb.broadcast(n)
}

// ProcessExited broadcasts a process/exited notification. It matches the
// process registry's OnExit hook.
func (nb *NotificationBroadcaster) ProcessExited(e procsession.ExitEvent) {
	n, err := NewProcessExitedNotification(e).ToJSONRPCNotification()
	if err != nil {
		return
	}
	nb.broadcast(n)
}
