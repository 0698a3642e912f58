package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	holonlog "github.com/holon-run/localagent/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr        string
	Methods     *MethodRegistry
	Broadcaster *NotificationBroadcaster
}

// HTTPServer serves JSON-RPC on /rpc and /ws plus a /health probe.
type HTTPServer struct {
	server      *http.Server
	methods     *MethodRegistry
	broadcaster *NotificationBroadcaster
	upgrader    websocket.Upgrader
	now         func() time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[*wsConn]struct{}
}

// NewHTTPServer creates the HTTP transport. It does not listen yet.
func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Methods == nil {
		return nil, fmt.Errorf("method registry is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewNotificationBroadcaster()
	}

	hs := &HTTPServer{
		methods:     cfg.Methods,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		now:   time.Now,
		conns: make(map[*wsConn]struct{}),
	}
	hs.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not track hijacked connections.
	hs.server.RegisterOnShutdown(hs.closeWebSockets)
	return hs, nil
}

// Handler returns the route table.
func (hs *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", hs.handleRPC)
	mux.HandleFunc("/ws", hs.handleWebSocket)
	mux.HandleFunc("/health", hs.handleHealth)
	return mux
}

// Addr returns the bound address once Start is listening, else the
// configured one.
func (hs *HTTPServer) Addr() string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.listener != nil {
		return hs.listener.Addr().String()
	}
	return hs.server.Addr
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (hs *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", hs.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", hs.server.Addr, err)
	}
	hs.mu.Lock()
	hs.listener = ln
	hs.mu.Unlock()

	holonlog.Info("rpc server listening", "addr", ln.Addr().String(), "paths", "/rpc,/ws,/health")

	errChan := make(chan error, 1)
	go func() {
		if err := hs.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("rpc server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		holonlog.Info("shutting down rpc server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = hs.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

func (hs *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, rpcErr := ReadJSONRPCRequest(r)
	if rpcErr != nil {
		WriteJSONRPCResponse(w, newResponse(nil, nil, rpcErr))
		return
	}
	resp, ok := hs.methods.HandleMessage(body)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSONRPCResponse(w, resp)
}

func (hs *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   hs.now().UTC().Format(time.RFC3339Nano),
	})
}
