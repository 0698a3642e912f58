// Package client is a JSON-RPC client for a running localagent server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
	"github.com/holon-run/localagent/pkg/serve"
)

// DefaultTimeout bounds one request round trip.
const DefaultTimeout = 10 * time.Second

// RPCClient calls methods on a server's /rpc endpoint.
type RPCClient struct {
	rpcURL string
	client *http.Client
	newID  func() string
}

// NewRPCClient creates a client for rpcURL, e.g. http://127.0.0.1:7300/rpc.
func NewRPCClient(rpcURL string) *RPCClient {
	return &RPCClient{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: DefaultTimeout},
		newID:  uuid.NewString,
	}
}

// SetTimeout updates the per-request timeout.
func (c *RPCClient) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.client.Timeout = timeout
}

// RPCError is an error response returned by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (code %d): %s", e.Code, e.Message)
}

// Kind returns the error kind the server attached, if any.
func (e *RPCError) Kind() string {
	var data struct {
		Kind string `json:"kind"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &data) != nil {
		return ""
	}
	return data.Kind
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// CallRaw sends one request with already encoded params and returns the raw
// result. A server error is returned as *RPCError.
func (c *RPCClient) CallRaw(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		params = json.RawMessage("null")
	}
	bodyBytes, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      c.newID(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc call failed: http status %d", resp.StatusCode)
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Call sends one request and decodes the result into result, if non-nil.
func (c *RPCClient) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}
	res, err := c.CallRaw(ctx, method, raw)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(res, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

// Status calls agent/status.
func (c *RPCClient) Status(ctx context.Context) (*serve.StatusResponse, error) {
	var resp serve.StatusResponse
	if err := c.Call(ctx, "agent/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartSearch calls search/start.
func (c *RPCClient) StartSearch(ctx context.Context, directory, pattern string) (string, error) {
	var resp serve.SearchStartResponse
	err := c.Call(ctx, "search/start", serve.SearchStartRequest{Directory: directory, Pattern: pattern}, &resp)
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// SearchResults calls search/results.
func (c *RPCClient) SearchResults(ctx context.Context, id string, offset, limit int) (*search.ResultPage, error) {
	req := serve.SearchResultsRequest{SessionID: id, Offset: offset}
	if limit > 0 {
		req.Limit = &limit
	}
	var page search.ResultPage
	if err := c.Call(ctx, "search/results", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListSearches calls search/list.
func (c *RPCClient) ListSearches(ctx context.Context) ([]search.SessionInfo, error) {
	var resp serve.SearchListResponse
	if err := c.Call(ctx, "search/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// StopSearch calls search/stop.
func (c *RPCClient) StopSearch(ctx context.Context, id string) (*search.StopResult, error) {
	var resp search.StopResult
	if err := c.Call(ctx, "search/stop", serve.SessionRequest{SessionID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProcesses calls process/list.
func (c *RPCClient) ListProcesses(ctx context.Context) ([]procsession.SessionInfo, error) {
	var resp serve.ProcessListResponse
	if err := c.Call(ctx, "process/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// CloseProcess calls process/close.
func (c *RPCClient) CloseProcess(ctx context.Context, id string, force bool) (*procsession.CloseResult, error) {
	var resp procsession.CloseResult
	if err := c.Call(ctx, "process/close", serve.ProcessCloseRequest{SessionID: id, Force: force}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
