package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/holon-run/localagent/pkg/agenterr"
)

// JSON-RPC 2.0 envelope types.
// See: https://www.jsonrpc.org/specification

// JSONRPCRequest represents a JSON-RPC 2.0 request object
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response object
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Server-defined error codes for session operations.
const (
	ErrCodeNotFound     = -32001
	ErrCodeInvalidState = -32002
	ErrCodeFilesystem   = -32003
)

// Standard error messages
const (
	ErrMsgParseError     = "Parse error"
	ErrMsgInvalidRequest = "Invalid Request"
	ErrMsgMethodNotFound = "Method not found"
	ErrMsgInvalidParams  = "Invalid params"
	ErrMsgInternalError  = "Internal error"
)

// NewJSONRPCError creates a new JSON-RPC error with the given code and message
func NewJSONRPCError(code int, message string) *JSONRPCError {
	return &JSONRPCError{
		Code:    code,
		Message: message,
	}
}

// NewJSONRPCErrorWithData creates a new JSON-RPC error with additional data
func NewJSONRPCErrorWithData(code int, message string, data interface{}) (*JSONRPCError, error) {
	rpcErr := &JSONRPCError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		rawData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
		rpcErr.Data = json.RawMessage(rawData)
	}
	return rpcErr, nil
}

func newInvalidParamFieldError(field string, reason string) *JSONRPCError {
	rpcErr, err := NewJSONRPCErrorWithData(ErrCodeInvalidParams, reason, map[string]string{
		"kind":   string(agenterr.KindInvalidArgument),
		"field":  field,
		"reason": reason,
	})
	if err != nil {
		return NewJSONRPCError(ErrCodeInvalidParams, reason)
	}
	return rpcErr
}

// errorFromAgentErr maps a registry error onto its wire code. The error kind
// is always carried in data.
func errorFromAgentErr(err error) *JSONRPCError {
	kind := agenterr.KindOf(err)
	code := ErrCodeInternalError
	switch kind {
	case agenterr.KindNotFound:
		code = ErrCodeNotFound
	case agenterr.KindInvalidState:
		code = ErrCodeInvalidState
	case agenterr.KindFilesystem:
		code = ErrCodeFilesystem
	case agenterr.KindInvalidArgument:
		code = ErrCodeInvalidParams
	}

	data := map[string]string{"kind": string(kind)}
	var ae *agenterr.Error
	if errors.As(err, &ae) && ae.Subject != "" {
		data["subject"] = ae.Subject
	}
	rpcErr, marshalErr := NewJSONRPCErrorWithData(code, err.Error(), data)
	if marshalErr != nil {
		return NewJSONRPCError(code, err.Error())
	}
	return rpcErr
}

// decodeParams unmarshals params into v. Absent or null params leave v as is.
func decodeParams(params json.RawMessage, v interface{}) *JSONRPCError {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewJSONRPCError(ErrCodeInvalidParams, fmt.Sprintf("invalid params: %s", err))
	}
	return nil
}

// MethodHandler is a function that handles a JSON-RPC method call
type MethodHandler func(params json.RawMessage) (interface{}, *JSONRPCError)

// MethodRegistry holds registered JSON-RPC methods
type MethodRegistry struct {
	methods map[string]MethodHandler
}

// NewMethodRegistry creates a new method registry
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		methods: make(map[string]MethodHandler),
	}
}

// RegisterMethod registers a new method handler
func (r *MethodRegistry) RegisterMethod(name string, handler MethodHandler) {
	r.methods[name] = handler
}

// Methods returns the registered method names, sorted.
func (r *MethodRegistry) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch calls the appropriate method handler based on the method name
func (r *MethodRegistry) Dispatch(method string, params json.RawMessage) (interface{}, *JSONRPCError) {
	handler, ok := r.methods[method]
	if !ok {
		return nil, NewJSONRPCError(ErrCodeMethodNotFound, ErrMsgMethodNotFound)
	}
	return handler(params)
}

// HandleMessage parses one encoded request, dispatches it and returns the
// response. The second result is false for notifications, which get no
// response.
func (r *MethodRegistry) HandleMessage(data []byte) (JSONRPCResponse, bool) {
	req, rpcErr := ParseJSONRPCRequest(data)
	if rpcErr != nil {
		return newResponse(nil, nil, rpcErr), true
	}
	result, rpcErr := r.Dispatch(req.Method, req.Params)
	if req.ID == nil {
		return JSONRPCResponse{}, false
	}
	return newResponse(req.ID, result, rpcErr), true
}

func newResponse(id interface{}, result interface{}, rpcErr *JSONRPCError) JSONRPCResponse {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
	}
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	rawResult, err := json.Marshal(result)
	if err != nil {
		resp.Error = NewJSONRPCError(ErrCodeInternalError, ErrMsgInternalError)
		return resp
	}
	resp.Result = json.RawMessage(rawResult)
	return resp
}

// ValidateJSONRPCRequest validates a JSON-RPC request envelope
func ValidateJSONRPCRequest(req *JSONRPCRequest) *JSONRPCError {
	if req.JSONRPC != "2.0" {
		return NewJSONRPCError(ErrCodeInvalidRequest, "jsonrpc version must be '2.0'")
	}
	if req.Method == "" {
		return NewJSONRPCError(ErrCodeInvalidRequest, "method is required")
	}
	return nil
}

// ParseJSONRPCRequest parses a JSON-RPC request from a byte slice
func ParseJSONRPCRequest(data []byte) (*JSONRPCRequest, *JSONRPCError) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewJSONRPCError(ErrCodeParseError, ErrMsgParseError)
	}
	if validationErr := ValidateJSONRPCRequest(&req); validationErr != nil {
		return nil, validationErr
	}
	return &req, nil
}

// WriteJSONRPCResponse writes a JSON-RPC response to the HTTP response writer
func WriteJSONRPCResponse(w http.ResponseWriter, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// ReadJSONRPCRequest reads the raw body of an HTTP JSON-RPC request.
func ReadJSONRPCRequest(r *http.Request) ([]byte, *JSONRPCError) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, NewJSONRPCError(ErrCodeParseError, "failed to read request body")
	}
	if len(body) == 0 {
		return nil, NewJSONRPCError(ErrCodeInvalidRequest, "empty request body")
	}
	return body, nil
}
