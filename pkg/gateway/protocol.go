package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Error codes. The -32000 range is ours.
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
	ShuttingDown           = -32002
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
)

// RPCRequest is a JSON-RPC 2.0 request. IdempotencyKey sits on the
// envelope so a retried frame can be recognised before its params are read.
type RPCRequest struct {
	JSONRPC        string                 `json:"jsonrpc"`
	ID             string                 `json:"id"`
	Method         string                 `json:"method"`
	Params         map[string]interface{} `json:"params,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

// RPCResponse carries either Result or Error
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is both the wire error object and the error a method handler
// returns to pick its code.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// RequestHandler serves one method. Returning an *RPCError keeps its code;
// any other error is reported as InternalError.
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Handshake frames, sent outside the request/response flow.
type (
	AuthChallenge struct {
		Event     string `json:"event"` // "auth.challenge"
		Challenge string `json:"challenge"`
	}

	AuthResponse struct {
		Method    string `json:"method"` // "auth.response"
		Signature string `json:"signature"`
	}

	AuthResult struct {
		Event   string `json:"event"` // "auth.success" or "auth.failure"
		Success bool   `json:"success,omitempty"`
		Message string `json:"message,omitempty"`
	}
)

// decodeRequest parses one text frame. A missing jsonrpc member is accepted
// and params default to an empty object.
func decodeRequest(data []byte) (*RPCRequest, *RPCError) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	case req.JSONRPC != "" && req.JSONRPC != jsonrpcVersion:
		return nil, &RPCError{Code: InvalidRequest, Message: fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC)}
	}

	req.JSONRPC = jsonrpcVersion
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}
	return &req, nil
}

// isAuthFrame reports whether data is a handshake answer rather than a request
func isAuthFrame(data []byte) (AuthResponse, bool) {
	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Method != "auth.response" {
		return AuthResponse{}, false
	}
	return resp, true
}

func resultResponse(id string, result interface{}) *RPCResponse {
	return &RPCResponse{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: InvalidParams, Message: fmt.Sprintf(format, args...)}
}
