// Package protocol defines the JSON-RPC 2.0 envelope types and error
// codes used between the gateway, its callers, and upstream backends.
package protocol

import (
	"encoding/json"
)

// Version is the protocol version literal every envelope must carry.
const Version = "2.0"

// Stable error codes returned by the gateway.
const (
	// CodeParseError indicates a malformed input payload.
	CodeParseError = -32700

	// CodeInvalidRequest indicates an invalid request envelope.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates an unknown route or method.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates invalid parameters.
	CodeInvalidParams = -32602

	// CodeInternalError indicates an internal gateway error.
	CodeInternalError = -32603

	// CodeBackendUnavailable indicates a connection-level backend failure.
	CodeBackendUnavailable = -32001

	// CodeRequestTimeout indicates the request timed out.
	CodeRequestTimeout = -32002

	// CodeCircuitOpen indicates the circuit breaker is open for the backend.
	CodeCircuitOpen = -32003

	// CodeProxyError indicates a generic upstream/proxy error.
	CodeProxyError = -32004
)

// Request is a JSON-RPC request envelope. It is immutable once received.
//
// ID uses json.RawMessage so that an absent "id" key (nil) can be
// distinguished from an explicit "id": null (the bytes "null").
type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// HasID reports whether the "id" key was present in the envelope,
// regardless of its value.
func (r *Request) HasID() bool {
	return r.ID != nil
}

// RPCError is a structured JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

// Response is a JSON-RPC response envelope: either Result or Error is
// set, never both. The ID echoes the request's correlation id; a nil ID
// marshals as null.
type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// NewResultResponse builds a success response echoing the given id.
func NewResultResponse(id, result json.RawMessage) *Response {
	return &Response{
		Version: Version,
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse builds an error response echoing the given id
// (null when the id is unknown).
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		Version: Version,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}
