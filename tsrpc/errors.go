// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "fmt"

// ErrType is the discriminant of a [TsrpcError], per spec.md §7's error
// taxonomy.
type ErrType string

const (
	// ApiErrorType is a domain-level failure produced by a handler via
	// call.Error(...). It always reaches the caller verbatim.
	ApiErrorType ErrType = "ApiError"
	// NetworkErrorType is a transport failure: timeout, connection
	// refused, or a disconnect that interrupted an in-flight call.
	NetworkErrorType ErrType = "NetworkError"
	// ServerErrorType means the handler panicked, returned an unexpected
	// error, or exceeded its api timeout.
	ServerErrorType ErrType = "ServerError"
	// ClientErrorType is a client-side encoding or schema failure.
	ClientErrorType ErrType = "ClientError"
	// LocalErrorType is a local failure with no wire round-trip, such as
	// a malformed HTTP response body.
	LocalErrorType ErrType = "LocalError"
	// RemoteErrorType means the peer sent a malformed frame.
	RemoteErrorType ErrType = "RemoteError"
)

// Reserved wire error codes (spec.md §6).
const (
	CodeInternalErr    = "INTERNAL_ERR"
	CodeServerTimeout  = "SERVER_TIMEOUT"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeTimeout        = "TIMEOUT"
	CodeConnRefused    = "ECONNREFUSED"
)

// TsrpcError is the domain error type exchanged end-to-end between peers
// (spec.md §3). It is constructed both at the peer that detects the
// condition and, after crossing the wire, reconstructed verbatim on the
// receiver.
type TsrpcError struct {
	Message  string  `json:"message"`
	Code     string  `json:"code,omitempty"`
	Type     ErrType `json:"type"`
	Info     any     `json:"info,omitempty"`
	InnerErr string  `json:"innerErr,omitempty"`
}

// Error implements the error interface.
func (e *TsrpcError) Error() string {
	if e == nil {
		return "<nil TsrpcError>"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewApiError builds an ApiError-typed TsrpcError, as produced by a
// handler calling call.Error(...).
func NewApiError(message string, code string, info any) *TsrpcError {
	return &TsrpcError{Message: message, Code: code, Type: ApiErrorType, Info: info}
}

// NewNetworkError builds a NetworkError-typed TsrpcError.
func NewNetworkError(message string, code string) *TsrpcError {
	return &TsrpcError{Message: message, Code: code, Type: NetworkErrorType}
}

// NewServerError wraps an internal handler failure. When returnInnerError
// is false the inner error text is omitted, so it is never leaked on the
// wire to untrusted clients.
func NewServerError(message, code string, inner error, returnInnerError bool) *TsrpcError {
	e := &TsrpcError{Message: message, Code: code, Type: ServerErrorType}
	if returnInnerError && inner != nil {
		e.InnerErr = inner.Error()
	}
	return e
}

// NewRemoteError builds a RemoteError-typed TsrpcError, used when a peer's
// frame fails to decode or names an unknown service.
func NewRemoteError(message string) *TsrpcError {
	return &TsrpcError{Message: message, Type: RemoteErrorType}
}

// NewLocalError builds a LocalError-typed TsrpcError for failures that
// never reach the wire (e.g. a malformed response body).
func NewLocalError(message string) *TsrpcError {
	return &TsrpcError{Message: message, Type: LocalErrorType}
}

// NewClientError builds a ClientError-typed TsrpcError for client-side
// encode/schema failures.
func NewClientError(message string) *TsrpcError {
	return &TsrpcError{Message: message, Type: ClientErrorType}
}
