// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"errors"
	"strings"
	"testing"
)

func TestTsrpcErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *TsrpcError
		want string
	}{
		{name: "nil", err: nil, want: "<nil TsrpcError>"},
		{name: "with code", err: &TsrpcError{Type: ApiErrorType, Code: "BAD", Message: "bad input"}, want: "ApiError [BAD]: bad input"},
		{name: "without code", err: &TsrpcError{Type: NetworkErrorType, Message: "timed out"}, want: "NetworkError: timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewServerErrorRespectsReturnInnerError(t *testing.T) {
	inner := errors.New("nil pointer dereference")

	withInner := NewServerError("internal error", CodeInternalErr, inner, true)
	if withInner.InnerErr != inner.Error() {
		t.Errorf("InnerErr = %q, want %q", withInner.InnerErr, inner.Error())
	}

	withoutInner := NewServerError("internal error", CodeInternalErr, inner, false)
	if withoutInner.InnerErr != "" {
		t.Errorf("InnerErr = %q, want empty when returnInnerError is false", withoutInner.InnerErr)
	}
	if strings.Contains(withoutInner.Error(), "nil pointer") {
		t.Errorf("Error() leaked inner error text: %q", withoutInner.Error())
	}
}

func TestErrorConstructorsSetType(t *testing.T) {
	if NewApiError("m", "C", nil).Type != ApiErrorType {
		t.Error("NewApiError should set ApiErrorType")
	}
	if NewNetworkError("m", "C").Type != NetworkErrorType {
		t.Error("NewNetworkError should set NetworkErrorType")
	}
	if NewRemoteError("m").Type != RemoteErrorType {
		t.Error("NewRemoteError should set RemoteErrorType")
	}
	if NewLocalError("m").Type != LocalErrorType {
		t.Error("NewLocalError should set LocalErrorType")
	}
	if NewClientError("m").Type != ClientErrorType {
		t.Error("NewClientError should set ClientErrorType")
	}
}
