// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "time"

// TransportDataType is the tag discriminant of a [TransportData] (spec.md
// §3).
type TransportDataType string

const (
	TypeReq       TransportDataType = "req"
	TypeRes       TransportDataType = "res"
	TypeErr       TransportDataType = "err"
	TypeMsg       TransportDataType = "msg"
	TypeCustom    TransportDataType = "custom"
	TypeHeartbeat TransportDataType = "heartbeat"
	TypeHandshake TransportDataType = "handshake"
)

// ProtoInfo describes the schema version and runtime of a peer, exchanged
// opportunistically to let peers detect schema skew (spec.md §3). It MUST
// NOT change wire semantics.
type ProtoInfo struct {
	LastModified time.Time `json:"lastModified"`
	Md5          string    `json:"md5"`
	Tsrpc        string    `json:"tsrpc"`
	Node         string    `json:"node"`
}

// TransportData is the tagged wire envelope shared across transports
// (spec.md §3). Exactly one of the type-specific fields is meaningful,
// selected by Type; this mirrors the source's dynamically-typed sum value
// as a closed Go struct instead (spec.md Design Note 1).
type TransportData struct {
	Type TransportDataType

	// ServiceName is set for req, res and msg. Empty for err and custom.
	ServiceName string
	// SN correlates req with res/err. Zero (unset) for msg and custom.
	SN uint32
	// Body is the decoded payload for req, res, msg and custom.
	Body any
	// Err is set only when Type == TypeErr.
	Err *TsrpcError
	// ProtoInfo is optional out-of-band version metadata.
	ProtoInfo *ProtoInfo

	// CustomType carries a user-defined discriminant when Type == TypeCustom;
	// the core neither parses nor validates the accompanying Body.
	CustomType string
}

// NewReq builds a req TransportData.
func NewReq(serviceName string, sn uint32, body any, pi *ProtoInfo) TransportData {
	return TransportData{Type: TypeReq, ServiceName: serviceName, SN: sn, Body: body, ProtoInfo: pi}
}

// NewRes builds a res TransportData.
func NewRes(serviceName string, sn uint32, body any, pi *ProtoInfo) TransportData {
	return TransportData{Type: TypeRes, ServiceName: serviceName, SN: sn, Body: body, ProtoInfo: pi}
}

// NewErr builds an err TransportData.
func NewErr(sn uint32, err *TsrpcError, pi *ProtoInfo) TransportData {
	return TransportData{Type: TypeErr, SN: sn, Err: err, ProtoInfo: pi}
}

// NewMsg builds a msg TransportData.
func NewMsg(serviceName string, body any) TransportData {
	return TransportData{Type: TypeMsg, ServiceName: serviceName, Body: body}
}

// ApiReturn is the sum type exchanged end-to-end from a handler back to a
// caller (spec.md §3).
type ApiReturn[T any] struct {
	IsSucc bool
	Res    T
	Err    *TsrpcError
}

// Succ builds a successful ApiReturn.
func Succ[T any](res T) ApiReturn[T] {
	return ApiReturn[T]{IsSucc: true, Res: res}
}

// Fail builds a failed ApiReturn.
func Fail[T any](err *TsrpcError) ApiReturn[T] {
	return ApiReturn[T]{IsSucc: false, Err: err}
}

// OpResultVoid is the result of an operation with no payload, such as
// sendMsg handing bytes to the transport.
type OpResultVoid struct {
	IsSucc bool
	Err    *TsrpcError
}
