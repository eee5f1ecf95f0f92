// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"encoding/json"
	"fmt"

	"github.com/tsrpc-go/tsrpc/internal/wire"
)

// binary box type tags (spec.md §4.2).
const (
	tagReq byte = iota
	tagRes
	tagErr
	tagMsg
	tagCustom
	tagHeartbeat
	tagHandshake
)

var typeToTag = map[TransportDataType]byte{
	TypeReq: tagReq, TypeRes: tagRes, TypeErr: tagErr, TypeMsg: tagMsg,
	TypeCustom: tagCustom, TypeHeartbeat: tagHeartbeat, TypeHandshake: tagHandshake,
}

var tagToType = map[byte]TransportDataType{
	tagReq: TypeReq, tagRes: TypeRes, tagErr: TypeErr, tagMsg: TypeMsg,
	tagCustom: TypeCustom, tagHeartbeat: TypeHeartbeat, tagHandshake: TypeHandshake,
}

// Codec encodes and decodes [TransportData] to and from the binary box and
// text box wire formats (spec.md §4.2). It is shared by every transport so
// the framing logic is implemented exactly once, the way a single
// EncodeMessage/DecodeMessage pair is shared across transports in a
// jsonrpc2-style codec split.
type Codec struct {
	ServiceMap *ServiceMap
	Validator  Validator
}

// NewCodec builds a Codec bound to sm and v.
func NewCodec(sm *ServiceMap, v Validator) *Codec {
	return &Codec{ServiceMap: sm, Validator: v}
}

// EncodeBinaryBox encodes d as
// [serviceId: varuint][type-tag: u8][sn?: varuint][payload: bytes].
// SN is omitted for msg, per spec.md §4.2.
func (c *Codec) EncodeBinaryBox(d TransportData) ([]byte, error) {
	tag, ok := typeToTag[d.Type]
	if !ok {
		return nil, fmt.Errorf("tsrpc: codec: unknown transport data type %q", d.Type)
	}

	var serviceID uint32
	var schemaID string
	switch d.Type {
	case TypeReq, TypeRes, TypeMsg:
		svc, ok := c.ServiceMap.GetByName(d.ServiceName)
		if !ok {
			return nil, NewRemoteError("Invalid service name")
		}
		serviceID = svc.ID
		switch d.Type {
		case TypeReq:
			schemaID = svc.ReqSchemaID
		case TypeRes:
			schemaID = svc.ResSchemaID
		case TypeMsg:
			schemaID = svc.MsgSchemaID
		}
	}

	var payload []byte
	var err error
	switch d.Type {
	case TypeReq, TypeRes, TypeMsg:
		payload, err = c.Validator.EncodeSchema(schemaID, d.Body)
		if err != nil {
			return nil, NewLocalError(fmt.Sprintf("encode body: %v", err))
		}
	case TypeErr:
		payload, err = json.Marshal(d.Err)
		if err != nil {
			return nil, NewLocalError(fmt.Sprintf("encode error: %v", err))
		}
	case TypeCustom:
		payload, err = json.Marshal(d.Body)
		if err != nil {
			return nil, NewLocalError(fmt.Sprintf("encode custom body: %v", err))
		}
	}

	buf := make([]byte, 0, 16+len(payload))
	buf = wire.PutUvarint(buf, uint64(serviceID))
	buf = append(buf, tag)
	if d.Type != TypeMsg {
		buf = wire.PutUvarint(buf, uint64(d.SN))
	}
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeBinaryBox inverts EncodeBinaryBox, consulting ServiceMap.GetByID
// for the schema and name. bodyPtr, if non-nil, receives the decoded
// body (for req/res/msg); it must be a pointer to the expected Go type.
func (c *Codec) DecodeBinaryBox(data []byte, bodyPtr any) (TransportData, error) {
	serviceID64, rest, err := wire.ReadUvarint(data)
	if err != nil {
		return TransportData{}, NewRemoteError("Invalid body")
	}
	if len(rest) == 0 {
		return TransportData{}, NewRemoteError("Invalid body")
	}
	tag := rest[0]
	rest = rest[1:]

	typ, ok := tagToType[tag]
	if !ok {
		return TransportData{}, NewRemoteError("Invalid body")
	}

	var sn uint32
	if typ != TypeMsg {
		sn64, r2, err := wire.ReadUvarint(rest)
		if err != nil {
			return TransportData{}, NewRemoteError("Invalid body")
		}
		sn = uint32(sn64)
		rest = r2
	}

	d := TransportData{Type: typ, SN: sn}

	switch typ {
	case TypeReq, TypeRes, TypeMsg:
		svc, ok := c.ServiceMap.GetByID(uint32(serviceID64))
		if !ok {
			return TransportData{}, NewRemoteError("Invalid service name")
		}
		d.ServiceName = svc.Name

		var schemaID string
		switch typ {
		case TypeReq:
			schemaID = svc.ReqSchemaID
		case TypeRes:
			schemaID = svc.ResSchemaID
		case TypeMsg:
			schemaID = svc.MsgSchemaID
		}
		if bodyPtr != nil {
			if err := c.Validator.DecodeSchema(schemaID, rest, bodyPtr); err != nil {
				return TransportData{}, NewRemoteError("Invalid body")
			}
			d.Body = bodyPtr
		}
	case TypeErr:
		var tsErr TsrpcError
		if err := json.Unmarshal(rest, &tsErr); err != nil {
			return TransportData{}, NewRemoteError("Invalid body")
		}
		d.Err = &tsErr
	case TypeCustom:
		if bodyPtr != nil {
			_ = json.Unmarshal(rest, bodyPtr)
			d.Body = bodyPtr
		}
	}

	return d, nil
}

// textBox is the JSON shape of the text box encoding (spec.md §4.2).
type textBox struct {
	ServiceName string          `json:"serviceName,omitempty"`
	SN          uint32          `json:"sn,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	ProtoInfo   *ProtoInfo      `json:"protoInfo,omitempty"`
	Type        TransportDataType `json:"type,omitempty"`
	Err         *TsrpcError     `json:"err,omitempty"`
}

// EncodeTextBox encodes d as a JSON document. When skipSN is true (an
// HTTP-text transport optimization, spec.md §4.2(a): encodeSkipSN is a
// property of the transport, not the message), req and msg emit the
// encoded body alone and res and err emit the {isSucc, res|err} shape of
// [box]; other types still use the full envelope.
func (c *Codec) EncodeTextBox(d TransportData, skipSN bool) ([]byte, error) {
	var schemaID string
	switch d.Type {
	case TypeReq, TypeRes, TypeMsg:
		svc, ok := c.ServiceMap.GetByName(d.ServiceName)
		if !ok {
			return nil, NewRemoteError("Invalid service name")
		}
		switch d.Type {
		case TypeReq:
			schemaID = svc.ReqSchemaID
		case TypeRes:
			schemaID = svc.ResSchemaID
		case TypeMsg:
			schemaID = svc.MsgSchemaID
		}
	}

	if skipSN {
		switch d.Type {
		case TypeReq, TypeMsg:
			// Client->server direction: the URL/header already carries the
			// service name and kind, so only the raw body crosses the wire
			// (spec.md §4.2(a)).
			raw, err := c.Validator.EncodeSchema(schemaID, d.Body)
			if err != nil {
				return nil, NewLocalError(fmt.Sprintf("encode body: %v", err))
			}
			return raw, nil
		case TypeRes:
			// Server->client direction: the body is still wrapped in the
			// ApiReturn{isSucc,res} shape (spec.md §6's HTTP response body).
			raw, err := c.Validator.EncodeSchema(schemaID, d.Body)
			if err != nil {
				return nil, NewLocalError(fmt.Sprintf("encode body: %v", err))
			}
			return json.Marshal(box{IsSucc: true, Res: raw})
		case TypeErr:
			return json.Marshal(box{IsSucc: false, Err: d.Err})
		}
	}

	box := textBox{ServiceName: d.ServiceName, SN: d.SN, ProtoInfo: d.ProtoInfo, Type: d.Type, Err: d.Err}
	switch d.Type {
	case TypeReq, TypeRes, TypeMsg:
		raw, err := c.Validator.EncodeSchema(schemaID, d.Body)
		if err != nil {
			return nil, NewLocalError(fmt.Sprintf("encode body: %v", err))
		}
		box.Body = raw
	case TypeCustom:
		raw, err := json.Marshal(d.Body)
		if err != nil {
			return nil, NewLocalError(fmt.Sprintf("encode custom body: %v", err))
		}
		box.Body = raw
	}
	return json.Marshal(box)
}

// box is the minimal {isSucc, res|err} shape used when skipSN text-encodes
// a res or err TransportData (the HTTP response body ApiReturn shape,
// spec.md §6).
type box struct {
	IsSucc bool            `json:"isSucc"`
	Res    json.RawMessage `json:"res,omitempty"`
	Err    *TsrpcError     `json:"err,omitempty"`
}

// DecodeTextBox inverts EncodeTextBox. When skipSN is true, data is taken
// to be the body alone; serviceName, sn and kind must be supplied by the
// transport (spec.md §4.2(a)). kind is TypeReq or TypeMsg - the HTTP
// X-TSRPC-DATA-TYPE header distinguishes the two one-shot POST shapes.
func (c *Codec) DecodeTextBox(data []byte, skipSN bool, serviceName string, sn uint32, kind TransportDataType, bodyPtr any) (TransportData, error) {
	if skipSN {
		svc, ok := c.ServiceMap.GetByName(serviceName)
		if !ok {
			return TransportData{}, NewRemoteError("Invalid service name")
		}
		if kind == "" {
			kind = TypeReq
		}
		d := TransportData{Type: kind, ServiceName: serviceName, SN: sn}
		if bodyPtr != nil {
			schemaID := svc.ReqSchemaID
			if kind == TypeMsg {
				schemaID = svc.MsgSchemaID
			}
			if err := c.Validator.DecodeSchema(schemaID, data, bodyPtr); err != nil {
				return TransportData{}, NewRemoteError("Invalid body")
			}
			d.Body = bodyPtr
		}
		return d, nil
	}

	var tb textBox
	if err := wire.StrictUnmarshal(data, &tb); err != nil {
		return TransportData{}, NewRemoteError("Invalid body")
	}

	d := TransportData{Type: tb.Type, ServiceName: tb.ServiceName, SN: tb.SN, ProtoInfo: tb.ProtoInfo, Err: tb.Err}
	if d.Type == "" {
		d.Type = TypeReq
	}

	switch d.Type {
	case TypeReq, TypeRes, TypeMsg:
		svc, ok := c.ServiceMap.GetByName(tb.ServiceName)
		if !ok {
			return TransportData{}, NewRemoteError("Invalid service name")
		}
		var schemaID string
		switch d.Type {
		case TypeReq:
			schemaID = svc.ReqSchemaID
		case TypeRes:
			schemaID = svc.ResSchemaID
		case TypeMsg:
			schemaID = svc.MsgSchemaID
		}
		if bodyPtr != nil && len(tb.Body) > 0 {
			if err := c.Validator.DecodeSchema(schemaID, tb.Body, bodyPtr); err != nil {
				return TransportData{}, NewRemoteError("Invalid body")
			}
			d.Body = bodyPtr
		}
	case TypeCustom:
		if bodyPtr != nil && len(tb.Body) > 0 {
			_ = json.Unmarshal(tb.Body, bodyPtr)
			d.Body = bodyPtr
		}
	}

	return d, nil
}
