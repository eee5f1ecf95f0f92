// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testServiceMap(t *testing.T) *ServiceMap {
	t.Helper()
	proto := ServiceProto{Services: []Service{
		{ID: 1, Name: "Echo", Kind: KindApi, Side: SideServer,
			ReqSchemaID: ReqSchemaID("Echo"), ResSchemaID: ResSchemaID("Echo")},
		{ID: 2, Name: "Chat", Kind: KindMsg, Side: SideBoth,
			MsgSchemaID: MsgSchemaID("Chat")},
	}}
	sm, err := BuildServiceMap(proto, SideServer)
	if err != nil {
		t.Fatalf("BuildServiceMap() error: %v", err)
	}
	return sm
}

type echoBody struct {
	Text string `json:"text"`
}

func TestCodecBinaryBoxRoundTrip(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	req := NewReq("Echo", 5, echoBody{Text: "hi"}, nil)
	encoded, err := codec.EncodeBinaryBox(req)
	if err != nil {
		t.Fatalf("EncodeBinaryBox() error: %v", err)
	}

	var out echoBody
	decoded, err := codec.DecodeBinaryBox(encoded, &out)
	if err != nil {
		t.Fatalf("DecodeBinaryBox() error: %v", err)
	}
	if decoded.Type != TypeReq || decoded.ServiceName != "Echo" || decoded.SN != 5 {
		t.Errorf("DecodeBinaryBox() = %+v", decoded)
	}
	if diff := cmp.Diff(echoBody{Text: "hi"}, out); diff != "" {
		t.Errorf("decoded body mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecBinaryBoxOmitsSNForMsg(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	msg := NewMsg("Chat", echoBody{Text: "yo"})
	encoded, err := codec.EncodeBinaryBox(msg)
	if err != nil {
		t.Fatalf("EncodeBinaryBox() error: %v", err)
	}

	var out echoBody
	decoded, err := codec.DecodeBinaryBox(encoded, &out)
	if err != nil {
		t.Fatalf("DecodeBinaryBox() error: %v", err)
	}
	if decoded.SN != 0 {
		t.Errorf("msg SN = %d, want 0", decoded.SN)
	}
}

func TestCodecBinaryBoxRejectsUnknownServiceName(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})
	_, err := codec.EncodeBinaryBox(NewReq("Nope", 1, echoBody{}, nil))
	if err == nil {
		t.Fatal("EncodeBinaryBox() expected error for unknown service, got nil")
	}
}

func TestCodecTextBoxFullEnvelopeRoundTrip(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	req := NewReq("Echo", 9, echoBody{Text: "full"}, nil)
	encoded, err := codec.EncodeTextBox(req, false)
	if err != nil {
		t.Fatalf("EncodeTextBox() error: %v", err)
	}

	var out echoBody
	decoded, err := codec.DecodeTextBox(encoded, false, "", 0, "", &out)
	if err != nil {
		t.Fatalf("DecodeTextBox() error: %v", err)
	}
	if decoded.ServiceName != "Echo" || decoded.SN != 9 || decoded.Type != TypeReq {
		t.Errorf("DecodeTextBox() = %+v", decoded)
	}
	if diff := cmp.Diff(echoBody{Text: "full"}, out); diff != "" {
		t.Errorf("decoded body mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecTextBoxSkipSNRequestIsRawBody(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	req := NewReq("Echo", 1, echoBody{Text: "skip"}, nil)
	encoded, err := codec.EncodeTextBox(req, true)
	if err != nil {
		t.Fatalf("EncodeTextBox() error: %v", err)
	}
	if string(encoded) != `{"text":"skip"}` {
		t.Errorf("skipSN request body = %s, want raw body only", encoded)
	}

	var out echoBody
	decoded, err := codec.DecodeTextBox(encoded, true, "Echo", 1, TypeReq, &out)
	if err != nil {
		t.Fatalf("DecodeTextBox() error: %v", err)
	}
	if decoded.ServiceName != "Echo" || decoded.SN != 1 {
		t.Errorf("DecodeTextBox() = %+v", decoded)
	}
	if diff := cmp.Diff(echoBody{Text: "skip"}, out); diff != "" {
		t.Errorf("decoded body mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecTextBoxSkipSNResponseIsApiReturnShape(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	res := NewRes("Echo", 1, echoBody{Text: "reply"}, nil)
	encoded, err := codec.EncodeTextBox(res, true)
	if err != nil {
		t.Fatalf("EncodeTextBox() error: %v", err)
	}

	var decoded box
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal box: %v", err)
	}
	if !decoded.IsSucc {
		t.Errorf("skipSN response box isSucc = false, want true")
	}
}

func TestCodecTextBoxSkipSNErrorIsApiReturnShape(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})

	tErr := NewApiError("bad", "BAD", nil)
	errData := NewErr(1, tErr, nil)
	encoded, err := codec.EncodeTextBox(errData, true)
	if err != nil {
		t.Fatalf("EncodeTextBox() error: %v", err)
	}

	var decoded box
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal box: %v", err)
	}
	if decoded.IsSucc {
		t.Error("skipSN error box isSucc = true, want false")
	}
	if decoded.Err == nil || decoded.Err.Message != "bad" {
		t.Errorf("decoded err = %+v, want message 'bad'", decoded.Err)
	}
}

func TestCodecDecodeTextBoxRejectsUnknownService(t *testing.T) {
	sm := testServiceMap(t)
	codec := NewCodec(sm, PassthroughValidator{})
	_, err := codec.DecodeTextBox([]byte(`{}`), true, "Nope", 1, TypeReq, &echoBody{})
	if err == nil {
		t.Fatal("DecodeTextBox() expected error for unknown service, got nil")
	}
}
