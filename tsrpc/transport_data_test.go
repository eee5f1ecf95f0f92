// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "testing"

func TestNewReqRes(t *testing.T) {
	req := NewReq("a/Echo", 7, "hi", nil)
	if req.Type != TypeReq || req.ServiceName != "a/Echo" || req.SN != 7 || req.Body != "hi" {
		t.Errorf("NewReq() = %+v", req)
	}

	res := NewRes("a/Echo", 7, "hi back", nil)
	if res.Type != TypeRes || res.SN != req.SN {
		t.Errorf("NewRes() = %+v", res)
	}
}

func TestNewErr(t *testing.T) {
	tErr := NewApiError("bad input", "BAD", nil)
	e := NewErr(3, tErr, nil)
	if e.Type != TypeErr || e.SN != 3 || e.Err != tErr {
		t.Errorf("NewErr() = %+v", e)
	}
}

func TestNewMsg(t *testing.T) {
	m := NewMsg("Chat", "hello")
	if m.Type != TypeMsg || m.ServiceName != "Chat" || m.Body != "hello" || m.SN != 0 {
		t.Errorf("NewMsg() = %+v", m)
	}
}

func TestSuccFail(t *testing.T) {
	s := Succ(42)
	if !s.IsSucc || s.Res != 42 || s.Err != nil {
		t.Errorf("Succ() = %+v", s)
	}

	tErr := NewNetworkError("boom", "")
	f := Fail[int](tErr)
	if f.IsSucc || f.Err != tErr {
		t.Errorf("Fail() = %+v", f)
	}
}
