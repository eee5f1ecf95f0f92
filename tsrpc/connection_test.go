// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"context"
	"sync"
	"testing"
	"time"
)

// pairedSender links two Conns directly in memory, without any real
// transport: Send on one side hands the bytes to the other's
// HandleIncomingData in a new goroutine, the way a duplex transport's read
// loop delivers frames asynchronously. This lets CallApi/SendMsg/ImplementApi be
// exercised end-to-end with no network or toolchain dependency.
type pairedSender struct {
	mu   sync.Mutex
	peer *Conn
}

func (s *pairedSender) Send(ctx context.Context, data []byte, td TransportData) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	go peer.HandleIncomingData(ctx, data, FrameHint{})
	return nil
}

func newConnPair(t *testing.T, sm *ServiceMap) (client, server *Conn) {
	t.Helper()
	codec := NewCodec(sm, PassthroughValidator{})

	clientSender := &pairedSender{}
	serverSender := &pairedSender{}

	client = NewConn(ConnConfig{
		ID: 1, Side: SideClient, Codec: codec, ServiceMap: sm,
		DataType: DataTypeText, ApiTimeout: time.Second, Sender: clientSender,
	})
	server = NewConn(ConnConfig{
		ID: 2, Side: SideServer, Codec: codec, ServiceMap: sm,
		DataType: DataTypeText, ApiTimeout: time.Second, Sender: serverSender,
	})
	clientSender.peer = server
	serverSender.peer = client

	client.MarkConnected(context.Background())
	server.MarkConnected(context.Background())
	return client, server
}

func pairedServiceMap(t *testing.T) *ServiceMap {
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

func TestConnCallApiRoundTrip(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	server.ImplementApi("Echo", func(call *ApiCall) {
		call.Succ(call.Req)
	})

	ret := client.CallApi(context.Background(), "Echo", map[string]any{"text": "hi"}, nil)
	if !ret.IsSucc {
		t.Fatalf("CallApi() = %+v, want success", ret)
	}
}

func TestConnCallApiHandlerError(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	server.ImplementApi("Echo", func(call *ApiCall) {
		call.Error("bad input", "BAD", nil)
	})

	ret := client.CallApi(context.Background(), "Echo", map[string]any{}, nil)
	if ret.IsSucc {
		t.Fatal("CallApi() succeeded, want ApiError failure")
	}
	if ret.Err.Type != ApiErrorType || ret.Err.Code != "BAD" {
		t.Errorf("CallApi() err = %+v, want ApiError/BAD", ret.Err)
	}
}

func TestConnCallApiNotImplemented(t *testing.T) {
	sm := pairedServiceMap(t)
	client, _ := newConnPair(t, sm)

	ret := client.CallApi(context.Background(), "Echo", map[string]any{}, nil)
	if ret.IsSucc {
		t.Fatal("CallApi() succeeded against an unimplemented api, want failure")
	}
	if ret.Err.Code != CodeNotImplemented {
		t.Errorf("CallApi() err code = %q, want %q", ret.Err.Code, CodeNotImplemented)
	}
}

func TestConnCallApiContextTimeout(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	block := make(chan struct{})
	server.ImplementApi("Echo", func(call *ApiCall) {
		<-block
		call.Succ(nil)
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ret := client.CallApi(ctx, "Echo", map[string]any{}, nil)
	if ret.IsSucc {
		t.Fatal("CallApi() succeeded, want timeout failure")
	}
	if ret.Err.Type != NetworkErrorType {
		t.Errorf("CallApi() err type = %v, want NetworkErrorType", ret.Err.Type)
	}
}

func TestConnSendMsgAndOnMsg(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	received := make(chan any, 1)
	server.OnMsg("Chat", func(ctx context.Context, msgName string, msg any) {
		received <- msg
	})

	res := client.SendMsg(context.Background(), "Chat", map[string]any{"text": "yo"})
	if !res.IsSucc {
		t.Fatalf("SendMsg() = %+v, want success", res)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("OnMsg listener never fired")
	}
}

func TestConnOnceMsgFiresOnlyOnce(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	var count int32
	var mu sync.Mutex
	done := make(chan struct{}, 2)
	server.OnceMsg("Chat", func(ctx context.Context, msgName string, msg any) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	})

	client.SendMsg(context.Background(), "Chat", map[string]any{"text": "1"})
	<-done
	client.SendMsg(context.Background(), "Chat", map[string]any{"text": "2"})

	select {
	case <-done:
		t.Fatal("once listener fired a second time")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestConnOffMsgRemovesListener(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	fired := make(chan struct{}, 1)
	listener := func(ctx context.Context, msgName string, msg any) { fired <- struct{}{} }
	server.OnMsg("Chat", listener)
	server.OffMsg("Chat", listener)

	client.SendMsg(context.Background(), "Chat", map[string]any{"text": "x"})

	select {
	case <-fired:
		t.Fatal("listener fired after OffMsg")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnDisconnectSettlesPendingWithNetworkError(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	block := make(chan struct{})
	server.ImplementApi("Echo", func(call *ApiCall) {
		<-block
	})
	defer close(block)

	resultCh := make(chan ApiReturn[any], 1)
	go func() {
		resultCh <- client.CallApi(context.Background(), "Echo", map[string]any{}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	client.Disconnect(context.Background(), 0, "test teardown")

	select {
	case ret := <-resultCh:
		if ret.IsSucc || ret.Err.Type != NetworkErrorType {
			t.Errorf("CallApi() after Disconnect = %+v, want NetworkError", ret)
		}
	case <-time.After(time.Second):
		t.Fatal("CallApi() never returned after Disconnect")
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", client.State())
	}
}

func TestConnImplementApiOverwritesHandler(t *testing.T) {
	sm := pairedServiceMap(t)
	client, server := newConnPair(t, sm)

	server.ImplementApi("Echo", func(call *ApiCall) { call.Succ(map[string]any{"which": "first"}) })
	server.ImplementApi("Echo", func(call *ApiCall) { call.Succ(map[string]any{"which": "second"}) })

	ret := client.CallApi(context.Background(), "Echo", map[string]any{}, nil)
	if !ret.IsSucc {
		t.Fatalf("CallApi() = %+v, want success", ret)
	}
	res, ok := ret.Res.(map[string]any)
	if !ok || res["which"] != "second" {
		t.Errorf("CallApi() res = %+v, want the second handler's response", ret.Res)
	}
}
