// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ConnState is one of the four states a Connection moves through
// monotonically forward (spec.md §3); re-entering Connecting is only
// permitted after Disconnected.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// DataType selects which wire encoding a Connection speaks.
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeBuffer DataType = "buffer"
)

// CallApiOptions configures one CallApi invocation.
type CallApiOptions struct {
	// Timeout overrides the connection's default call timeout for this
	// call only. Zero means "use the connection default".
	Timeout time.Duration
}

// ApiHandler handles one inbound API call, server-side or duplex-client
// side (spec.md §4.5's implementApi).
type ApiHandler func(call *ApiCall)

// MsgListener handles one inbound message (spec.md §4.5's onMsg).
type MsgListener func(ctx context.Context, msgName string, msg any)

// ApiCall is the server-side (or duplex-implementor-side) view of one
// inbound API request, passed through preApiCall/preApiCallReturn.
type ApiCall struct {
	Conn        Connection
	ServiceName string
	SN          uint32
	Req         any

	ctx              context.Context
	returnInnerError bool

	mu       sync.Mutex
	returned bool
	onReturn func(ApiReturn[any])
}

// Context returns the context the request frame was delivered with (the
// HTTP request's context, or the duplex read loop's context). The api
// timeout does not cancel it.
func (c *ApiCall) Context() context.Context { return c.ctx }

// Succ sends a successful response. A second call (after Succ or Error)
// is a no-op, matching the "server timeout -> call.succ/call.error become
// no-ops" rule of spec.md §7.
func (c *ApiCall) Succ(res any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.returned {
		return
	}
	c.returned = true
	c.onReturn(Succ[any](res))
}

// Error sends an ApiError-typed failure to the caller (spec.md §4.5, S4).
func (c *ApiCall) Error(message string, code string, info any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.returned {
		return
	}
	c.returned = true
	c.onReturn(Fail[any](NewApiError(message, code, info)))
}

// Connection is the shared per-endpoint API of spec.md C5: callApi,
// sendMsg, onMsg, implement, and the flow pipeline.
type Connection interface {
	ID() uint32
	State() ConnState
	DataType() DataType
	Flows() *FlowStages

	CallApi(ctx context.Context, apiName string, req any, opts *CallApiOptions) ApiReturn[any]
	SendMsg(ctx context.Context, msgName string, msg any) OpResultVoid
	OnMsg(msgName string, listener MsgListener)
	OnceMsg(msgName string, listener MsgListener)
	OffMsg(msgName string, listener MsgListener)
	ImplementApi(apiName string, handler ApiHandler) error

	Disconnect(ctx context.Context, code int, reason string)
	PendingCallCount() int
}

// sender abstracts "hand these encoded bytes to the wire" for whichever
// transport a Conn is bound to. Transports that are synchronous
// request/response (HTTP) perform the whole round trip inside Send and
// settle the matching PendingCall themselves before returning, so that by
// the time CallApi waits on its PendingCall channel, the response (if
// any) is already buffered. Duplex transports just write the frame and
// let a separate read loop call HandleIncomingData asynchronously.
type sender interface {
	Send(ctx context.Context, data []byte, td TransportData) error
}

// Conn is the concrete shared state machine behind every Connection
// (spec.md C5). HttpTransport and the duplex transport each construct one
// per logical connection, supplying their own sender and dataType.
type Conn struct {
	id          uint32
	side        ServiceSide
	codec       *Codec
	serviceMap  *ServiceMap
	logger      Logger
	dataType    DataType
	skipSN      bool
	apiTimeout  time.Duration
	returnInner bool

	flows    *FlowStages
	pending  *PendingRegistry
	sendr    sender

	mu        sync.RWMutex
	state     ConnState
	listeners map[string][]*msgListenerEntry
	handlers  map[string]ApiHandler

	// sharedHandlers, when non-nil, is shared read-only across every Conn
	// of the same Server (spec.md §3 ownership rule); per-connection
	// ImplementApi calls (duplex client/server) instead populate handlers.
	sharedHandlers map[string]ApiHandler
	sharedMu       *sync.RWMutex
}

type msgListenerEntry struct {
	fn   MsgListener
	once bool
}

// ConnConfig configures a new Conn.
type ConnConfig struct {
	ID         uint32
	Side       ServiceSide
	Codec      *Codec
	ServiceMap *ServiceMap
	Logger     Logger
	DataType   DataType
	// SkipSN mirrors the transport's encodeSkipSN property (spec.md
	// §4.2(a)): true for the stateless HTTP transport's text encoding,
	// false for duplex connections which always carry a full envelope.
	SkipSN         bool
	ApiTimeout     time.Duration
	ReturnInner    bool
	Sender         sender
	SharedHandlers map[string]ApiHandler
	SharedMu       *sync.RWMutex
	// SharedFlows, when non-nil, is used directly instead of a fresh
	// FlowStages (spec.md §4.3/§4.6): every Conn a Server accepts shares
	// its owning Server's FlowStages, so a node registered on
	// Server.Flows() before Start applies to every past and future
	// connection, the same way SharedHandlers applies ImplementApi
	// across connections.
	SharedFlows *FlowStages
}

// NewConn builds a Conn in the Connecting state.
func NewConn(cfg ConnConfig) *Conn {
	flows := cfg.SharedFlows
	if flows == nil {
		flows = NewFlowStages(cfg.Logger)
	}
	return &Conn{
		id:             cfg.ID,
		side:           cfg.Side,
		codec:          cfg.Codec,
		serviceMap:     cfg.ServiceMap,
		logger:         cfg.Logger,
		dataType:       cfg.DataType,
		skipSN:         cfg.SkipSN,
		apiTimeout:     cfg.ApiTimeout,
		returnInner:    cfg.ReturnInner,
		flows:          flows,
		pending:        NewPendingRegistry(cfg.Logger),
		sendr:          cfg.Sender,
		state:          StateConnecting,
		listeners:      make(map[string][]*msgListenerEntry),
		handlers:       make(map[string]ApiHandler),
		sharedHandlers: cfg.SharedHandlers,
		sharedMu:       cfg.SharedMu,
	}
}

func (c *Conn) ID() uint32          { return c.id }
func (c *Conn) DataType() DataType  { return c.dataType }
func (c *Conn) Flows() *FlowStages  { return c.flows }

func (c *Conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState moves the connection forward, per spec.md §3's monotonic
// transition rule.
func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkConnected transitions Connecting -> Connected and runs
// postConnect. Stateless transports (the HTTP client) call this once at
// construction, since they are logically always Connected (spec.md §3).
func (c *Conn) MarkConnected(ctx context.Context) {
	c.setState(StateConnected)
	c.flows.PostConnect.Exec(ctx, &PostConnectCtx{Conn: c})
}

// PendingCallCount implements Connection.
func (c *Conn) PendingCallCount() int { return c.pending.Size() }

// CallApi implements Connection.CallApi per spec.md §4.5.
func (c *Conn) CallApi(ctx context.Context, apiName string, req any, opts *CallApiOptions) ApiReturn[any] {
	if opts == nil {
		opts = &CallApiOptions{}
	}

	preCtx := &PreCallApiCtx{ApiName: apiName, Req: req, Options: opts}
	preCtx, ok := c.flows.PreCallApi.Exec(ctx, preCtx)
	if !ok {
		return Fail[any](NewLocalError("aborted by preCallApi flow"))
	}
	req = preCtx.Req

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.apiTimeout
	}

	call := c.pending.Register(apiName, timeout)
	reqData := NewReq(apiName, call.SN, req, nil)

	var data []byte
	var err error
	if c.dataType == DataTypeText {
		data, err = c.codec.EncodeTextBox(reqData, c.skipSN)
	} else {
		data, err = c.codec.EncodeBinaryBox(reqData)
	}
	if err != nil {
		c.pending.Abort(call.SN)
		return Fail[any](toLocalErr(err))
	}

	sendCtx := &PreSendDataCtx{Data: data, TransportData: reqData, Conn: c}
	sendCtx, ok = c.flows.PreSendData.Exec(ctx, sendCtx)
	if !ok {
		c.pending.Abort(call.SN)
		return Fail[any](NewLocalError("aborted by preSendData flow"))
	}

	call.SetOnAbort(func() {})

	if err := c.sendr.Send(ctx, sendCtx.Data, reqData); err != nil {
		c.pending.Settle(call.SN, Fail[any](NewNetworkError(err.Error(), "")))
	} else {
		c.flows.PostSendData.Exec(ctx, &PostSendDataCtx{Data: sendCtx.Data, TransportData: reqData, Conn: c})
	}

	select {
	case ret := <-call.Wait():
		retCtx := &PreCallApiReturnCtx{ApiName: apiName, Req: req, Return: ret}
		retCtx, ok := c.flows.PreCallApiReturn.Exec(ctx, retCtx)
		if !ok {
			return Fail[any](NewLocalError("aborted by preCallApiReturn flow"))
		}
		return retCtx.Return
	case <-ctx.Done():
		c.pending.Abort(call.SN)
		return Fail[any](NewNetworkError(ctx.Err().Error(), CodeTimeout))
	}
}

func toLocalErr(err error) *TsrpcError {
	if tsErr, ok := err.(*TsrpcError); ok {
		return tsErr
	}
	return NewLocalError(err.Error())
}

// SendMsg implements Connection.SendMsg per spec.md §4.5. It resolves
// when the transport hands off the bytes, not when the peer receives
// them.
func (c *Conn) SendMsg(ctx context.Context, msgName string, msg any) OpResultVoid {
	preCtx := &PreSendMsgCtx{MsgName: msgName, Msg: msg, Conn: c}
	preCtx, ok := c.flows.PreSendMsg.Exec(ctx, preCtx)
	if !ok {
		return OpResultVoid{IsSucc: false, Err: NewLocalError("aborted by preSendMsg flow")}
	}

	msgData := NewMsg(msgName, preCtx.Msg)
	var data []byte
	var err error
	if c.dataType == DataTypeText {
		data, err = c.codec.EncodeTextBox(msgData, c.skipSN)
	} else {
		data, err = c.codec.EncodeBinaryBox(msgData)
	}
	if err != nil {
		return OpResultVoid{IsSucc: false, Err: toLocalErr(err)}
	}

	sendCtx := &PreSendDataCtx{Data: data, TransportData: msgData, Conn: c}
	sendCtx, ok = c.flows.PreSendData.Exec(ctx, sendCtx)
	if !ok {
		return OpResultVoid{IsSucc: false, Err: NewLocalError("aborted by preSendData flow")}
	}

	if err := c.sendr.Send(ctx, sendCtx.Data, msgData); err != nil {
		return OpResultVoid{IsSucc: false, Err: NewNetworkError(err.Error(), "")}
	}
	c.flows.PostSendData.Exec(ctx, &PostSendDataCtx{Data: sendCtx.Data, TransportData: msgData, Conn: c})
	return OpResultVoid{IsSucc: true}
}

// OnMsg registers listener for msgName; multiple listeners are invoked in
// registration order (spec.md §4.5).
func (c *Conn) OnMsg(msgName string, listener MsgListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[msgName] = append(c.listeners[msgName], &msgListenerEntry{fn: listener})
}

// OnceMsg registers a listener that auto-removes after its first fire.
func (c *Conn) OnceMsg(msgName string, listener MsgListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[msgName] = append(c.listeners[msgName], &msgListenerEntry{fn: listener, once: true})
}

// OffMsg removes listener from msgName. If listener is nil, every
// listener for msgName is removed.
//
// Identity is compared by the listener's code pointer (reflect.Value.
// Pointer), since Go func values otherwise support no equality check at
// all. This reliably distinguishes different named functions or methods,
// but two closures created from the same closure literal (e.g. inside a
// loop registering several OnMsg callbacks of identical shape) share one
// code pointer and are indistinguishable to OffMsg: removing one removes
// an arbitrary one of them. Callers who need to remove one of several
// structurally-identical closures should give each a distinct underlying
// function (a method value, or a closure literal written out separately)
// rather than relying on OffMsg to track instance identity.
func (c *Conn) OffMsg(msgName string, listener MsgListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if listener == nil {
		delete(c.listeners, msgName)
		return
	}
	target := reflect.ValueOf(listener).Pointer()
	entries := c.listeners[msgName]
	out := entries[:0]
	for _, e := range entries {
		if reflect.ValueOf(e.fn).Pointer() != target {
			out = append(out, e)
		}
	}
	c.listeners[msgName] = out
}

// ImplementApi registers handler for apiName (spec.md §4.5). Duplicate
// registration overwrites, matching server-side behavior; duplex clients
// that want "error on duplicate" semantics should check handlers
// themselves before calling this (spec.md §4.5 notes this as a
// server-vs-duplex-client policy choice, left to the caller here since
// both share one Conn implementation).
func (c *Conn) ImplementApi(apiName string, handler ApiHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[apiName] = handler
	return nil
}

// Disconnect implements Connection.Disconnect: it transitions to
// Disconnecting, settles all pending calls with NetworkError, transitions
// to Disconnected and runs postDisconnect. It does not wait for sends in
// progress and does not close the underlying transport.
func (c *Conn) Disconnect(ctx context.Context, code int, reason string) {
	c.setState(StateDisconnecting)
	c.pending.DisconnectAll()
	c.setState(StateDisconnected)
	c.flows.PostDisconnect.Exec(ctx, &PostDisconnectCtx{Conn: c, Reason: reason, IsManual: code == 0})
}

// resolveHandler looks up the handler for apiName, preferring a
// server-shared handler map when present (spec.md §3: "handlers are
// shared by reference across connections of the same server").
func (c *Conn) resolveHandler(apiName string) (ApiHandler, bool) {
	if c.sharedHandlers != nil {
		c.sharedMu.RLock()
		h, ok := c.sharedHandlers[apiName]
		c.sharedMu.RUnlock()
		if ok {
			return h, true
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[apiName]
	return h, ok
}

// HandleIncomingData decodes one frame of raw bytes and dispatches it:
// req -> invoke handler and send back res/err; res/err -> settle the
// matching pending call; msg -> fan out to listeners. This is the single
// entry point every transport (HTTP, duplex) feeds with bytes, per
// spec.md's data flow description in §2.
func (c *Conn) HandleIncomingData(ctx context.Context, data []byte, hint FrameHint) {
	recvCtx := &PreRecvDataCtx{Data: data, Conn: c}
	recvCtx, ok := c.flows.PreRecvData.Exec(ctx, recvCtx)
	if !ok {
		return
	}
	data = recvCtx.Data

	var d TransportData
	var err error
	var bodyPtr any = new(map[string]any)

	if c.dataType == DataTypeText {
		d, err = c.codec.DecodeTextBox(data, hint.SkipSN, hint.ServiceName, hint.SN, hint.Kind, bodyPtr)
	} else {
		d, err = c.codec.DecodeBinaryBox(data, bodyPtr)
	}
	if err != nil {
		tsErr := toLocalErr(err)
		if c.logger != nil {
			c.logger.Warn("decode incoming frame failed", "err", tsErr, "serviceName", hint.ServiceName)
		}
		if hint.SkipSN {
			// A req/msg arriving over a skip-SN (HTTP) transport has no SN
			// to settle a pending call with; reply on the wire so the
			// request's own responder channel (the HTTP round trip itself)
			// receives the RemoteError instead of hanging until the
			// client's context is cancelled.
			c.replyErr(ctx, TransportData{SN: hint.SN, ServiceName: hint.ServiceName}, tsErr)
			return
		}
		if hint.SN != 0 {
			c.pending.Settle(hint.SN, Fail[any](tsErr))
		}
		return
	}

	// The codec hands back bodyPtr itself (a *map[string]any) as d.Body;
	// dereference to a plain map[string]any so a dynamic-body handler or
	// client sees the same static type regardless of which transport
	// delivered the call (the HTTP client's own decode path already
	// yields a map[string]any value, not a pointer).
	if m, ok := bodyPtr.(*map[string]any); ok && d.Body == bodyPtr {
		d.Body = *m
	}

	switch d.Type {
	case TypeReq:
		c.dispatchReq(ctx, d)
	case TypeRes:
		c.pending.Settle(d.SN, Succ[any](d.Body))
	case TypeErr:
		c.pending.Settle(d.SN, Fail[any](d.Err))
	case TypeMsg:
		c.dispatchMsg(ctx, d)
	}
}

// FrameHint carries out-of-band framing details a transport already knows
// (service name from an HTTP URL path, SN implied by the sole in-flight
// exchange) so the codec's encodeSkipSN optimization can apply (spec.md
// §4.2(a)).
type FrameHint struct {
	SkipSN      bool
	ServiceName string
	SN          uint32
	// Kind distinguishes a req POST from a msg POST when SkipSN is set;
	// the HTTP server derives it from X-TSRPC-DATA-TYPE.
	Kind TransportDataType
}

func (c *Conn) dispatchReq(ctx context.Context, d TransportData) {
	handler, ok := c.resolveHandler(d.ServiceName)
	if !ok {
		c.replyErr(ctx, d, NewServerError("Not Implemented", CodeNotImplemented, nil, false))
		return
	}

	call := &ApiCall{Conn: c, ServiceName: d.ServiceName, SN: d.SN, Req: d.Body, ctx: ctx, returnInnerError: c.returnInner}

	var timeoutTimer *time.Timer
	if c.apiTimeout > 0 {
		timeoutTimer = time.AfterFunc(c.apiTimeout, func() {
			call.mu.Lock()
			already := call.returned
			call.returned = true
			call.mu.Unlock()
			if !already {
				c.replyErr(ctx, d, NewServerError("Server Timeout", CodeServerTimeout, nil, false))
			}
		})
	}

	call.onReturn = func(ret ApiReturn[any]) {
		if timeoutTimer != nil {
			timeoutTimer.Stop()
		}
		retCtx := &PreApiCallReturnCtx{Call: call, Return: ret}
		retCtx, ok := c.flows.PreApiCallReturn.Exec(ctx, retCtx)
		if !ok {
			return
		}
		if retCtx.Return.IsSucc {
			c.replyRes(ctx, d, retCtx.Return.Res)
		} else {
			c.replyErrValue(ctx, d, retCtx.Return.Err)
		}
	}

	preCtx := &PreApiCallCtx{Call: call}
	preCtx, ok = c.flows.PreApiCall.Exec(ctx, preCtx)
	if !ok {
		return
	}

	// The handler runs in its own goroutine so a slow handler never blocks
	// the apiTimeout AfterFunc above from firing on schedule - spec.md §7:
	// "Server timeout -> handler continues in the background but
	// call.succ/call.error become no-ops."
	go func() {
		defer func() {
			if r := recover(); r != nil {
				call.mu.Lock()
				already := call.returned
				call.returned = true
				call.mu.Unlock()
				if !already {
					c.replyErr(ctx, d, NewServerError("Internal Server Error", CodeInternalErr, fmt.Errorf("%v", r), c.returnInner))
				}
			}
		}()
		handler(preCtx.Call)
	}()
}

func (c *Conn) replyRes(ctx context.Context, req TransportData, res any) {
	resData := NewRes(req.ServiceName, req.SN, res, nil)
	c.sendReply(ctx, resData)
}

func (c *Conn) replyErr(ctx context.Context, req TransportData, err *TsrpcError) {
	c.replyErrValue(ctx, req, err)
}

func (c *Conn) replyErrValue(ctx context.Context, req TransportData, err *TsrpcError) {
	errData := NewErr(req.SN, err, nil)
	c.sendReply(ctx, errData)
}

func (c *Conn) sendReply(ctx context.Context, d TransportData) {
	var data []byte
	var err error
	if c.dataType == DataTypeText {
		data, err = c.codec.EncodeTextBox(d, c.skipSN)
	} else {
		data, err = c.codec.EncodeBinaryBox(d)
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("encode reply failed", "err", err)
		}
		return
	}
	sendCtx := &PreSendDataCtx{Data: data, TransportData: d, Conn: c}
	sendCtx, ok := c.flows.PreSendData.Exec(ctx, sendCtx)
	if !ok {
		return
	}
	if err := c.sendr.Send(ctx, sendCtx.Data, d); err != nil && c.logger != nil {
		c.logger.Warn("send reply failed", "err", err)
		return
	}
	c.flows.PostSendData.Exec(ctx, &PostSendDataCtx{Data: sendCtx.Data, TransportData: d, Conn: c})
}

func (c *Conn) dispatchMsg(ctx context.Context, d TransportData) {
	recvCtx := &PreRecvMsgCtx{MsgName: d.ServiceName, Msg: d.Body, Conn: c}
	recvCtx, ok := c.flows.PreRecvMsg.Exec(ctx, recvCtx)
	if !ok {
		return
	}

	c.mu.Lock()
	entries := append([]*msgListenerEntry(nil), c.listeners[recvCtx.MsgName]...)
	remaining := entries[:0]
	for _, e := range entries {
		if !e.once {
			remaining = append(remaining, e)
		}
	}
	c.listeners[recvCtx.MsgName] = remaining
	c.mu.Unlock()

	for _, e := range entries {
		e.fn(ctx, recvCtx.MsgName, recvCtx.Msg)
	}
}
