// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bassosimone/errclass"
)

// HTTP headers used by the transport (spec.md §6).
const (
	headerContentType = "Content-Type"
	headerDataType    = "X-TSRPC-DATA-TYPE"
	headerProtoInfo   = "X-TSRPC-PROTO-INFO"
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// HttpClientConfig is spec.md §6's enumerated client configuration.
type HttpClientConfig struct {
	Server           string // default "http://127.0.0.1:3000"
	JsonHostPath     string // default "/"
	DataType         DataType // default DataTypeText
	ServiceMap       *ServiceMap
	Validator        Validator
	Logger           Logger
	LogLevel         LogLevel
	CallApiTimeout   time.Duration
	// DecodeReturnText is a pluggable policy hook: decodeReturnText ??
	// JSON.parse (spec.md §9 Design Note). Nil uses encoding/json.
	DecodeReturnText func([]byte) (ApiReturn[any], error)
	HTTPClient       *http.Client
	AdvertiseProto   *ProtoInfo
}

// HttpClient is the stateless HTTP specialization of C5 (spec.md §4.7):
// each CallApi maps to exactly one POST; no duplex messaging is possible.
type HttpClient struct {
	cfg    HttpClientConfig
	codec  *Codec
	logger Logger
	http   *http.Client
	conn   *Conn
}

// NewHttpClient builds an HttpClient. The underlying Conn is created
// already Connected, since a stateless HTTP connection is logically
// always Connected (spec.md §3).
func NewHttpClient(cfg HttpClientConfig) *HttpClient {
	if cfg.Server == "" {
		cfg.Server = "http://127.0.0.1:3000"
	}
	if cfg.JsonHostPath == "" {
		cfg.JsonHostPath = "/"
	}
	if cfg.DataType == "" {
		cfg.DataType = DataTypeText
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger = SetLogLevel(logger, cfg.LogLevel)

	hc := &HttpClient{
		cfg:    cfg,
		codec:  NewCodec(cfg.ServiceMap, cfg.Validator),
		logger: logger,
		http:   cfg.HTTPClient,
	}

	hc.conn = NewConn(ConnConfig{
		Side:       SideClient,
		Codec:      hc.codec,
		ServiceMap: cfg.ServiceMap,
		Logger:     logger,
		DataType:   cfg.DataType,
		SkipSN:     true,
		ApiTimeout: cfg.CallApiTimeout,
		Sender:     hc,
	})
	hc.conn.MarkConnected(context.Background())
	return hc
}

// Conn returns the underlying Connection: CallApi, SendMsg, OnMsg, etc.
// Per spec.md §4.7, implementApi and server->client messaging are not
// meaningful on the HTTP client and are simply never exercised (there is
// no inbound byte stream to dispatch them from).
func (hc *HttpClient) Conn() Connection { return hc.conn }

// Send implements the sender interface consulted by Conn.CallApi/SendMsg.
// It performs the whole HTTP round trip: POST the encoded body, and
// (for req) hand the response to the Conn before returning - a buffer
// response through conn.HandleIncomingData, a text response through the
// preRecvData flow and DecodeReturnText - so the PendingCall is already
// settled by the time
// CallApi starts waiting on it (spec.md §4.7's "encodeSkipSN" client
// optimization: the SN never goes on the wire; the client already knows
// which call the sole in-flight response belongs to).
func (hc *HttpClient) Send(ctx context.Context, data []byte, td TransportData) error {
	url := hc.cfg.Server
	skipSN := hc.cfg.DataType == DataTypeText
	if skipSN {
		url = strings.TrimRight(hc.cfg.Server, "/") + hc.cfg.JsonHostPath + td.ServiceName
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return NewLocalError(err.Error())
	}

	if hc.cfg.DataType == DataTypeText {
		req.Header.Set(headerContentType, contentTypeJSON)
	} else {
		req.Header.Set(headerContentType, contentTypeBinary)
	}
	if td.Type == TypeMsg {
		req.Header.Set(headerDataType, "msg")
	} else if td.Type == TypeCustom {
		req.Header.Set(headerDataType, "custom")
	}
	if hc.cfg.AdvertiseProto != nil {
		if piJSON, err := json.Marshal(hc.cfg.AdvertiseProto); err == nil {
			req.Header.Set(headerProtoInfo, string(piJSON))
		}
	}

	resp, err := hc.http.Do(req)
	if err != nil {
		return hc.classifyDialError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError(err.Error(), "")
	}

	if pi := resp.Header.Get(headerProtoInfo); pi != "" {
		var parsed ProtoInfo
		if err := json.Unmarshal([]byte(pi), &parsed); err != nil {
			hc.logger.Warn("failed to parse X-TSRPC-PROTO-INFO", "err", err)
		}
	}

	if td.Type == TypeMsg {
		// A one-shot message POST has no matching pending call to settle.
		return nil
	}

	hc.handleResponse(ctx, body, td)
	return nil
}

func (hc *HttpClient) handleResponse(ctx context.Context, body []byte, td TransportData) {
	if hc.cfg.DataType != DataTypeText {
		hc.conn.HandleIncomingData(ctx, body, FrameHint{SN: td.SN})
		return
	}

	decode := hc.cfg.DecodeReturnText
	if decode == nil {
		decode = defaultDecodeReturnText
	}
	recvCtx, ok := hc.conn.flows.PreRecvData.Exec(ctx, &PreRecvDataCtx{Data: body, Conn: hc.conn})
	if !ok {
		return
	}
	ret, err := decode(recvCtx.Data)
	if err != nil {
		hint := "Response body is not a valid JSON."
		if hc.conn.flows.PreRecvData.Len() > 0 {
			hint += " (a preRecvDataFlow node is registered; check whether it is meant to transform this body)"
		}
		localErr := NewLocalError(hint)
		hc.conn.pending.Settle(td.SN, Fail[any](localErr))
		return
	}
	if ret.IsSucc {
		hc.conn.pending.Settle(td.SN, Succ[any](ret.Res))
	} else {
		hc.conn.pending.Settle(td.SN, Fail[any](ret.Err))
	}
}

// defaultDecodeReturnText is the decodeReturnText ?? JSON.parse default
// (spec.md §9 Design Note): {isSucc, res|err}.
func defaultDecodeReturnText(body []byte) (ApiReturn[any], error) {
	var raw struct {
		IsSucc bool            `json:"isSucc"`
		Res    json.RawMessage `json:"res"`
		Err    *TsrpcError     `json:"err"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ApiReturn[any]{}, err
	}
	if raw.IsSucc {
		var res map[string]any
		if len(raw.Res) > 0 {
			if err := json.Unmarshal(raw.Res, &res); err != nil {
				return ApiReturn[any]{}, err
			}
		}
		return Succ[any](res), nil
	}
	return Fail[any](raw.Err), nil
}

// classifyDialError maps a transport-level dial error to a NetworkError,
// using github.com/bassosimone/errclass to recognize ECONNREFUSED and
// similar platform errnos (spec.md §6, S7).
func (hc *HttpClient) classifyDialError(err error) *TsrpcError {
	class := errclass.New(err)
	if class == "" {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			class = CodeTimeout
		} else {
			class = "ECONNREFUSED"
		}
	}
	return NewNetworkError(err.Error(), class)
}

// HttpServerConfig is spec.md §6's enumerated server configuration.
type HttpServerConfig struct {
	Port             int
	JsonHostPath     string // default "/"
	DefaultDataType  DataType // default DataTypeText
	CORS             string // default "*"
	CorsMaxAge       int    // default 3600
	ApiCallTimeout   time.Duration
	ReturnInnerError bool
	Logger           Logger
	LogLevel         LogLevel
	ServiceMap       *ServiceMap
	Validator        Validator
	KeepAliveTimeout time.Duration // default 5s
}

// HttpServer specializes Server for a stateless request/response
// protocol: one inbound HTTP request = one transient Connection
// (spec.md §4.7).
type HttpServer struct {
	cfg    HttpServerConfig
	server *Server
	http   *http.Server
}

// NewHttpServer builds an HttpServer bound to cfg; the returned *Server
// drives Start/Stop/ImplementApi/BroadcastMsg.
func NewHttpServer(cfg HttpServerConfig) (*HttpServer, *Server) {
	if cfg.JsonHostPath == "" {
		cfg.JsonHostPath = "/"
	}
	if cfg.DefaultDataType == "" {
		cfg.DefaultDataType = DataTypeText
	}
	if cfg.CORS == "" {
		cfg.CORS = "*"
	}
	if cfg.CorsMaxAge == 0 {
		cfg.CorsMaxAge = 3600
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 5 * time.Second
	}

	hs := &HttpServer{cfg: cfg}
	srv := NewServer(ServerConfig{
		ServiceMap:       cfg.ServiceMap,
		Validator:        cfg.Validator,
		Logger:           cfg.Logger,
		LogLevel:         cfg.LogLevel,
		ApiCallTimeout:   cfg.ApiCallTimeout,
		ReturnInnerError: cfg.ReturnInnerError,
	}, hs)
	hs.server = srv

	hs.http = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     hs,
		IdleTimeout: cfg.KeepAliveTimeout,
	}
	return hs, srv
}

func (hs *HttpServer) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", hs.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := hs.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.server.logger.Error("http server exited", "err", err)
		}
	}()
	return nil
}

func (hs *HttpServer) stop(ctx context.Context) error {
	return hs.http.Shutdown(ctx)
}

// httpResponder is the per-request sender: Send buffers the one reply
// this transient Connection will ever produce, which ServeHTTP then
// writes to the ResponseWriter.
type httpResponder struct {
	ch chan responderMsg
}

type responderMsg struct {
	data []byte
	td   TransportData
}

func newHTTPResponder() *httpResponder {
	return &httpResponder{ch: make(chan responderMsg, 1)}
}

func (r *httpResponder) Send(ctx context.Context, data []byte, td TransportData) error {
	select {
	case r.ch <- responderMsg{data: data, td: td}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (hs *HttpServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", hs.cfg.CORS)
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", hs.cfg.CorsMaxAge))
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	contentType := req.Header.Get(headerContentType)
	dataType := DataTypeBuffer
	if strings.Contains(contentType, contentTypeJSON) {
		dataType = DataTypeText
	}

	serviceName := strings.TrimPrefix(req.URL.Path, hs.cfg.JsonHostPath)
	serviceName = strings.TrimPrefix(serviceName, "/")

	// X-TSRPC-DATA-TYPE distinguishes a one-shot message POST (allowed,
	// spec.md §4.7) from an ordinary API call; server->client messages
	// remain impossible since the HTTP server never initiates a frame.
	isMsg := req.Header.Get(headerDataType) == "msg"

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	responder := newHTTPResponder()
	conn := hs.server.addConnection(dataType, responder, true)
	defer hs.server.removeConnection(conn.ID())

	ctx := req.Context()
	conn.flows.PreConnect.Exec(ctx, &PreConnectCtx{Conn: conn})
	conn.MarkConnected(ctx)

	hint := FrameHint{}
	if dataType == DataTypeText {
		kind := TypeReq
		if isMsg {
			kind = TypeMsg
		}
		hint = FrameHint{SkipSN: true, ServiceName: serviceName, Kind: kind}
	}
	conn.HandleIncomingData(ctx, body, hint)

	if isMsg {
		// A message has no res/err to wait for; acknowledge receipt.
		hs.writeReply(w, dataType, responderMsg{data: []byte(`{"isSucc":true}`)})
		conn.Disconnect(ctx, 0, "HTTP exchange complete")
		return
	}

	select {
	case reply := <-responder.ch:
		hs.writeReply(w, dataType, reply)
	case <-ctx.Done():
		http.Error(w, "request cancelled", http.StatusGatewayTimeout)
	}

	conn.Disconnect(ctx, 0, "HTTP exchange complete")
}

func (hs *HttpServer) writeReply(w http.ResponseWriter, dataType DataType, reply responderMsg) {
	if dataType == DataTypeText {
		w.Header().Set(headerContentType, contentTypeJSON)
	} else {
		w.Header().Set(headerContentType, contentTypeBinary)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.data)
}
