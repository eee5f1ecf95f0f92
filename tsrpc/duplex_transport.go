// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DuplexClientConfig configures a persistent, bidirectional connection
// (spec.md §4.7's alternative to the stateless HttpTransport: server->client
// calls and push messages become possible).
type DuplexClientConfig struct {
	URL               string
	Dialer            *websocket.Dialer
	Header            http.Header
	ServiceMap        *ServiceMap
	Validator         Validator
	Logger            Logger
	LogLevel          LogLevel
	DataType          DataType // default DataTypeText
	CallApiTimeout    time.Duration
	ReturnInnerError  bool
	HeartbeatInterval time.Duration // 0 disables heartbeat frames
}

// DuplexClientTransport dials a single long-lived duplex connection, the
// way WebSocketClientTransport dials one websocket per MCP session.
type DuplexClientTransport struct {
	cfg DuplexClientConfig
}

// NewDuplexClientTransport builds a transport bound to cfg; call Connect to
// dial.
func NewDuplexClientTransport(cfg DuplexClientConfig) *DuplexClientTransport {
	return &DuplexClientTransport{cfg: cfg}
}

// Connect dials the configured URL and returns a live Connection. The
// returned Connection's CallApi/SendMsg/ImplementApi/OnMsg are all usable
// immediately; the read loop that feeds inbound frames back into the
// Connection runs in its own goroutine for the lifetime of the connection.
func (t *DuplexClientTransport) Connect(ctx context.Context) (Connection, error) {
	cfg := t.cfg
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.DataType == "" {
		cfg.DataType = DataTypeText
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger = SetLogLevel(logger, cfg.LogLevel)

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, NewNetworkError(err.Error(), "ECONNREFUSED")
		}
		return nil, NewNetworkError(err.Error(), "")
	}

	codec := NewCodec(cfg.ServiceMap, cfg.Validator)
	dc := &duplexConn{
		ws:        ws,
		sessionID: uuid.NewString(),
		dataType:  cfg.DataType,
		codec:     codec,
		logger:    logger,
	}

	conn := NewConn(ConnConfig{
		Side:        SideClient,
		Codec:       codec,
		ServiceMap:  cfg.ServiceMap,
		Logger:      logger,
		DataType:    cfg.DataType,
		ApiTimeout:  cfg.CallApiTimeout,
		ReturnInner: cfg.ReturnInnerError,
		Sender:      dc,
	})
	dc.conn = conn

	preCtx := &PreConnectCtx{Conn: conn}
	if _, ok := conn.Flows().PreConnect.Exec(ctx, preCtx); !ok {
		ws.Close()
		return nil, NewLocalError("aborted by preConnect flow")
	}
	conn.MarkConnected(ctx)

	go dc.readLoop(context.Background())
	if cfg.HeartbeatInterval > 0 {
		go dc.heartbeatLoop(context.Background(), cfg.HeartbeatInterval)
	}

	return conn, nil
}

// duplexConn is the sender half of a single gorilla/websocket connection,
// shared between the client dialer above and the server acceptor below
// (spec.md C5: one Conn per logical peer, either side of the wire).
type duplexConn struct {
	ws        *websocket.Conn
	sessionID string
	dataType  DataType
	codec     *Codec
	logger    Logger

	conn *Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// SessionID returns the UUID assigned to this connection at accept/dial
// time, independent of the server-scoped uint32 Conn.ID used for wire
// framing and broadcast partitioning.
func (dc *duplexConn) SessionID() string { return dc.sessionID }

// Send implements sender: write one already-encoded frame to the socket.
// Unlike the HTTP transport, Send never itself settles a PendingCall -
// responses arrive asynchronously through readLoop instead.
func (dc *duplexConn) Send(ctx context.Context, data []byte, td TransportData) error {
	dc.writeMu.Lock()
	defer dc.writeMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok {
		dc.ws.SetWriteDeadline(deadline)
		defer dc.ws.SetWriteDeadline(time.Time{})
	}

	msgType := websocket.TextMessage
	if dc.dataType == DataTypeBuffer {
		msgType = websocket.BinaryMessage
	}
	if err := dc.ws.WriteMessage(msgType, data); err != nil {
		return NewNetworkError(err.Error(), "")
	}
	return nil
}

// readLoop feeds every inbound frame into conn.HandleIncomingData until the
// socket closes, then disconnects the Connection. Duplex frames always
// carry their own SN (spec.md §4.2(a): encodeSkipSN only applies to
// stateless HTTP), so no FrameHint is needed beyond the zero value.
func (dc *duplexConn) readLoop(ctx context.Context) {
	for {
		_, data, err := dc.ws.ReadMessage()
		if err != nil {
			reason := "connection closed by peer"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, io.EOF) {
				dc.logger.Warn("duplex read error", "err", err)
				reason = err.Error()
			}
			dc.conn.Disconnect(ctx, 0, reason)
			return
		}
		dc.conn.HandleIncomingData(ctx, data, FrameHint{})
	}
}

// heartbeatLoop periodically writes a TypeHeartbeat frame so idle duplex
// connections are distinguishable from silently dead ones (spec.md §3's
// heartbeat/handshake lifecycle frame types).
func (dc *duplexConn) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dc.conn.State() != StateConnected {
				return
			}
			hb := TransportData{Type: TypeHeartbeat}
			var encoded []byte
			var err error
			if dc.dataType == DataTypeText {
				encoded, err = dc.codec.EncodeTextBox(hb, false)
			} else {
				encoded, err = dc.codec.EncodeBinaryBox(hb)
			}
			if err != nil {
				dc.logger.Warn("heartbeat encode failed", "err", err)
				continue
			}
			if err := dc.Send(ctx, encoded, hb); err != nil {
				dc.logger.Warn("heartbeat send failed", "err", err)
			}
		}
	}
}

// Close closes the underlying socket directly; gorilla/websocket handles
// the close handshake.
func (dc *duplexConn) Close() error {
	var err error
	dc.closeOnce.Do(func() {
		err = dc.ws.Close()
	})
	return err
}

// DuplexServerConfig configures a DuplexServerTransport.
type DuplexServerConfig struct {
	ServiceMap        *ServiceMap
	Validator         Validator
	Logger            Logger
	LogLevel          LogLevel
	DataType          DataType // default DataTypeText
	ApiCallTimeout    time.Duration
	ReturnInnerError  bool
	HeartbeatInterval time.Duration
	Subprotocols      []string
	CheckOrigin       func(r *http.Request) bool
}

// DuplexServerTransport upgrades inbound HTTP requests to websocket
// connections and hands each one to the shared Server (spec.md §4.6),
// the way WebSocketServerTransport.ServeHTTP upgrades and wraps a
// Connection. Mount it as an http.Handler on whatever path the duplex
// endpoint should live at; it does not listen on its own.
type DuplexServerTransport struct {
	cfg      DuplexServerConfig
	server   *Server
	upgrader websocket.Upgrader
}

// NewDuplexServerTransport builds a DuplexServerTransport and the *Server
// it feeds. Unlike NewHttpServer, the returned transport is not itself a
// net/http listener: Start/Stop are no-ops from the transport's
// perspective, since an external *http.ServeMux or *http.Server is
// expected to mount it (spec.md §4.7's transports being pluggable).
func NewDuplexServerTransport(cfg DuplexServerConfig) (*DuplexServerTransport, *Server) {
	if cfg.DataType == "" {
		cfg.DataType = DataTypeText
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	dt := &DuplexServerTransport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			Subprotocols: cfg.Subprotocols,
			CheckOrigin:  checkOrigin,
		},
	}
	srv := NewServer(ServerConfig{
		ServiceMap:       cfg.ServiceMap,
		Validator:        cfg.Validator,
		Logger:           cfg.Logger,
		LogLevel:         cfg.LogLevel,
		ApiCallTimeout:   cfg.ApiCallTimeout,
		ReturnInnerError: cfg.ReturnInnerError,
	}, dt)
	dt.server = srv
	return dt, srv
}

func (dt *DuplexServerTransport) start(ctx context.Context) error { return nil }
func (dt *DuplexServerTransport) stop(ctx context.Context) error  { return nil }

// ServeHTTP upgrades the request to a websocket connection, registers a new
// Conn with the Server, and blocks running that connection's read loop
// until the socket closes or the request context is cancelled. Mount this
// on the duplex endpoint's path; run it behind an *http.Server (or
// alongside an HttpServer on a different path) that you Start/Stop
// yourself.
func (dt *DuplexServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := dt.upgrader.Upgrade(w, req, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	logger := dt.server.logger
	dc := &duplexConn{
		ws:        ws,
		sessionID: uuid.NewString(),
		dataType:  dt.cfg.DataType,
		codec:     dt.server.codec,
		logger:    logger,
	}

	conn := dt.server.addConnection(dt.cfg.DataType, dc, false)
	dc.conn = conn
	defer dt.server.removeConnection(conn.ID())

	ctx := req.Context()
	preCtx := &PreConnectCtx{Conn: conn}
	if _, ok := conn.Flows().PreConnect.Exec(ctx, preCtx); !ok {
		ws.Close()
		return
	}
	conn.MarkConnected(ctx)

	if dt.cfg.HeartbeatInterval > 0 {
		go dc.heartbeatLoop(ctx, dt.cfg.HeartbeatInterval)
	}

	dc.readLoop(ctx)
}
