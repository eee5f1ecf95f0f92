// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServerState is one of the four states a Server moves through (spec.md
// §3): Stopped -> Starting -> Started -> Stopping -> Stopped, or
// Stopped -> Starting -> Stopped on start failure.
type ServerState int

const (
	ServerStopped ServerState = iota
	ServerStarting
	ServerStarted
	ServerStopping
)

// HandlerLoader is the pluggable filesystem-handler-discovery collaborator
// named in spec.md §1 as external to THE CORE. tsrpc-go ships only the
// interface and a func adapter; no filesystem implementation.
type HandlerLoader interface {
	Load(ctx context.Context, apiDir, apiName string) (ApiHandler, error)
}

// HandlerLoaderFunc adapts a function to HandlerLoader.
type HandlerLoaderFunc func(ctx context.Context, apiDir, apiName string) (ApiHandler, error)

func (f HandlerLoaderFunc) Load(ctx context.Context, apiDir, apiName string) (ApiHandler, error) {
	return f(ctx, apiDir, apiName)
}

// transportHooks lets a transport specialization (HttpTransport, the
// duplex transport) plug its _start/_stop behavior into the generic
// Server lifecycle (spec.md §4.6).
type transportHooks interface {
	start(ctx context.Context) error
	stop(ctx context.Context) error
}

// ServerConfig configures a Server (spec.md §6's enumerated server
// configuration, minus the HTTP-specific fields which live on
// HttpServerConfig).
type ServerConfig struct {
	ServiceMap       *ServiceMap
	Validator        Validator
	Logger           Logger
	LogLevel         LogLevel
	ApiCallTimeout   time.Duration
	ReturnInnerError bool
}

// Server owns a set of connections, dispatches inbound calls to
// registered handlers, and implements graceful stop and broadcast
// (spec.md C6).
type Server struct {
	cfg    ServerConfig
	codec  *Codec
	logger Logger

	mu          sync.RWMutex
	state       ServerState
	connections map[uint32]*Conn
	connCounter Counter

	handlersMu sync.RWMutex
	handlers   map[string]ApiHandler

	flows *FlowStages

	hooks transportHooks
}

// NewServer builds a Server in the Stopped state. hooks supplies the
// transport-specific _start/_stop behavior (spec.md §4.6); transport
// constructors (e.g. NewHttpServer) pass themselves here.
func NewServer(cfg ServerConfig, hooks transportHooks) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger = SetLogLevel(logger, cfg.LogLevel)

	return &Server{
		cfg:         cfg,
		codec:       NewCodec(cfg.ServiceMap, cfg.Validator),
		logger:      logger,
		state:       ServerStopped,
		connections: make(map[uint32]*Conn),
		handlers:    make(map[string]ApiHandler),
		flows:       NewFlowStages(logger),
		hooks:       hooks,
	}
}

// Flows returns the FlowStages shared by every connection this server
// accepts (spec.md §4.3/§4.6). Register nodes on it before Start (or at
// any point before the traffic you want to intercept arrives) the same
// way ImplementApi registers a handler shared across connections:
// PreApiCall, PreApiCallReturn, PreSendMsg, PreRecvMsg, PreSendData,
// PostSendData, PreRecvData, PreConnect and PostConnect/PostDisconnect
// all apply to every HttpServer request and every DuplexServerTransport
// socket this Server owns. PreBroadcastMsg and PreCallApi/
// PreCallApiReturn are exercised here too, the latter only on a duplex
// server Conn that itself calls out via CallApi.
func (s *Server) Flows() *FlowStages { return s.flows }

// State returns the server's current lifecycle state.
func (s *Server) State() ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ImplementApi registers handler for apiName, shared by reference across
// every connection of this server (spec.md §3's ownership rule).
func (s *Server) ImplementApi(apiName string, handler ApiHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[apiName] = handler
}

// AutoImplementApiResult aggregates per-service load outcomes (spec.md
// §4.6).
type AutoImplementApiResult struct {
	Succ  []string
	Fail  []string
	Delay []string
}

// AutoImplementApi enumerates every API service in ServiceMap.LocalApi
// and loads a handler for each via loader (spec.md §4.6). If delay is
// non-zero, eager loading is scheduled after that duration; a failed load
// installs a NOT_IMPLEMENTED stub.
func (s *Server) AutoImplementApi(ctx context.Context, loader HandlerLoader, apiDir string, delay time.Duration) AutoImplementApiResult {
	var result AutoImplementApiResult

	for name, svc := range s.cfg.ServiceMap.LocalApi {
		if svc.Kind != KindApi {
			continue
		}
		name := name
		if delay > 0 {
			result.Delay = append(result.Delay, name)
			s.ImplementApi(name, notImplementedStub(name))
			time.AfterFunc(delay, func() {
				s.loadAndInstall(ctx, loader, apiDir, name)
			})
			continue
		}
		if s.loadAndInstall(ctx, loader, apiDir, name) {
			result.Succ = append(result.Succ, name)
		} else {
			result.Fail = append(result.Fail, name)
		}
	}
	return result
}

func (s *Server) loadAndInstall(ctx context.Context, loader HandlerLoader, apiDir, name string) bool {
	handler, err := loader.Load(ctx, apiDir, name)
	if err != nil {
		s.logger.Warn("autoImplementApi: load failed", "api", name, "err", err)
		s.ImplementApi(name, notImplementedStub(name))
		return false
	}
	s.ImplementApi(name, handler)
	return true
}

func notImplementedStub(apiName string) ApiHandler {
	return func(call *ApiCall) {
		call.Error(fmt.Sprintf("%s is not implemented", apiName), CodeNotImplemented, nil)
	}
}

// Start requires state Stopped; it runs the transport-specific _start and
// transitions to Started. On failure it returns to Stopped and propagates
// the error (spec.md §4.6).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ServerStopped {
		s.mu.Unlock()
		return fmt.Errorf("tsrpc: server start: expected state Stopped, got %v", s.state)
	}
	s.state = ServerStarting
	s.mu.Unlock()

	if err := s.hooks.start(ctx); err != nil {
		s.mu.Lock()
		s.state = ServerStopped
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = ServerStarted
	s.mu.Unlock()
	return nil
}

// Stop implements spec.md §4.6's graceful/hard stop: it transitions to
// Stopping; if gracefulWait > 0, it marks every connection Disconnecting and waits
// until every pending API call drains or the grace window elapses,
// whichever first; then hard-stops remaining connections with reason
// "Server stopped" and runs the transport _stop. State becomes Stopped.
func (s *Server) Stop(ctx context.Context, gracefulWait time.Duration) error {
	s.mu.Lock()
	s.state = ServerStopping
	conns := make([]*Conn, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if gracefulWait > 0 {
		for _, c := range conns {
			c.setState(StateDisconnecting)
		}
		deadline := time.After(gracefulWait)
	drain:
		for {
			if s.pendingApiCallNum(conns) == 0 {
				break
			}
			select {
			case <-deadline:
				break drain
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Disconnect(gctx, 0, "Server stopped")
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.connections = make(map[uint32]*Conn)
	s.mu.Unlock()

	err := s.hooks.stop(ctx)

	s.mu.Lock()
	s.state = ServerStopped
	s.mu.Unlock()
	return err
}

func (s *Server) pendingApiCallNum(conns []*Conn) int {
	total := 0
	for _, c := range conns {
		total += c.PendingCallCount()
	}
	return total
}

// addConnection registers conn, sharing this server's handler map, and
// assigns it a server-unique ID (spec.md §3 ownership: "the Server
// exclusively owns its connection set"). skipSN mirrors the owning
// transport's encodeSkipSN property (spec.md §4.2(a)).
func (s *Server) addConnection(dataType DataType, sendr sender, skipSN bool) *Conn {
	id := s.connCounter.Next()
	conn := NewConn(ConnConfig{
		ID:             id,
		Side:           SideServer,
		Codec:          s.codec,
		ServiceMap:     s.cfg.ServiceMap,
		Logger:         s.logger,
		DataType:       dataType,
		SkipSN:         skipSN,
		ApiTimeout:     s.cfg.ApiCallTimeout,
		ReturnInner:    s.cfg.ReturnInnerError,
		Sender:         sendr,
		SharedHandlers: s.handlers,
		SharedMu:       &s.handlersMu,
		SharedFlows:    s.flows,
	})

	s.mu.Lock()
	s.connections[id] = conn
	s.mu.Unlock()
	return conn
}

func (s *Server) removeConnection(id uint32) {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
}

// connectionsSnapshot takes a point-in-time copy of the connection set,
// per spec.md §5: "iteration (e.g., for broadcast) takes a snapshot."
func (s *Server) connectionsSnapshot() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// BroadcastMsg partitions target connections by DataType, encodes the
// body exactly once per partition, runs preBroadcastMsg once and
// preSendData once per partition, then fans the encoded bytes out
// (spec.md §4.6). Returns an aggregated OpResultVoid: success iff every
// per-connection send succeeded.
func (s *Server) BroadcastMsg(ctx context.Context, msgName string, msg any, conns []Connection) OpResultVoid {
	if s.State() == ServerStopping || s.State() == ServerStopped {
		return OpResultVoid{IsSucc: false, Err: NewLocalError("Server is not started")}
	}

	var targets []*Conn
	if conns == nil {
		targets = s.connectionsSnapshot()
	} else {
		for _, c := range conns {
			if cc, ok := c.(*Conn); ok {
				targets = append(targets, cc)
			}
		}
	}

	preCtx := &PreBroadcastMsgCtx{MsgName: msgName, Msg: msg, Conns: toConnectionSlice(targets)}
	preCtx, ok := s.flows.PreBroadcastMsg.Exec(ctx, preCtx)
	if !ok {
		return OpResultVoid{IsSucc: false, Err: NewLocalError("aborted by preBroadcastMsg flow")}
	}

	byType := map[DataType][]*Conn{}
	for _, c := range targets {
		byType[c.DataType()] = append(byType[c.DataType()], c)
	}

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var failures []error

	for dataType, group := range byType {
		dataType, group := dataType, group
		msgData := NewMsg(msgName, preCtx.Msg)

		var encoded []byte
		var err error
		if dataType == DataTypeText {
			encoded, err = s.codec.EncodeTextBox(msgData, false)
		} else {
			encoded, err = s.codec.EncodeBinaryBox(msgData)
		}
		if err != nil {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
			continue
		}

		sendCtx := &PreSendDataCtx{Data: encoded, TransportData: msgData, Conns: toConnectionSlice(group)}
		// preSendData fires once per partition, not per connection
		// (spec.md §4.6).
		sendCtx, ok := group[0].flows.PreSendData.Exec(ctx, sendCtx)
		if !ok {
			continue
		}

		for _, c := range group {
			c := c
			g.Go(func() error {
				if err := c.sendr.Send(ctx, sendCtx.Data, msgData); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Errorf("conn %d: %w", c.ID(), err))
					mu.Unlock()
					return err
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(failures) > 0 {
		msg := failures[0].Error()
		for _, f := range failures[1:] {
			msg += "; " + f.Error()
		}
		return OpResultVoid{IsSucc: false, Err: NewNetworkError(msg, "")}
	}
	return OpResultVoid{IsSucc: true}
}

func toConnectionSlice(conns []*Conn) []Connection {
	out := make([]Connection, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}
