// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

// FlowStages bundles every flow defined by spec.md §4.3. A client-side
// Connection owns its own FlowStages, so registering a node on e.g.
// conn.Flows().PreCallApi affects only that connection. Every Conn a
// Server accepts shares that Server's FlowStages (see Server.Flows), so a
// node registered on a server-side conn.Flows() applies to every
// connection of that server.
type FlowStages struct {
	PreConnect     *Flow[*PreConnectCtx]
	PostConnect    *Flow[*PostConnectCtx]
	PostDisconnect *Flow[*PostDisconnectCtx]

	PreCallApi       *Flow[*PreCallApiCtx]
	PreCallApiReturn *Flow[*PreCallApiReturnCtx]

	PreApiCall       *Flow[*PreApiCallCtx]
	PreApiCallReturn *Flow[*PreApiCallReturnCtx]

	PreSendMsg *Flow[*PreSendMsgCtx]
	PreRecvMsg *Flow[*PreRecvMsgCtx]

	PreSendData  *Flow[*PreSendDataCtx]
	PostSendData *Flow[*PostSendDataCtx]
	PreRecvData  *Flow[*PreRecvDataCtx]

	PreBroadcastMsg *Flow[*PreBroadcastMsgCtx]
}

// NewFlowStages builds a FlowStages with every flow initialized empty.
func NewFlowStages(logger Logger) *FlowStages {
	return &FlowStages{
		PreConnect:       NewFlow[*PreConnectCtx](logger),
		PostConnect:      NewFlow[*PostConnectCtx](logger),
		PostDisconnect:   NewFlow[*PostDisconnectCtx](logger),
		PreCallApi:       NewFlow[*PreCallApiCtx](logger),
		PreCallApiReturn: NewFlow[*PreCallApiReturnCtx](logger),
		PreApiCall:       NewFlow[*PreApiCallCtx](logger),
		PreApiCallReturn: NewFlow[*PreApiCallReturnCtx](logger),
		PreSendMsg:       NewFlow[*PreSendMsgCtx](logger),
		PreRecvMsg:       NewFlow[*PreRecvMsgCtx](logger),
		PreSendData:      NewFlow[*PreSendDataCtx](logger),
		PostSendData:     NewFlow[*PostSendDataCtx](logger),
		PreRecvData:      NewFlow[*PreRecvDataCtx](logger),
		PreBroadcastMsg:  NewFlow[*PreBroadcastMsgCtx](logger),
	}
}

type PreConnectCtx struct{ Conn Connection }
type PostConnectCtx struct{ Conn Connection }
type PostDisconnectCtx struct {
	Conn     Connection
	Reason   string
	IsManual bool
}

type PreCallApiCtx struct {
	ApiName string
	Req     any
	Options *CallApiOptions
}

type PreCallApiReturnCtx struct {
	ApiName string
	Req     any
	Return  ApiReturn[any]
}

type PreApiCallCtx struct {
	Call *ApiCall
}

type PreApiCallReturnCtx struct {
	Call   *ApiCall
	Return ApiReturn[any]
}

type PreSendMsgCtx struct {
	MsgName string
	Msg     any
	Conn    Connection
}

type PreRecvMsgCtx struct {
	MsgName string
	Msg     any
	Conn    Connection
}

type PreSendDataCtx struct {
	Data          []byte
	TransportData TransportData
	Conn          Connection
	Conns         []Connection
}

type PostSendDataCtx struct {
	Data          []byte
	TransportData TransportData
	Conn          Connection
	Conns         []Connection
}

type PreRecvDataCtx struct {
	Data []byte
	Conn Connection
}

type PreBroadcastMsgCtx struct {
	MsgName string
	Msg     any
	Conns   []Connection
}
