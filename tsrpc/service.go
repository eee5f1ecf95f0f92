// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"fmt"
	"regexp"
)

// ServiceKind distinguishes an API service (request/response) from a
// message service (fire-and-forget).
type ServiceKind string

const (
	KindApi ServiceKind = "api"
	KindMsg ServiceKind = "msg"
)

// ServiceSide names which endpoint(s) implement a service.
type ServiceSide string

const (
	SideServer ServiceSide = "server"
	SideClient ServiceSide = "client"
	SideBoth   ServiceSide = "both"
)

// Service is an immutable descriptor of one API or message service
// (spec.md §3).
type Service struct {
	ID   uint32
	Name string
	Kind ServiceKind
	Side ServiceSide

	// ReqSchemaID and ResSchemaID are set for API services.
	ReqSchemaID string
	ResSchemaID string

	// MsgSchemaID is set for message services.
	MsgSchemaID string
}

// ServiceProto is the input used to build a [ServiceMap]: the raw list of
// services a framework proto defines, plus the metadata exchanged as
// [ProtoInfo].
type ServiceProto struct {
	Services []Service
	Info     ProtoInfo
}

var serviceNameRe = regexp.MustCompile(`^(?:(.*)/)?([^/]+)$`)

// SplitServiceName splits a "(path/)?name" service name into its path
// (possibly empty) and bare name, per spec.md §4.1.
func SplitServiceName(fullName string) (path, name string) {
	m := serviceNameRe.FindStringSubmatch(fullName)
	if m == nil {
		return "", fullName
	}
	return m[1], m[2]
}

// ReqSchemaID derives the request schema ID for an API service, per
// spec.md §4.1: "${path}Ptl${name}/Req${name}".
func ReqSchemaID(fullName string) string {
	path, name := SplitServiceName(fullName)
	return fmt.Sprintf("%sPtl%s/Req%s", pathPrefix(path), name, name)
}

// ResSchemaID derives the response schema ID, per spec.md §4.1:
// "${path}Ptl${name}/Res${name}".
func ResSchemaID(fullName string) string {
	path, name := SplitServiceName(fullName)
	return fmt.Sprintf("%sPtl%s/Res%s", pathPrefix(path), name, name)
}

// MsgSchemaID derives the message schema ID, per spec.md §4.1:
// "${path}Msg${name}/Msg${name}".
func MsgSchemaID(fullName string) string {
	path, name := SplitServiceName(fullName)
	return fmt.Sprintf("%sMsg%s/Msg%s", pathPrefix(path), name, name)
}

func pathPrefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "/"
}

// ServiceMap resolves service names to their numeric IDs and schema IDs,
// and partitions services into local (this side implements) vs remote
// (peer implements) sets (spec.md §4.1).
type ServiceMap struct {
	byName map[string]*Service
	byID   map[uint32]*Service

	LocalApi  map[string]*Service
	RemoteApi map[string]*Service
	LocalMsg  map[string]*Service
	RemoteMsg map[string]*Service
}

// BuildServiceMap builds a ServiceMap from proto for the given side. It
// fails only if proto contains duplicate service IDs (spec.md §4.1).
func BuildServiceMap(proto ServiceProto, side ServiceSide) (*ServiceMap, error) {
	sm := &ServiceMap{
		byName:    make(map[string]*Service, len(proto.Services)),
		byID:      make(map[uint32]*Service, len(proto.Services)),
		LocalApi:  make(map[string]*Service),
		RemoteApi: make(map[string]*Service),
		LocalMsg:  make(map[string]*Service),
		RemoteMsg: make(map[string]*Service),
	}

	for i := range proto.Services {
		svc := proto.Services[i]
		if _, dup := sm.byID[svc.ID]; dup {
			return nil, fmt.Errorf("tsrpc: duplicate service id %d (name %q)", svc.ID, svc.Name)
		}
		sm.byID[svc.ID] = &svc
		sm.byName[svc.Name] = &svc

		switch svc.Kind {
		case KindApi:
			if svc.Side == side || svc.Side == SideBoth {
				sm.LocalApi[svc.Name] = &svc
			}
			otherSide := oppositeSide(side)
			if svc.Side == otherSide || svc.Side == SideBoth {
				sm.RemoteApi[svc.Name] = &svc
			}
		case KindMsg:
			if svc.Side == side || svc.Side == SideBoth {
				sm.LocalMsg[svc.Name] = &svc
			}
			otherSide := oppositeSide(side)
			if svc.Side == otherSide || svc.Side == SideBoth {
				sm.RemoteMsg[svc.Name] = &svc
			}
		}
	}

	return sm, nil
}

func oppositeSide(side ServiceSide) ServiceSide {
	switch side {
	case SideServer:
		return SideClient
	case SideClient:
		return SideServer
	default:
		return SideBoth
	}
}

// GetByName looks up a service by name in O(1).
func (sm *ServiceMap) GetByName(name string) (*Service, bool) {
	s, ok := sm.byName[name]
	return s, ok
}

// GetByID looks up a service by ID in O(1).
func (sm *ServiceMap) GetByID(id uint32) (*Service, bool) {
	s, ok := sm.byID[id]
	return s, ok
}
