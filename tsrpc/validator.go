// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Validator is the schema compiler/runtime collaborator named in spec.md
// §1 as deliberately out of THE CORE's scope: it encodes, decodes and
// validates typed payloads against a named schema registry. The core only
// depends on this narrow interface.
type Validator interface {
	// EncodeSchema marshals v into bytes, validated against the schema
	// named schemaID.
	EncodeSchema(schemaID string, v any) ([]byte, error)
	// DecodeSchema unmarshals data into out, validated against schemaID.
	DecodeSchema(schemaID string, data []byte, out any) error
	// ValidateSchema validates v against schemaID without (re-)encoding.
	ValidateSchema(schemaID string, v any) error
}

// SchemaRegistry supplies the *jsonschema.Schema for a given schema ID, as
// an external collaborator of [JSONSchemaValidator]. Callers populate one
// registry entry per req/res/msg schema ID derived by [ReqSchemaID],
// [ResSchemaID] and [MsgSchemaID].
type SchemaRegistry interface {
	Schema(schemaID string) (*Schema, bool)
}

// MapSchemaRegistry is a simple map-backed [SchemaRegistry].
type MapSchemaRegistry map[string]*Schema

func (m MapSchemaRegistry) Schema(schemaID string) (*Schema, bool) {
	s, ok := m[schemaID]
	return s, ok
}

// JSONSchemaValidator is the default [Validator], backed by
// github.com/google/jsonschema-go/jsonschema. Resolved schemas are cached
// in a bounded LRU (github.com/hashicorp/golang-lru/v2) rather than the
// teacher's unbounded sync.Map (mcp/schema_cache.go), since tsrpc servers
// may register and drop services dynamically over a long process
// lifetime.
type JSONSchemaValidator struct {
	registry SchemaRegistry
	cache    *lru.Cache[string, *Resolved]
}

// NewJSONSchemaValidator builds a JSONSchemaValidator backed by registry,
// caching up to cacheSize resolved schemas.
func NewJSONSchemaValidator(registry SchemaRegistry, cacheSize int) (*JSONSchemaValidator, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *Resolved](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("tsrpc: building schema cache: %w", err)
	}
	return &JSONSchemaValidator{registry: registry, cache: cache}, nil
}

func (v *JSONSchemaValidator) resolved(schemaID string) (*Resolved, error) {
	if r, ok := v.cache.Get(schemaID); ok {
		return r, nil
	}
	schema, ok := v.registry.Schema(schemaID)
	if !ok {
		return nil, fmt.Errorf("tsrpc: unknown schema id %q", schemaID)
	}
	resolved, err := schema.Resolve(&ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("tsrpc: resolving schema %q: %w", schemaID, err)
	}
	v.cache.Add(schemaID, resolved)
	return resolved, nil
}

// EncodeSchema implements Validator.
func (v *JSONSchemaValidator) EncodeSchema(schemaID string, val any) ([]byte, error) {
	if err := v.ValidateSchema(schemaID, val); err != nil {
		return nil, err
	}
	return json.Marshal(val)
}

// DecodeSchema implements Validator.
func (v *JSONSchemaValidator) DecodeSchema(schemaID string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tsrpc: decoding schema %q: %w", schemaID, err)
	}
	return v.ValidateSchema(schemaID, out)
}

// ValidateSchema implements Validator.
func (v *JSONSchemaValidator) ValidateSchema(schemaID string, val any) error {
	resolved, err := v.resolved(schemaID)
	if err != nil {
		return err
	}
	if err := resolved.Validate(val); err != nil {
		return fmt.Errorf("tsrpc: schema %q: %w", schemaID, err)
	}
	return nil
}

// PassthroughValidator is a test/dev [Validator] that only round-trips
// JSON without any schema validation. It is useful for exercising the
// codec and Connection/Server machinery without standing up a real schema
// registry.
type PassthroughValidator struct{}

func (PassthroughValidator) EncodeSchema(_ string, v any) ([]byte, error) { return json.Marshal(v) }
func (PassthroughValidator) DecodeSchema(_ string, data []byte, out any) error {
	return json.Unmarshal(data, out)
}
func (PassthroughValidator) ValidateSchema(_ string, _ any) error { return nil }
