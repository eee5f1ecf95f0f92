// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tsrpc

import "github.com/google/jsonschema-go/jsonschema"

// Schema, Resolved and ResolveOptions re-export the corresponding
// jsonschema-go types, the same thin re-export shape used elsewhere in
// the ecosystem to keep callers off the upstream import path directly.
type (
	Schema         = jsonschema.Schema
	Resolved       = jsonschema.Resolved
	ResolveOptions = jsonschema.ResolveOptions
	ForOptions     = jsonschema.ForOptions
)

// SchemaFor derives a JSON schema for Go type T, delegating to
// jsonschema.For.
func SchemaFor[T any](opts *ForOptions) (*Schema, error) {
	return jsonschema.For[T](opts)
}
