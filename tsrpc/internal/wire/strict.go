// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package wire holds the low-level framing helpers shared by the binary
// box and text box codecs.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// StrictUnmarshal unmarshals JSON data into v with strict validation rules:
//   - rejects duplicate keys with different cases (e.g. "sn" and "Sn")
//   - validates that JSON field names exactly match struct tags (case-sensitive)
//   - rejects unknown fields not defined in the struct
//
// This prevents message smuggling attacks that exploit Go's case-insensitive
// JSON unmarshalling behavior, which would otherwise let a text box field be
// read differently by two peers disagreeing on case folding.
func StrictUnmarshal(data []byte, v interface{}) error {
	if err := validateNoDuplicateKeys(data); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	if err := validateFieldCase(data, v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	return nil
}

func validateNoDuplicateKeys(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not an object; no duplicate keys are possible at this level.
		return nil
	}

	seen := make(map[string]string)
	for key := range raw {
		lowerKey := strings.ToLower(key)
		if original, exists := seen[lowerKey]; exists && original != key {
			return fmt.Errorf("duplicate key with different case: %q and %q", original, key)
		}
		seen[lowerKey] = key
	}
	return nil
}

// validateFieldCase ensures that JSON field names exactly match the struct
// tags (case-sensitive).
func validateFieldCase(data []byte, v interface{}) error {
	expected := expectedFields(v)
	if len(expected) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	for key := range raw {
		if expected[key] {
			continue
		}
		lowerKey := strings.ToLower(key)
		for name := range expected {
			if strings.ToLower(name) == lowerKey {
				return fmt.Errorf("field name case mismatch: got %q, expected %q", key, name)
			}
		}
	}
	return nil
}

// expectedFields extracts valid JSON field names from struct tags via
// reflection.
func expectedFields(v interface{}) map[string]bool {
	fields := make(map[string]bool)

	t := reflect.TypeOf(v)
	if t == nil {
		return fields
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fields
	}

	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := tag
		if idx := strings.Index(tag, ","); idx != -1 {
			name = tag[:idx]
		}
		if name != "" {
			fields[name] = true
		}
	}
	return fields
}
