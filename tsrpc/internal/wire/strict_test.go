// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"strings"
	"testing"
)

type testBox struct {
	ServiceName string `json:"serviceName"`
	SN          uint32 `json:"sn,omitempty"`
}

func TestStrictUnmarshalRejectsDuplicateKeys(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "duplicate with different case - sn and Sn",
			json:    `{"serviceName":"a/Echo","sn":1,"Sn":2}`,
			wantErr: "duplicate key with different case",
		},
		{
			name:    "triple duplicate with different cases",
			json:    `{"serviceName":"a","ServiceName":"b","SERVICENAME":"c"}`,
			wantErr: "duplicate key with different case",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result testBox
			err := StrictUnmarshal([]byte(tt.json), &result)
			if err == nil {
				t.Fatalf("StrictUnmarshal() expected error, got nil. Result: %+v", result)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("StrictUnmarshal() error = %v, want error containing %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrictUnmarshalRejectsWrongCase(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{name: "ServiceName instead of serviceName", json: `{"ServiceName":"a/Echo"}`, wantErr: "field name case mismatch"},
		{name: "SN instead of sn", json: `{"serviceName":"a/Echo","SN":1}`, wantErr: "field name case mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result testBox
			err := StrictUnmarshal([]byte(tt.json), &result)
			if err == nil {
				t.Fatalf("StrictUnmarshal() expected error, got nil. Result: %+v", result)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("StrictUnmarshal() error = %v, want error containing %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrictUnmarshalRejectsUnknownFields(t *testing.T) {
	var result testBox
	err := StrictUnmarshal([]byte(`{"serviceName":"a/Echo","bogus":1}`), &result)
	if err == nil {
		t.Fatalf("StrictUnmarshal() expected error, got nil. Result: %+v", result)
	}
}

func TestStrictUnmarshalAccepts(t *testing.T) {
	var result testBox
	if err := StrictUnmarshal([]byte(`{"serviceName":"a/Echo","sn":7}`), &result); err != nil {
		t.Fatalf("StrictUnmarshal() unexpected error: %v", err)
	}
	if result.ServiceName != "a/Echo" || result.SN != 7 {
		t.Errorf("StrictUnmarshal() = %+v, want {ServiceName: a/Echo, SN: 7}", result)
	}
}
