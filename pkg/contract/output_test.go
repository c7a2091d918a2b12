package contract

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeOutput(t *testing.T) {
	data := []byte(`{
  "ProjectId": "p1",
  "BranchId": "b1",
  "EndpointId": "e1",
  "DefaultDatabaseName": "neondb",
  "DefaultRoleName": "neondb_owner",
  "DefaultConnectionUri": "postgres://u:pw@host:5432/db",
  "Port": 6543,
  "EndpointSuspendTimeoutSeconds": 300,
  "Databases": [
    {"ResourceName": "orders", "DatabaseName": "orders", "RoleName": "orders_owner", "ConnectionUri": "postgres://orders_owner:x@host/orders"}
  ]
}`)

	out, err := DecodeOutput(data)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if out.ProjectID != "p1" || out.BranchID != "b1" || out.EndpointID != "e1" {
		t.Errorf("unexpected identifiers: %+v", out)
	}
	if out.Port == nil || *out.Port != 6543 {
		t.Errorf("expected port 6543, got %v", out.Port)
	}
	if out.EndpointSuspendTimeoutSeconds == nil || *out.EndpointSuspendTimeoutSeconds != 300 {
		t.Errorf("expected suspend timeout 300")
	}
	if len(out.Databases) != 1 || out.Databases[0].Port != nil {
		t.Errorf("unexpected databases: %+v", out.Databases)
	}
	if got := out.Databases[0].DatabaseLabel(); got != "orders (orders/orders_owner)" {
		t.Errorf("unexpected label %q", got)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := DecodeOutput(encoded)
	if err != nil || again.DefaultConnectionURI != out.DefaultConnectionURI {
		t.Errorf("re-decode failed: %v", err)
	}
}

func TestDecodeOutput_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantEmpty bool
	}{
		{"empty", "", true},
		{"whitespace", "  \n\t", true},
		{"null", "null", true},
		{"truncated", `{"ProjectId": "p1"`, false},
		{"array", `[]`, false},
		{"string", `"p1"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeOutput([]byte(tt.data))
			if err == nil {
				t.Fatalf("expected error, got %+v", out)
			}
			if errors.Is(err, ErrEmptyOutput) != tt.wantEmpty {
				t.Errorf("ErrEmptyOutput match = %v, want %v (%v)", !tt.wantEmpty, tt.wantEmpty, err)
			}
		})
	}
}

func TestFailureLogPath(t *testing.T) {
	if got := FailureLogPath("/tmp/out/demo.json"); got != "/tmp/out/demo.json.error.log" {
		t.Errorf("unexpected failure log path %q", got)
	}
}
