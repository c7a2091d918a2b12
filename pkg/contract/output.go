package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FailureLogSuffix is appended to the output path to form the failure
// artifact the worker writes instead of an output contract.
const FailureLogSuffix = ".error.log"

// FailureLogPath returns the failure artifact path for an output path.
func FailureLogPath(outputPath string) string {
	return outputPath + FailureLogSuffix
}

// Output is the success artifact written by the worker.
type Output struct {
	ProjectID            string `json:"ProjectId"`
	BranchID             string `json:"BranchId"`
	EndpointID           string `json:"EndpointId"`
	DefaultDatabaseName  string `json:"DefaultDatabaseName"`
	DefaultRoleName      string `json:"DefaultRoleName"`
	DefaultConnectionURI string `json:"DefaultConnectionUri"`

	Host                          string `json:"Host,omitempty"`
	Port                          *int   `json:"Port,omitempty"`
	Password                      string `json:"Password,omitempty"`
	EndpointType                  string `json:"EndpointType,omitempty"`
	EndpointRegionID              string `json:"EndpointRegionId,omitempty"`
	EndpointSuspendTimeoutSeconds *int   `json:"EndpointSuspendTimeoutSeconds,omitempty"`

	Databases []DatabaseOutput `json:"Databases"`
}

// DatabaseOutput describes one logical database in the output contract.
type DatabaseOutput struct {
	ResourceName  string `json:"ResourceName"`
	DatabaseName  string `json:"DatabaseName"`
	RoleName      string `json:"RoleName"`
	ConnectionURI string `json:"ConnectionUri"`

	Host     string `json:"Host,omitempty"`
	Port     *int   `json:"Port,omitempty"`
	Password string `json:"Password,omitempty"`
}

// ErrEmptyOutput is returned by DecodeOutput for blank or null documents.
var ErrEmptyOutput = errors.New("output document is empty")

// DecodeOutput parses an output contract. Whitespace-only input and a
// JSON null are rejected with ErrEmptyOutput.
func DecodeOutput(data []byte) (*Output, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyOutput
	}

	var out Output
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("failed to decode output contract: %w", err)
	}
	return &out, nil
}

// DatabaseLabel identifies an output entry in diagnostics.
func (d DatabaseOutput) DatabaseLabel() string {
	return fmt.Sprintf("%s (%s/%s)", d.ResourceName, d.DatabaseName, d.RoleName)
}
