package engine

import (
	"encoding/json"
	"fmt"
)

// Intent is the worker action derived from a project's directives.
type Intent string

const (
	// IntentAttach uses existing infrastructure only.
	IntentAttach Intent = "attach"

	// IntentProvision creates missing infrastructure, then attaches.
	IntentProvision Intent = "provision"
)

// Validate checks if the intent is valid.
func (i Intent) Validate() error {
	switch i {
	case IntentAttach, IntentProvision:
		return nil
	default:
		return fmt.Errorf("invalid intent: %s", i)
	}
}

// CommandMode is the worker mode for one-shot commands.
type CommandMode string

const (
	CommandSuspend CommandMode = "suspend"
	CommandResume  CommandMode = "resume"
)

// Validate checks if the command mode is valid.
func (m CommandMode) Validate() error {
	switch m {
	case CommandSuspend, CommandResume:
		return nil
	default:
		return fmt.Errorf("invalid command mode: %s", m)
	}
}

// ResourceState is the lifecycle state of a project resource as shown to
// the surrounding application.
type ResourceState string

const (
	// StateWaiting means the project is declared but its worker has not been launched.
	StateWaiting ResourceState = "waiting"

	// StateStarting means the worker is running and the handshake is in progress.
	StateStarting ResourceState = "starting"

	// StateRunning means the handshake succeeded and the output was applied.
	StateRunning ResourceState = "running"

	// StateFailedToStart means the handshake or synchronization failed.
	StateFailedToStart ResourceState = "failed_to_start"

	// StateSuspended means a suspend command completed after a successful run.
	StateSuspended ResourceState = "suspended"
)

// IsTerminal returns true if no further handshake activity is expected.
func (s ResourceState) IsTerminal() bool {
	return s == StateRunning || s == StateFailedToStart || s == StateSuspended
}

// Validate checks if the resource state is valid.
func (s ResourceState) Validate() error {
	switch s {
	case StateWaiting, StateStarting, StateRunning, StateFailedToStart, StateSuspended:
		return nil
	default:
		return fmt.Errorf("invalid resource state: %s", s)
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ResourceState) CanTransitionTo(next ResourceState) bool {
	switch s {
	case StateWaiting:
		return next == StateStarting || next == StateFailedToStart
	case StateStarting:
		return next == StateRunning || next == StateFailedToStart
	case StateRunning:
		// a refreshed worker starts a new handshake
		return next == StateStarting || next == StateSuspended || next == StateFailedToStart
	case StateSuspended:
		return next == StateRunning || next == StateStarting
	case StateFailedToStart:
		return next == StateStarting
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s ResourceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ResourceState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := ResourceState(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}

// EndpointType is the compute endpoint kind.
type EndpointType string

const (
	EndpointReadWrite EndpointType = "read_write"
	EndpointReadOnly  EndpointType = "read_only"
)

// Validate checks if the endpoint type is valid.
func (t EndpointType) Validate() error {
	switch t {
	case EndpointReadWrite, EndpointReadOnly:
		return nil
	default:
		return fmt.Errorf("invalid endpoint type: %s", t)
	}
}

// BranchInitSource controls what a newly created branch copies from its parent.
type BranchInitSource string

const (
	InitSourceDefault    BranchInitSource = ""
	InitSourceSchemaOnly BranchInitSource = "schema-only"
	InitSourceParentData BranchInitSource = "parent-data"
)

// Validate checks if the init source is valid.
func (s BranchInitSource) Validate() error {
	switch s {
	case InitSourceDefault, InitSourceSchemaOnly, InitSourceParentData:
		return nil
	default:
		return fmt.Errorf("invalid branch init source: %s", s)
	}
}
