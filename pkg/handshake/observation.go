package handshake

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/engine"
)

// Observation is the outcome of a single poll of the output location.
type Observation string

const (
	// NotYetProduced means neither the output nor a failure log exists.
	NotYetProduced Observation = "not_yet_produced"

	// TransientIOError means a file exists but could not be read.
	TransientIOError Observation = "transient_io_error"

	// EmptyOrMalformed means the output is empty, not JSON, or JSON null.
	EmptyOrMalformed Observation = "empty_or_malformed"

	// ExplicitFailure means the worker wrote a failure log.
	ExplicitFailure Observation = "explicit_failure"

	// Success means the output parsed to a contract.
	Success Observation = "success"

	// Timeout means the deadline passed without a terminal observation.
	Timeout Observation = "timeout"
)

// Terminal reports whether polling stops at this observation.
func (o Observation) Terminal() bool {
	switch o {
	case ExplicitFailure, Success, Timeout:
		return true
	default:
		return false
	}
}

func (o Observation) String() string { return string(o) }

// Result is one poll's observation with whatever it produced.
type Result struct {
	Observation Observation

	// Output is set for Success.
	Output *contract.Output

	// Err is a HandshakeTransient error for retried observations and an
	// ExplicitWorkerFailure for ExplicitFailure.
	Err error
}

// Describe renders the observation for logs and timeout messages.
func (r Result) Describe() string {
	if r.Err == nil {
		return string(r.Observation)
	}
	var ee *engine.EngineError
	if errors.As(r.Err, &ee) && ee.Err != nil {
		return fmt.Sprintf("%s (%v)", r.Observation, ee.Err)
	}
	return string(r.Observation)
}

type readFunc func(name string) ([]byte, error)

// observe polls outputPath once. The failure log is checked first so that
// a worker that wrote both is reported as failed. Any failure log that is
// present is terminal, readable or not.
func observe(read readFunc, outputPath string) Result {
	failurePath := contract.FailureLogPath(outputPath)
	text, err := read(failurePath)
	switch {
	case err == nil:
		return Result{
			Observation: ExplicitFailure,
			Err:         engine.NewWorkerFailure(failurePath, string(text)),
		}
	case !errors.Is(err, fs.ErrNotExist):
		// the log exists; an unreadable one still ends the handshake
		return Result{
			Observation: ExplicitFailure,
			Err:         engine.NewWorkerFailure(failurePath, fmt.Sprintf("(failure log unreadable: %v)", err)),
		}
	}

	data, err := read(outputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Observation: NotYetProduced}
		}
		return Result{
			Observation: TransientIOError,
			Err:         engine.NewHandshakeTransient("output is not readable", err),
		}
	}

	out, err := contract.DecodeOutput(data)
	if err != nil {
		return Result{
			Observation: EmptyOrMalformed,
			Err:         engine.NewHandshakeTransient("output is not a valid contract", err),
		}
	}
	return Result{Observation: Success, Output: out}
}

// Observe polls outputPath once using the real filesystem.
func Observe(outputPath string) Result {
	return observe(os.ReadFile, outputPath)
}
