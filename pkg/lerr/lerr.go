// Package lerr defines the stable error taxonomy of the launcher.
// Every failure surfaced to the operator carries a Code so callers can
// branch on the kind without string matching, and so the process exit
// code can reflect the failure class.
package lerr

import "fmt"

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown           Code = "unknown"
	CodeInvalidConfig     Code = "invalid_config"
	CodeImageUnavailable  Code = "image_unavailable"
	CodeDeviceUnavailable Code = "device_unavailable"
	CodeLaunchTimeout     Code = "launch_timeout"
	CodeJobCrashed        Code = "job_crashed"
	CodeJobNotFound       Code = "job_not_found"
	CodeDuplicateRun      Code = "duplicate_run"
	CodeUnknownRun        Code = "unknown_run"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf wraps a formatted message with the provided code.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// IsCode helps callers compare codes without type assertions.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

// CodeOf returns the Code of an error, or CodeUnknown for plain errors.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeUnknown
}

// Process exit codes per failure class. A crashed job propagates its own
// exit code instead (see ExitCode).
const (
	ExitOK            = 0
	ExitUnknown       = 1
	ExitInvalidConfig = 2

	ExitImageUnavailable  = 10
	ExitDeviceUnavailable = 11
	ExitLaunchTimeout     = 12
	ExitJobNotFound       = 13
	ExitDuplicateRun      = 14
	ExitUnknownRun        = 15
)

// ExitCode maps an error to the process exit code for that failure class.
// jobExit is the exit code of the dispatched job and is propagated verbatim
// when the error is a job crash.
func ExitCode(err error, jobExit int) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case CodeInvalidConfig:
		return ExitInvalidConfig
	case CodeImageUnavailable:
		return ExitImageUnavailable
	case CodeDeviceUnavailable:
		return ExitDeviceUnavailable
	case CodeLaunchTimeout:
		return ExitLaunchTimeout
	case CodeJobNotFound:
		return ExitJobNotFound
	case CodeDuplicateRun:
		return ExitDuplicateRun
	case CodeUnknownRun:
		return ExitUnknownRun
	case CodeJobCrashed:
		if jobExit != 0 {
			return jobExit
		}
		return ExitUnknown
	default:
		return ExitUnknown
	}
}
