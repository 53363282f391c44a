//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies job errors.
type ErrorKind int

const (
	// ErrorDecode is a malformed or incomplete request payload.
	ErrorDecode ErrorKind = iota
	// ErrorValidation is a missing required field or unsafe value.
	ErrorValidation
	// ErrorCompileFailure is a non-zero compiler exit.
	ErrorCompileFailure
	// ErrorArtifactIO is a workspace read or write failure.
	ErrorArtifactIO
	// ErrorConfinement is a failure to apply resource control.
	ErrorConfinement
	// ErrorSpawn is a failure to start a child process.
	ErrorSpawn
	// ErrorSerialization is a failure to encode a response.
	ErrorSerialization
	// ErrorTransport is a bind, accept, read or write failure.
	ErrorTransport
)

var errorKindNames = map[ErrorKind]string{
	ErrorDecode:         "decode",
	ErrorValidation:     "validation",
	ErrorCompileFailure: "compile_failure",
	ErrorArtifactIO:     "artifact_io",
	ErrorConfinement:    "confinement",
	ErrorSpawn:          "spawn",
	ErrorSerialization:  "serialization",
	ErrorTransport:      "transport",
}

// String returns the snake_case name used in logs.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// JobError is an error raised while serving a request.
type JobError struct {
	Kind ErrorKind
	// JobID is set once the request's job id is known.
	JobID string
	Msg   string
	Err   error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error must stop the agent instead of being
// answered and forgotten.
func (e *JobError) IsFatal() bool {
	return e.Kind == ErrorTransport || e.Kind == ErrorConfinement
}

// NewJobError builds a JobError without a cause.
func NewJobError(kind ErrorKind, jobID, msg string) *JobError {
	return &JobError{Kind: kind, JobID: jobID, Msg: msg}
}

// WrapJobError builds a JobError around a cause.
func WrapJobError(kind ErrorKind, jobID, msg string, err error) *JobError {
	return &JobError{Kind: kind, JobID: jobID, Msg: msg, Err: err}
}

// AsJobError extracts a JobError from err's chain.
func AsJobError(err error) (*JobError, bool) {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr, true
	}
	return nil, false
}

// IsFatalJobError reports whether err carries a fatal JobError.
func IsFatalJobError(err error) bool {
	if jobErr, ok := AsJobError(err); ok {
		return jobErr.IsFatal()
	}
	return false
}
