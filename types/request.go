// Package types defines the request and result variants exchanged between
// the host orchestrator and the guest agent.
//
//nolint:revive // types is a common Go package naming convention
package types

// RequestKind discriminates request variants.
type RequestKind string

// Request kinds. Only health is ever sent as an explicit discriminator by
// the host; compile and execute are inferred from the fields present.
const (
	RequestHealth  RequestKind = "health"
	RequestCompile RequestKind = "compile"
	RequestExecute RequestKind = "execute"
)

// Request is implemented by every request variant.
type Request interface {
	Kind() RequestKind
}

// HealthRequest asks for content digests of files inside the sandbox image.
type HealthRequest struct {
	// FilesToCheck is the ordered list of absolute paths to digest.
	FilesToCheck []string
}

// Kind implements Request.
func (*HealthRequest) Kind() RequestKind { return RequestHealth }

// CompileRequest asks the agent to compile a set of source files.
type CompileRequest struct {
	// JobID scopes the compile workspace. Host supplied, untrusted.
	JobID string
	// SourceFiles maps a logical source name (without extension) to the
	// decoded source bytes.
	SourceFiles map[string][]byte
}

// Kind implements Request.
func (*CompileRequest) Kind() RequestKind { return RequestCompile }

// ExecuteRequest asks the agent to run previously compiled artifacts.
type ExecuteRequest struct {
	// Entrypoint is the fully qualified class to run.
	Entrypoint string
	// ClassFiles maps an artifact filename (relative, may contain package
	// directories) to the decoded artifact bytes.
	ClassFiles map[string][]byte
}

// Kind implements Request.
func (*ExecuteRequest) Kind() RequestKind { return RequestExecute }
