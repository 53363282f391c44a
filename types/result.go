//nolint:revive // types is a common Go package naming convention
package types

// ResponseKind discriminates response variants.
type ResponseKind string

// Response kinds.
const (
	ResponseOK      ResponseKind = "ok"
	ResponseErr     ResponseKind = "err"
	ResponseHealth  ResponseKind = "health"
	ResponseExecute ResponseKind = "execute"
)

// Response is implemented by every response variant. The set is closed;
// encoders switch over it exhaustively.
type Response interface {
	ResponseKind() ResponseKind
}

// CompileOK is a successful compilation.
type CompileOK struct {
	JobID string
	// ClassFiles maps artifact filenames (slash separated, relative to the
	// job output directory) to their bytes.
	ClassFiles map[string][]byte
}

// ResponseKind implements Response.
func (*CompileOK) ResponseKind() ResponseKind { return ResponseOK }

// ErrorResponse reports a recoverable failure. JobID is empty when the
// failure happened before a job id was known.
type ErrorResponse struct {
	JobID   string
	Message string
}

// ResponseKind implements Response.
func (*ErrorResponse) ResponseKind() ResponseKind { return ResponseErr }

// HealthResult maps each requested path to its hex SHA-256 digest.
type HealthResult struct {
	FileHashes map[string]string
}

// ResponseKind implements Response.
func (*HealthResult) ResponseKind() ResponseKind { return ResponseHealth }

// ExecuteResult is the outcome of running untrusted code. It is produced
// for every spawn and runtime failure; only confinement failure and
// transport failure prevent it.
type ExecuteResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// StartNs and EndNs are nanosecond Unix timestamps around the workload.
	StartNs int64
	EndNs   int64
	// MaxMemoryKB is the peak resident set size, zero when unmeasured.
	MaxMemoryKB int64
}

// ResponseKind implements Response.
func (*ExecuteResult) ResponseKind() ResponseKind { return ResponseExecute }

// SpawnFailedExitCode is reported when the workload could not be started.
const SpawnFailedExitCode = -1
