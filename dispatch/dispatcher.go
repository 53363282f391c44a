// Package dispatch routes decoded requests to the services and turns every
// outcome into a response payload.
package dispatch

import (
	"context"

	"github.com/justapithecus/warden/ipc"
	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/transport"
	"github.com/justapithecus/warden/types"
)

// Compiler serves compile requests.
type Compiler interface {
	Compile(ctx context.Context, req *types.CompileRequest) (*types.CompileOK, error)
}

// Executor serves execute requests.
type Executor interface {
	Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResult, error)
}

// Hasher serves health requests.
type Hasher interface {
	Check(ctx context.Context, req *types.HealthRequest) (*types.HealthResult, error)
}

// Dispatcher implements transport.Handler.
type Dispatcher struct {
	decoder   *ipc.RequestDecoder
	compiler  Compiler
	executor  Executor
	hasher    Hasher
	logger    *log.Logger
	collector *metrics.Collector
}

var _ transport.Handler = (*Dispatcher)(nil)

// Options configures a Dispatcher.
type Options struct {
	// MaxFiles bounds files per request. Zero means ipc.DefaultMaxFiles.
	MaxFiles  int
	Compiler  Compiler
	Executor  Executor
	Hasher    Hasher
	Logger    *log.Logger
	Collector *metrics.Collector
}

// New creates a Dispatcher. A nil service answers its requests with an
// error response.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{
		decoder:   &ipc.RequestDecoder{MaxFiles: opts.MaxFiles},
		compiler:  opts.Compiler,
		executor:  opts.Executor,
		hasher:    opts.Hasher,
		logger:    logger,
		collector: opts.Collector,
	}
}

// Handle implements transport.Handler.
//
// The returned payload is always a well-formed response. The error is
// non-nil only for fatal failures; the payload should still be sent.
func (d *Dispatcher) Handle(ctx context.Context, frame transport.Frame) ([]byte, error) {
	logger := d.logger.With(map[string]any{"conn_id": frame.ConnID})

	resp, err := d.dispatch(ctx, frame, logger)
	payload, encErr := ipc.MarshalResponse(resp)
	if encErr != nil {
		d.collector.IncError(types.ErrorSerialization.String())
		logger.Error("failed to encode response", map[string]any{"error": encErr.Error()})
	}
	if err != nil && types.IsFatalJobError(err) {
		logger.Error("fatal error", map[string]any{"error": err.Error()})
		return payload, err
	}
	return payload, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, frame transport.Frame, logger *log.Logger) (types.Response, error) {
	if frame.Err != nil {
		d.collector.IncRequest("unknown")
		return d.fail(logger, types.WrapJobError(types.ErrorDecode, "", "frame rejected", frame.Err))
	}

	req, err := d.decoder.Decode(frame.Payload)
	if err != nil {
		d.collector.IncRequest("unknown")
		return d.fail(logger, err)
	}
	d.collector.IncRequest(string(req.Kind()))
	logger = logger.With(map[string]any{"request": string(req.Kind())})

	switch r := req.(type) {
	case *types.HealthRequest:
		logger.Info("health request", map[string]any{"files": len(r.FilesToCheck)})
		if d.hasher == nil {
			return d.fail(logger, unavailable(req.Kind(), ""))
		}
		result, err := d.hasher.Check(ctx, r)
		if err != nil {
			return d.fail(logger, err)
		}
		return result, nil

	case *types.CompileRequest:
		logger = logger.With(map[string]any{"job_id": r.JobID})
		logger.Info("compile request", map[string]any{"sources": len(r.SourceFiles)})
		if d.compiler == nil {
			return d.fail(logger, unavailable(req.Kind(), r.JobID))
		}
		result, err := d.compiler.Compile(ctx, r)
		if err != nil {
			return d.failJob(logger, r.JobID, err)
		}
		logger.Info("compile succeeded", map[string]any{"artifacts": len(result.ClassFiles)})
		return result, nil

	case *types.ExecuteRequest:
		logger.Info("execute request", map[string]any{
			"entrypoint": r.Entrypoint,
			"files":      len(r.ClassFiles),
		})
		if d.executor == nil {
			return d.fail(logger, unavailable(req.Kind(), ""))
		}
		result, err := d.executor.Execute(ctx, r)
		if err != nil {
			return d.fail(logger, err)
		}
		return result, nil

	default:
		return d.fail(logger, types.NewJobError(types.ErrorDecode, "", "unsupported request"))
	}
}

// failJob is fail for errors that may not carry the request's job id.
func (d *Dispatcher) failJob(logger *log.Logger, jobID string, err error) (types.Response, error) {
	if jobErr, ok := types.AsJobError(err); ok && jobErr.JobID == "" {
		jobErr.JobID = jobID
	}
	resp, _ := d.fail(logger, err)
	if r, ok := resp.(*types.ErrorResponse); ok && r.JobID == "" {
		r.JobID = jobID
	}
	return resp, err
}

// fail converts err into an error response and records it.
func (d *Dispatcher) fail(logger *log.Logger, err error) (types.Response, error) {
	resp := ErrorResponse(err)
	kind := "internal"
	if jobErr, ok := types.AsJobError(err); ok {
		kind = jobErr.Kind.String()
	}
	d.collector.IncError(kind)
	logger.Warn("request failed", map[string]any{
		"kind":   kind,
		"job_id": resp.JobID,
		"error":  log.Preview(err.Error(), 500),
	})
	return resp, err
}

// ErrorResponse maps an error to the response sent to the host. Compile
// failures carry the compiler diagnostics verbatim.
func ErrorResponse(err error) *types.ErrorResponse {
	jobErr, ok := types.AsJobError(err)
	if !ok {
		return &types.ErrorResponse{Message: err.Error()}
	}
	msg := jobErr.Error()
	if jobErr.Kind == types.ErrorCompileFailure {
		msg = jobErr.Msg
	}
	return &types.ErrorResponse{JobID: jobErr.JobID, Message: msg}
}

func unavailable(kind types.RequestKind, jobID string) *types.JobError {
	return types.NewJobError(types.ErrorValidation, jobID, string(kind)+" requests are not served by this agent")
}
