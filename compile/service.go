// Package compile turns host-supplied sources into bytecode with javac.
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/types"
	"github.com/justapithecus/warden/workspace"
)

// Defaults matching the sandbox image layout.
const (
	DefaultJavac      = "javac"
	DefaultClasspath  = "/app/lib/gson-2.13.1.jar"
	DefaultSourceRoot = "/app/client-src"
	DefaultOutputRoot = "/app/client-bytecode"
	DefaultSourceExt  = ".java"
	DefaultOutputExt  = ".class"
)

// Config configures the compile service.
type Config struct {
	// Javac is the compiler executable.
	Javac string
	// Classpath holds the support libraries visible to compiled sources.
	Classpath string
	// SourceRoot and OutputRoot are the parents of per-job directories.
	SourceRoot string
	OutputRoot string
	// SourceExt is appended to each logical source name.
	SourceExt string
	// OutputExt selects the artifacts returned to the host.
	OutputExt string
	// Timeout bounds one compiler run. Zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns the sandbox image defaults.
func DefaultConfig() Config {
	return Config{
		Javac:      DefaultJavac,
		Classpath:  DefaultClasspath,
		SourceRoot: DefaultSourceRoot,
		OutputRoot: DefaultOutputRoot,
		SourceExt:  DefaultSourceExt,
		OutputExt:  DefaultOutputExt,
	}
}

// Service compiles jobs.
type Service struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
}

// NewService creates a compile service. collector may be nil.
func NewService(config Config, logger *log.Logger, collector *metrics.Collector) *Service {
	if config.SourceExt == "" {
		config.SourceExt = DefaultSourceExt
	}
	if config.OutputExt == "" {
		config.OutputExt = DefaultOutputExt
	}
	if config.Javac == "" {
		config.Javac = DefaultJavac
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{config: config, logger: logger, collector: collector}
}

// Compile writes the job's sources, runs the compiler and returns the
// produced artifacts.
//
// Errors are *types.JobError: Validation for unsafe ids or names (nothing
// is written), CompileFailure carrying compiler diagnostics, ArtifactIO
// when the workspace cannot be written or read back, Spawn when the
// compiler cannot be started.
func (s *Service) Compile(ctx context.Context, req *types.CompileRequest) (*types.CompileOK, error) {
	jobID := req.JobID
	ws, err := workspace.ForJob(s.config.SourceRoot, s.config.OutputRoot, jobID)
	if err != nil {
		return nil, types.WrapJobError(types.ErrorValidation, jobID, "invalid job id", err)
	}

	names := make([]string, 0, len(req.SourceFiles))
	for name := range req.SourceFiles {
		if err := workspace.ValidateRelPath(name + s.config.SourceExt); err != nil {
			return nil, types.WrapJobError(types.ErrorValidation, jobID, "invalid source name", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if err := ws.Ensure(); err != nil {
		return nil, types.WrapJobError(types.ErrorArtifactIO, jobID, "failed to create workspace", err)
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := workspace.WriteFile(ws.SourceDir, name+s.config.SourceExt, req.SourceFiles[name])
		if err != nil {
			return nil, types.WrapJobError(types.ErrorArtifactIO, jobID, "failed to write source", err)
		}
		paths = append(paths, path)
	}

	logger := s.logger.With(map[string]any{"job_id": jobID})

	started := time.Now()
	exitCode, diagnostics, err := s.run(ctx, ws.OutputDir, paths)
	duration := time.Since(started)
	if err != nil {
		return nil, types.WrapJobError(types.ErrorSpawn, jobID, "failed to run compiler", err)
	}
	logger.Info("compilation finished", map[string]any{
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
		"sources":     len(paths),
	})

	manifest := &Manifest{
		JobID:        jobID,
		Sources:      manifestFiles(req.SourceFiles),
		ExitCode:     exitCode,
		DurationNs:   duration.Nanoseconds(),
		CompiledAt:   started.UTC(),
		AgentVersion: types.Version,
	}

	if exitCode != 0 {
		s.collector.IncCompileFailed()
		s.writeManifest(logger, ws.OutputDir, manifest)
		if diagnostics == "" {
			diagnostics = fmt.Sprintf("compiler exited with code %d", exitCode)
		}
		return nil, types.NewJobError(types.ErrorCompileFailure, jobID, diagnostics)
	}

	classFiles, err := workspace.Collect(ws.OutputDir, s.config.OutputExt)
	if err != nil {
		return nil, types.WrapJobError(types.ErrorArtifactIO, jobID, "failed to read compiled artifacts", err)
	}
	s.collector.IncCompileSucceeded()

	manifest.Artifacts = manifestFiles(classFiles)
	s.writeManifest(logger, ws.OutputDir, manifest)

	return &types.CompileOK{JobID: jobID, ClassFiles: classFiles}, nil
}

// run invokes the compiler and returns its exit code and diagnostics.
// A non-nil error means the compiler never ran to completion.
func (s *Service) run(ctx context.Context, outputDir string, sources []string) (int, string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	args := s.Args(outputDir, sources)
	cmd := exec.CommandContext(ctx, s.config.Javac, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	diagnostics := strings.TrimSpace(stderr.String())
	if diagnostics == "" {
		diagnostics = strings.TrimSpace(stdout.String())
	}
	if err == nil {
		return 0, diagnostics, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -int(status.Signal()), diagnostics, nil
		}
		return exitErr.ExitCode(), diagnostics, nil
	}
	return 0, diagnostics, err
}

// Args builds the compiler argument list.
func (s *Service) Args(outputDir string, sources []string) []string {
	args := make([]string, 0, len(sources)+5)
	if s.config.Classpath != "" {
		args = append(args, "-cp", s.config.Classpath)
	}
	args = append(args, "-proc:none", "-d", outputDir)
	return append(args, sources...)
}

func (s *Service) writeManifest(logger *log.Logger, dir string, m *Manifest) {
	if _, err := WriteManifest(dir, m); err != nil {
		logger.Warn("failed to write manifest", map[string]any{"error": err.Error()})
	}
}
