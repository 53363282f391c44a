// Package execute runs compiled artifacts under resource confinement and
// measures the run. Each execution gets a fresh run directory below the
// sandbox directory, removed once the run has been measured.
package execute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/sandbox"
	"github.com/justapithecus/warden/types"
	"github.com/justapithecus/warden/workspace"
)

// Defaults matching the sandbox image layout.
const (
	DefaultJava       = "java"
	DefaultSandboxDir = "/sandbox"
	DefaultClasspath  = "/sandbox/gson-2.13.1.jar"
	DefaultTimeBinary = "/usr/bin/time"
)

// DefaultTimeLog is outside the sandbox directory, where the workload
// cannot rewrite its own measurement.
const DefaultTimeLog = "/run/warden/time.log"

// DefaultMaxOutputBytes caps each captured stream.
const DefaultMaxOutputBytes = 8 << 20

// runDirPattern names per-execution directories inside SandboxDir.
const runDirPattern = "run-"

// previewLimit bounds how much untrusted output reaches the log.
const previewLimit = 500

// Config configures the execute service.
type Config struct {
	// Java is the runtime executable, resolved on PATH when not absolute.
	Java string
	// SandboxDir holds the per-execution run directories. It is never
	// cleared; support libraries may live in it.
	SandboxDir string
	// Classpath is appended after the run directory and ".".
	Classpath string
	// MaxOutputBytes caps stdout and stderr each. Output past the cap is
	// dropped and the result carries a truncation marker.
	MaxOutputBytes int
}

// DefaultConfig returns the sandbox image defaults.
func DefaultConfig() Config {
	return Config{
		Java:           DefaultJava,
		SandboxDir:     DefaultSandboxDir,
		Classpath:      DefaultClasspath,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Service executes jobs.
type Service struct {
	config    Config
	confiner  sandbox.Confiner
	monitor   sandbox.ResourceMonitor
	logger    *log.Logger
	collector *metrics.Collector
}

// NewService creates an execute service. A nil monitor falls back to
// rusage; a nil confiner is rejected at Execute time.
func NewService(config Config, confiner sandbox.Confiner, monitor sandbox.ResourceMonitor, logger *log.Logger, collector *metrics.Collector) *Service {
	if config.Java == "" {
		config.Java = DefaultJava
	}
	if config.SandboxDir == "" {
		config.SandboxDir = DefaultSandboxDir
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if monitor == nil {
		monitor = sandbox.RusageMonitor{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		config:    config,
		confiner:  confiner,
		monitor:   monitor,
		logger:    logger,
		collector: collector,
	}
}

// Execute materializes the artifacts, confines the agent and runs the
// entrypoint.
//
// Spawn and materialization failures come back as a result with exit
// code -1 and the failure in Stderr. Errors are reserved for requests
// that are rejected outright (Validation) and for confinement failures,
// which are fatal: the workload is never started unconfined.
func (s *Service) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResult, error) {
	if strings.HasPrefix(req.Entrypoint, "-") {
		return nil, types.NewJobError(types.ErrorValidation, "", fmt.Sprintf("invalid entrypoint %q", req.Entrypoint))
	}
	names := make([]string, 0, len(req.ClassFiles))
	for name := range req.ClassFiles {
		if err := workspace.ValidateRelPath(name); err != nil {
			return nil, types.WrapJobError(types.ErrorValidation, "", "invalid class file name", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	s.collector.IncExecution()

	runDir, err := s.materialize(names, req.ClassFiles)
	if err != nil {
		return s.spawnFailed(fmt.Sprintf("failed to write artifacts: %v", err)), nil
	}
	defer s.removeRunDir(runDir)

	if s.confiner == nil {
		return nil, types.NewJobError(types.ErrorConfinement, "", "no confiner configured")
	}
	if err := s.confiner.Confine(); err != nil {
		return nil, types.WrapJobError(types.ErrorConfinement, "", "failed to apply resource confinement", err)
	}

	java, err := exec.LookPath(s.config.Java)
	if err != nil {
		return s.spawnFailed(fmt.Sprintf("failed to start %s: %v", s.config.Java, err)), nil
	}

	name, args := s.monitor.Command(java, s.Args(runDir, req.Entrypoint))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = runDir
	stdout := newCappedBuffer(s.config.MaxOutputBytes)
	stderr := newCappedBuffer(s.config.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	startNs := time.Now().UnixNano()
	runErr := cmd.Run()
	endNs := time.Now().UnixNano()

	result := &types.ExecuteResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		StartNs: startNs,
		EndNs:   endNs,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return s.spawnFailed(fmt.Sprintf("failed to start %s: %v", name, runErr)), nil
		}
		result.ExitCode = exitCode(exitErr)
	}

	if stdout.Truncated() || stderr.Truncated() {
		s.logger.Warn("workload output truncated", map[string]any{
			"limit_bytes":    s.config.MaxOutputBytes,
			"stdout_dropped": stdout.Dropped(),
			"stderr_dropped": stderr.Dropped(),
		})
	}

	usage, err := s.monitor.Usage(cmd.ProcessState)
	if err != nil {
		s.logger.Debug("no memory measurement", map[string]any{"error": err.Error()})
	} else {
		result.MaxMemoryKB = usage.MaxRSSKB
	}

	s.logger.Info("execution finished", map[string]any{
		"entrypoint":    req.Entrypoint,
		"exit_code":     result.ExitCode,
		"duration_ms":   time.Duration(endNs - startNs).Milliseconds(),
		"max_memory_kb": result.MaxMemoryKB,
	})
	s.logger.Debug("execution output", map[string]any{
		"stdout": log.Preview(result.Stdout, previewLimit),
		"stderr": log.Preview(result.Stderr, previewLimit),
	})

	return result, nil
}

// Args builds the runtime argument list for entrypoint run from runDir.
func (s *Service) Args(runDir, entrypoint string) []string {
	return []string{"-cp", s.Classpath(runDir), entrypoint}
}

// Classpath is the run directory, the working directory and the
// configured support libraries, in that order.
func (s *Service) Classpath(runDir string) string {
	parts := []string{runDir, "."}
	if s.config.Classpath != "" {
		parts = append(parts, s.config.Classpath)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// materialize writes the artifacts into a new run directory and returns
// its path. Nothing from an earlier execution is visible in it.
func (s *Service) materialize(names []string, files map[string][]byte) (string, error) {
	if err := os.MkdirAll(s.config.SandboxDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", s.config.SandboxDir, err)
	}
	runDir, err := os.MkdirTemp(s.config.SandboxDir, runDirPattern)
	if err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	for _, name := range names {
		if _, err := workspace.WriteFile(runDir, name, files[name]); err != nil {
			s.removeRunDir(runDir)
			return "", err
		}
	}

	listing, err := workspace.List(runDir)
	if err != nil {
		s.logger.Debug("failed to list run directory", map[string]any{"error": err.Error()})
		return runDir, nil
	}
	s.logger.Debug("sandbox contents", map[string]any{
		"dir":   filepath.Clean(runDir),
		"files": listing,
	})
	return runDir, nil
}

func (s *Service) removeRunDir(runDir string) {
	if err := os.RemoveAll(runDir); err != nil {
		s.logger.Warn("failed to remove run directory", map[string]any{
			"dir":   runDir,
			"error": err.Error(),
		})
	}
}

func (s *Service) spawnFailed(msg string) *types.ExecuteResult {
	s.collector.IncSpawnFailure()
	s.logger.Warn("workload did not run", map[string]any{"error": msg})
	now := time.Now().UnixNano()
	return &types.ExecuteResult{
		Stderr:   msg,
		ExitCode: types.SpawnFailedExitCode,
		StartNs:  now,
		EndNs:    now,
	}
}

// exitCode maps a terminated process to its exit code. A signal death is
// reported as the negated signal number.
func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -int(status.Signal())
		}
		return status.ExitStatus()
	}
	return exitErr.ExitCode()
}
