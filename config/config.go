// Package config loads the agent's YAML configuration.
//
// Every value has a default matching the sandbox image, so the file is
// optional. Command-line flags override config values.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/justapithecus/warden/compile"
	"github.com/justapithecus/warden/execute"
	"github.com/justapithecus/warden/ipc"
	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/transport"
)

// DefaultPath is where the agent looks for its config file.
const DefaultPath = "/etc/warden/agent.yaml"

// Resource monitors.
const (
	MonitorTime   = "time"
	MonitorRusage = "rusage"
)

// Config represents an agent.yaml configuration file.
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Ready       ReadyConfig       `yaml:"ready"`
	Log         LogConfig         `yaml:"log"`
	Compile     CompileConfig     `yaml:"compile"`
	Execute     ExecuteConfig     `yaml:"execute"`
	Confinement ConfinementConfig `yaml:"confinement"`
	Limits      LimitsConfig      `yaml:"limits"`
}

// TransportConfig configures the listener.
type TransportConfig struct {
	Network       string   `yaml:"network"`
	Address       string   `yaml:"address"`
	Port          uint32   `yaml:"port"`
	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	AcceptTimeout Duration `yaml:"accept_timeout"`
	Once          bool     `yaml:"once"`
	MaxFrameBytes int      `yaml:"max_frame_bytes"`
}

// ReadyConfig configures the readiness signal.
type ReadyConfig struct {
	Path  string `yaml:"path"`
	Token string `yaml:"token"`
}

// LogConfig configures logging.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// CompileConfig configures the compile service.
type CompileConfig struct {
	Javac      string   `yaml:"javac"`
	Classpath  string   `yaml:"classpath"`
	SourceRoot string   `yaml:"source_root"`
	OutputRoot string   `yaml:"output_root"`
	SourceExt  string   `yaml:"source_ext"`
	OutputExt  string   `yaml:"output_ext"`
	Timeout    Duration `yaml:"timeout"`
}

// ExecuteConfig configures the execute service.
type ExecuteConfig struct {
	Java       string `yaml:"java"`
	TimeBinary string `yaml:"time_binary"`
	SandboxDir string `yaml:"sandbox_dir"`
	Classpath  string `yaml:"classpath"`
	// TimeLog must be absolute and outside SandboxDir when the time
	// monitor is used.
	TimeLog string `yaml:"time_log"`
	Monitor string `yaml:"monitor"`
	// MaxOutputBytes caps each captured output stream.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// ConfinementConfig configures resource control for workloads.
type ConfinementConfig struct {
	CgroupPath string `yaml:"cgroup_path"`
	// Disabled skips confinement. Development hosts only.
	Disabled bool `yaml:"disabled"`
}

// LimitsConfig bounds requests and workloads. The rlimits are set on the
// agent process itself and cannot be raised again, so they require
// transport.once.
type LimitsConfig struct {
	MaxFiles      int    `yaml:"max_files"`
	CPUSeconds    uint64 `yaml:"cpu_seconds"`
	FileSizeBytes uint64 `yaml:"file_size_bytes"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration of the stock sandbox image.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Network:       transport.NetworkVsock,
			Port:          transport.DefaultPort,
			ReadTimeout:   Duration{30 * time.Second},
			WriteTimeout:  Duration{30 * time.Second},
			MaxFrameBytes: ipc.DefaultMaxFrameSize,
		},
		Ready: ReadyConfig{Path: "/dev/ttyS0", Token: "READY"},
		Log:   LogConfig{Path: "/dev/ttyS0", Level: "debug"},
		Compile: CompileConfig{
			Javac:      compile.DefaultJavac,
			Classpath:  compile.DefaultClasspath,
			SourceRoot: compile.DefaultSourceRoot,
			OutputRoot: compile.DefaultOutputRoot,
			SourceExt:  compile.DefaultSourceExt,
			OutputExt:  compile.DefaultOutputExt,
		},
		Execute: ExecuteConfig{
			Java:           execute.DefaultJava,
			TimeBinary:     execute.DefaultTimeBinary,
			SandboxDir:     execute.DefaultSandboxDir,
			Classpath:      execute.DefaultClasspath,
			TimeLog:        execute.DefaultTimeLog,
			Monitor:        MonitorTime,
			MaxOutputBytes: execute.DefaultMaxOutputBytes,
		},
		Confinement: ConfinementConfig{CgroupPath: "/sys/fs/cgroup/sandbox"},
		Limits:      LimitsConfig{MaxFiles: ipc.DefaultMaxFiles},
	}
}

// Validate rejects inconsistent configurations. All problems are reported.
func (c *Config) Validate() error {
	var errs []error

	t := c.Transport
	switch {
	case !transport.ValidNetwork(t.Network):
		errs = append(errs, fmt.Errorf("transport.network: unsupported network %q", t.Network))
	case t.Network == transport.NetworkUnix && t.Address == "":
		errs = append(errs, errors.New("transport.address: socket path required for unix"))
	case t.Network != transport.NetworkUnix && t.Port == 0:
		errs = append(errs, fmt.Errorf("transport.port: required for %s", t.Network))
	}
	if t.ReadTimeout.Duration < 0 || t.WriteTimeout.Duration < 0 || t.AcceptTimeout.Duration < 0 {
		errs = append(errs, errors.New("transport: timeouts must not be negative"))
	}
	if t.MaxFrameBytes < 0 {
		errs = append(errs, errors.New("transport.max_frame_bytes: must not be negative"))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Compile.SourceRoot == "" || c.Compile.OutputRoot == "" {
		errs = append(errs, errors.New("compile: source_root and output_root are required"))
	}

	if c.Execute.SandboxDir == "" {
		errs = append(errs, errors.New("execute.sandbox_dir: required"))
	}
	switch c.Execute.Monitor {
	case MonitorTime:
		if c.Execute.TimeBinary == "" {
			errs = append(errs, errors.New("execute.time_binary: required for the time monitor"))
		}
		if err := validateTimeLog(c.Execute.TimeLog, c.Execute.SandboxDir); err != nil {
			errs = append(errs, err)
		}
	case MonitorRusage:
	default:
		errs = append(errs, fmt.Errorf("execute.monitor: unknown monitor %q", c.Execute.Monitor))
	}

	if c.Execute.MaxOutputBytes < 0 {
		errs = append(errs, errors.New("execute.max_output_bytes: must not be negative"))
	}

	if !c.Confinement.Disabled && c.Confinement.CgroupPath == "" {
		errs = append(errs, errors.New("confinement.cgroup_path: required unless confinement is disabled"))
	}

	if c.Limits.MaxFiles < 0 {
		errs = append(errs, errors.New("limits.max_files: must not be negative"))
	}
	if (c.Limits.CPUSeconds > 0 || c.Limits.FileSizeBytes > 0) && !c.Transport.Once {
		errs = append(errs, errors.New("limits.cpu_seconds, limits.file_size_bytes: apply to the agent process itself and require transport.once"))
	}

	return errors.Join(errs...)
}

// validateTimeLog requires an absolute time log path outside the sandbox,
// which the workload can write to.
func validateTimeLog(timeLog, sandboxDir string) error {
	if !filepath.IsAbs(timeLog) {
		return fmt.Errorf("execute.time_log: must be an absolute path, got %q", timeLog)
	}
	if sandboxDir == "" {
		return nil
	}
	rel, err := filepath.Rel(filepath.Clean(sandboxDir), filepath.Clean(timeLog))
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("execute.time_log: %s is inside execute.sandbox_dir", timeLog)
	}
	return nil
}
