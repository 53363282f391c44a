// Package sandbox applies resource confinement to the agent before it runs
// untrusted code and measures what that code consumed.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Confiner establishes resource control for the current process so that
// every child it spawns afterwards inherits it.
type Confiner interface {
	Confine() error
}

// cgroupProcs is the membership file of a cgroup directory.
const cgroupProcs = "cgroup.procs"

// ErrNotCgroup is returned when the configured path is not on a cgroup
// filesystem.
var ErrNotCgroup = errors.New("not a cgroup filesystem")

// RLimits are optional setrlimit values applied after joining the cgroup.
// Zero fields are left untouched. They are set on the agent process, with
// the hard limit lowered to match, so they only suit a single-shot agent
// that exits after its one workload.
type RLimits struct {
	CPUSeconds    uint64
	FileSizeBytes uint64
}

// CgroupConfiner moves the current process into a pre-existing cgroup.
// The cgroup's controllers (cpu.max, memory.max, ...) are provisioned by
// the image; this type only joins it.
type CgroupConfiner struct {
	// Path is the cgroup directory, e.g. /sys/fs/cgroup/sandbox.
	Path string
	// Limits are applied with setrlimit after joining.
	Limits RLimits
	// SkipFSCheck disables the filesystem magic check. Tests only.
	SkipFSCheck bool

	pid func() int
}

// NewCgroupConfiner returns a confiner for the cgroup at path.
func NewCgroupConfiner(path string, limits RLimits) *CgroupConfiner {
	return &CgroupConfiner{Path: path, Limits: limits, pid: os.Getpid}
}

// Confine writes the current pid to cgroup.procs. The file must already
// exist: creating cgroups is not this process's job.
func (c *CgroupConfiner) Confine() error {
	if !c.SkipFSCheck {
		if err := checkCgroupFS(c.Path); err != nil {
			return err
		}
	}

	pid := os.Getpid
	if c.pid != nil {
		pid = c.pid
	}

	procs := filepath.Join(c.Path, cgroupProcs)
	f, err := os.OpenFile(procs, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", procs, err)
	}
	if _, err := f.WriteString(strconv.Itoa(pid())); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", procs, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", procs, err)
	}

	return c.Limits.Apply()
}

// checkCgroupFS verifies that path lives on cgroup v1 or v2.
func checkCgroupFS(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Type != unix.CGROUP2_SUPER_MAGIC && st.Type != unix.CGROUP_SUPER_MAGIC {
		return fmt.Errorf("%w: %s (magic 0x%x)", ErrNotCgroup, path, st.Type)
	}
	return nil
}

// Apply sets the configured limits on the current process.
func (r RLimits) Apply() error {
	for _, l := range []struct {
		name     string
		resource int
		value    uint64
	}{
		{"RLIMIT_CPU", unix.RLIMIT_CPU, r.CPUSeconds},
		{"RLIMIT_FSIZE", unix.RLIMIT_FSIZE, r.FileSizeBytes},
	} {
		if l.value == 0 {
			continue
		}
		rlim := unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Setrlimit(l.resource, &rlim); err != nil {
			return fmt.Errorf("setrlimit %s=%d: %w", l.name, l.value, err)
		}
	}
	return nil
}

// NoopConfiner performs no confinement. Selected only by explicit
// configuration for development hosts without a provisioned cgroup.
type NoopConfiner struct{}

// Confine implements Confiner.
func (NoopConfiner) Confine() error { return nil }
