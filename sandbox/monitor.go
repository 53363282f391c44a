package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Usage is what a workload consumed. Zero values mean unmeasured.
type Usage struct {
	MaxRSSKB   int64
	UserTime   time.Duration
	SystemTime time.Duration
}

// ErrNoMeasurement is returned when no usage data could be obtained.
var ErrNoMeasurement = errors.New("no resource measurement available")

// ResourceMonitor measures a workload. Command rewrites the argv before
// spawn (an external instrument may wrap it); Usage is called after the
// process has been reaped.
type ResourceMonitor interface {
	Command(name string, args []string) (string, []string)
	Usage(state *os.ProcessState) (Usage, error)
}

// TimeMonitor wraps the workload in GNU time and parses its verbose log.
type TimeMonitor struct {
	// Binary is the GNU time executable, e.g. /usr/bin/time.
	Binary string
	// LogPath is where time writes its report. It must be outside any
	// directory the workload can write to.
	LogPath string
}

// Command implements ResourceMonitor. A stale log from an earlier run is
// removed so it can never be reported for this one, and the log directory
// is created if missing.
func (m *TimeMonitor) Command(name string, args []string) (string, []string) {
	_ = os.Remove(m.LogPath)
	_ = os.MkdirAll(filepath.Dir(m.LogPath), 0o755)
	wrapped := make([]string, 0, len(args)+4)
	wrapped = append(wrapped, "-v", "-o", m.LogPath, name)
	wrapped = append(wrapped, args...)
	return m.Binary, wrapped
}

// Usage implements ResourceMonitor.
func (m *TimeMonitor) Usage(*os.ProcessState) (Usage, error) {
	f, err := os.Open(m.LogPath)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrNoMeasurement, err)
	}
	defer f.Close()
	return ParseTimeLog(f)
}

// Labels in GNU time's verbose report.
const (
	labelMaxRSS     = "Maximum resident set size (kbytes)"
	labelUserTime   = "User time (seconds)"
	labelSystemTime = "System time (seconds)"
)

// ParseTimeLog extracts usage from `time -v` output. The peak RSS line is
// required; CPU times are best effort.
func ParseTimeLog(r io.Reader) (Usage, error) {
	var usage Usage
	found := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		label, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ": ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch label {
		case labelMaxRSS:
			kb, err := strconv.ParseInt(value, 10, 64)
			if err != nil || kb < 0 {
				return Usage{}, fmt.Errorf("%w: bad %s %q", ErrNoMeasurement, labelMaxRSS, value)
			}
			usage.MaxRSSKB = kb
			found = true
		case labelUserTime:
			usage.UserTime = parseSeconds(value)
		case labelSystemTime:
			usage.SystemTime = parseSeconds(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return Usage{}, fmt.Errorf("read time log: %w", err)
	}
	if !found {
		return Usage{}, fmt.Errorf("%w: %s not found", ErrNoMeasurement, labelMaxRSS)
	}
	return usage, nil
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}

// RusageMonitor reads usage straight from the reaped child's rusage.
type RusageMonitor struct{}

// Command implements ResourceMonitor.
func (RusageMonitor) Command(name string, args []string) (string, []string) {
	return name, args
}

// Usage implements ResourceMonitor. Linux reports ru_maxrss in kilobytes.
func (RusageMonitor) Usage(state *os.ProcessState) (Usage, error) {
	if state == nil {
		return Usage{}, ErrNoMeasurement
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return Usage{}, ErrNoMeasurement
	}
	return Usage{
		MaxRSSKB:   int64(ru.Maxrss),
		UserTime:   state.UserTime(),
		SystemTime: state.SystemTime(),
	}, nil
}
