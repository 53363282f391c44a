package render

import (
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/warden/health"
	"github.com/justapithecus/warden/types"
)

// ArtifactRow is one compiled artifact.
type ArtifactRow struct {
	Name   string `json:"name" yaml:"name"`
	Size   int    `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// CompileView is a successful compile response.
type CompileView struct {
	Status    string        `json:"status" yaml:"status"`
	JobID     string        `json:"job_id" yaml:"job_id"`
	Artifacts []ArtifactRow `json:"artifacts" yaml:"artifacts" table:"-"`
}

// ErrorView is an error response.
type ErrorView struct {
	Status  string `json:"status" yaml:"status"`
	JobID   string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Message string `json:"message" yaml:"message" table:"-"`
}

// HealthRow is one digested file.
type HealthRow struct {
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// ExecuteView is an execute response.
type ExecuteView struct {
	ExitCode    int    `json:"exit_code" yaml:"exit_code"`
	Duration    string `json:"duration" yaml:"duration"`
	MaxMemoryKB int64  `json:"max_memory_kb" yaml:"max_memory_kb"`
	StartNs     int64  `json:"start_ns" yaml:"start_ns"`
	EndNs       int64  `json:"end_ns" yaml:"end_ns"`
	Stdout      string `json:"stdout" yaml:"stdout" table:"-"`
	Stderr      string `json:"stderr" yaml:"stderr" table:"-"`
}

// View converts a response into its rendered form.
func View(resp types.Response) (any, error) {
	switch r := resp.(type) {
	case *types.CompileOK:
		names := make([]string, 0, len(r.ClassFiles))
		for name := range r.ClassFiles {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([]ArtifactRow, 0, len(names))
		for _, name := range names {
			data := r.ClassFiles[name]
			rows = append(rows, ArtifactRow{Name: name, Size: len(data), SHA256: health.HashBytes(data)})
		}
		return &CompileView{Status: string(types.ResponseOK), JobID: r.JobID, Artifacts: rows}, nil
	case *types.ErrorResponse:
		return &ErrorView{Status: string(types.ResponseErr), JobID: r.JobID, Message: r.Message}, nil
	case *types.HealthResult:
		paths := make([]string, 0, len(r.FileHashes))
		for path := range r.FileHashes {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		rows := make([]HealthRow, 0, len(paths))
		for _, path := range paths {
			rows = append(rows, HealthRow{Path: path, SHA256: r.FileHashes[path]})
		}
		return rows, nil
	case *types.ExecuteResult:
		return &ExecuteView{
			ExitCode:    r.ExitCode,
			Duration:    time.Duration(r.EndNs - r.StartNs).String(),
			MaxMemoryKB: r.MaxMemoryKB,
			StartNs:     r.StartNs,
			EndNs:       r.EndNs,
			Stdout:      r.Stdout,
			Stderr:      r.Stderr,
		}, nil
	default:
		return nil, fmt.Errorf("unknown response type %T", resp)
	}
}

// RenderResponse renders a decoded agent response. Table output adds a
// status line and prints long text fields as blocks.
func (r *Renderer) RenderResponse(resp types.Response) error {
	view, err := View(resp)
	if err != nil {
		return err
	}

	switch v := view.(type) {
	case *CompileView:
		r.Line(SuccessStyle, fmt.Sprintf("compiled job %s (%d artifacts)", v.JobID, len(v.Artifacts)))
		if r.format == FormatTable {
			return r.Render(v.Artifacts)
		}
	case *ErrorView:
		if v.JobID != "" {
			r.Line(ErrorStyle, "job "+v.JobID+" failed")
		} else {
			r.Line(ErrorStyle, "request failed")
		}
		if r.format == FormatTable {
			r.Block("message", v.Message)
			return nil
		}
	case *ExecuteView:
		style := SuccessStyle
		if v.ExitCode != 0 {
			style = ErrorStyle
		}
		r.Line(style, fmt.Sprintf("exit code %d", v.ExitCode))
		if r.format == FormatTable {
			if err := r.Render(v); err != nil {
				return err
			}
			r.Block("stdout", v.Stdout)
			r.Block("stderr", v.Stderr)
			return nil
		}
	}
	return r.Render(view)
}
