// Package workspace owns job-scoped directories on the guest filesystem.
//
// Job ids and file names arrive from the host and are used to build
// paths, so every name is validated before anything touches the disk.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Permissions for created directories and files.
const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// MaxJobIDLength bounds job ids to a single path segment on common filesystems.
const MaxJobIDLength = 255

// ErrUnsafeName is returned for ids or names that could escape a workspace.
var ErrUnsafeName = errors.New("unsafe name")

// ValidateJobID checks that id is usable as exactly one path segment.
func ValidateJobID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty job id", ErrUnsafeName)
	case len(id) > MaxJobIDLength:
		return fmt.Errorf("%w: job id longer than %d bytes", ErrUnsafeName, MaxJobIDLength)
	case id == ".":
		return fmt.Errorf("%w: job id %q", ErrUnsafeName, id)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: job id %q contains \"..\"", ErrUnsafeName, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: job id %q contains a path separator", ErrUnsafeName, id)
	}
	return nil
}

// ValidateRelPath checks that name is a relative, slash-separated path
// that stays inside its parent directory once joined.
func ValidateRelPath(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty file name", ErrUnsafeName)
	}
	if strings.ContainsAny(name, "\\\x00") {
		return fmt.Errorf("%w: file name %q", ErrUnsafeName, name)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute file name %q", ErrUnsafeName, name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: file name %q", ErrUnsafeName, name)
		}
	}
	return nil
}

// Workspace is the pair of directories owned by one compile job.
type Workspace struct {
	JobID     string
	SourceDir string
	OutputDir string
}

// ForJob resolves the workspace of jobID under the given roots. Nothing is
// created; call Ensure for that.
func ForJob(sourceRoot, outputRoot, jobID string) (*Workspace, error) {
	if err := ValidateJobID(jobID); err != nil {
		return nil, err
	}
	return &Workspace{
		JobID:     jobID,
		SourceDir: filepath.Join(sourceRoot, jobID),
		OutputDir: filepath.Join(outputRoot, jobID),
	}, nil
}

// Ensure creates both directories. Existing directories are reused.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.SourceDir, w.OutputDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteFile writes data to dir/name, creating intermediate directories.
// Returns the written path.
func WriteFile(dir, name string, data []byte) (string, error) {
	if err := ValidateRelPath(name); err != nil {
		return "", err
	}
	target := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", target, err)
	}
	if err := os.WriteFile(target, data, filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

// Collect returns the files under dir whose names end in ext, keyed by
// slash-separated path relative to dir.
func Collect(dir, ext string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// List returns the slash-separated relative paths of regular files under dir.
func List(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	return names, err
}
