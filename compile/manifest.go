package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/warden/health"
)

// ManifestFileName is written into each job's output directory.
const ManifestFileName = "manifest.msgpack"

// ManifestFile describes one source or artifact of a compile job.
type ManifestFile struct {
	Name   string `msgpack:"name" json:"name" yaml:"name"`
	Size   int64  `msgpack:"size" json:"size" yaml:"size"`
	SHA256 string `msgpack:"sha256" json:"sha256" yaml:"sha256"`
}

// Manifest records what a compile job consumed and produced.
type Manifest struct {
	JobID        string         `msgpack:"job_id"`
	Sources      []ManifestFile `msgpack:"sources"`
	Artifacts    []ManifestFile `msgpack:"artifacts"`
	ExitCode     int            `msgpack:"exit_code"`
	DurationNs   int64          `msgpack:"duration_ns"`
	CompiledAt   time.Time      `msgpack:"compiled_at"`
	AgentVersion string         `msgpack:"agent_version"`
}

// manifestFiles converts a name -> bytes map into entries sorted by name.
func manifestFiles(files map[string][]byte) []ManifestFile {
	entries := make([]ManifestFile, 0, len(files))
	for name, data := range files {
		entries = append(entries, ManifestFile{
			Name:   name,
			Size:   int64(len(data)),
			SHA256: health.HashBytes(data),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// WriteManifest encodes m into dir/manifest.msgpack.
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest decodes the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}
