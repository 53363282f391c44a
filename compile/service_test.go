package compile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/types"
)

// fakeJavac emits one artifact per source into the -d directory and
// records its arguments.
const fakeJavac = `#!/bin/sh
echo "$@" > "$(dirname "$0")/args.txt"
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -d) out="$2"; shift 2 ;;
    -cp) shift 2 ;;
    -proc:none) shift ;;
    *) base=$(basename "$1" .java); printf 'bytecode:%s' "$base" > "$out/$base.class"; shift ;;
  esac
done
`

const failingJavac = `#!/bin/sh
echo "Main.java:1: error: ';' expected" >&2
exit 1
`

const quietFailingJavac = `#!/bin/sh
exit 2
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestService(t *testing.T, script string) (*Service, Config, *metrics.Collector) {
	t.Helper()
	root := t.TempDir()
	binDir := t.TempDir()
	cfg := Config{
		Javac:      writeScript(t, binDir, "javac", script),
		Classpath:  "/app/lib/support.jar",
		SourceRoot: filepath.Join(root, "src"),
		OutputRoot: filepath.Join(root, "out"),
	}
	collector := metrics.NewCollector("tcp", "loop")
	return NewService(cfg, nil, collector), cfg, collector
}

func TestCompile_Success(t *testing.T) {
	svc, cfg, collector := newTestService(t, fakeJavac)

	result, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID: "job-1",
		SourceFiles: map[string][]byte{
			"Main":   []byte("class Main {}"),
			"Helper": []byte("class Helper {}"),
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", result.JobID, "job-1")
	}
	if got := string(result.ClassFiles["Main.class"]); got != "bytecode:Main" {
		t.Errorf("Main.class = %q, want %q", got, "bytecode:Main")
	}
	if got := string(result.ClassFiles["Helper.class"]); got != "bytecode:Helper" {
		t.Errorf("Helper.class = %q, want %q", got, "bytecode:Helper")
	}
	if len(result.ClassFiles) != 2 {
		t.Errorf("len(ClassFiles) = %d, want 2", len(result.ClassFiles))
	}

	src, err := os.ReadFile(filepath.Join(cfg.SourceRoot, "job-1", "Main.java"))
	if err != nil {
		t.Fatalf("read written source: %v", err)
	}
	if string(src) != "class Main {}" {
		t.Errorf("written source = %q", src)
	}

	if s := collector.Snapshot(); s.CompileSucceeded != 1 {
		t.Errorf("CompileSucceeded = %d, want 1", s.CompileSucceeded)
	}
}

func TestCompile_ArgumentOrder(t *testing.T) {
	svc, cfg, _ := newTestService(t, fakeJavac)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-args",
		SourceFiles: map[string][]byte{"B": []byte("b"), "A": []byte("a")},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.Javac), "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	srcDir := filepath.Join(cfg.SourceRoot, "job-args")
	want := strings.Join([]string{
		"-cp", "/app/lib/support.jar",
		"-proc:none",
		"-d", filepath.Join(cfg.OutputRoot, "job-args"),
		filepath.Join(srcDir, "A.java"),
		filepath.Join(srcDir, "B.java"),
	}, " ")
	if got := strings.TrimSpace(string(raw)); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestCompile_FailureCarriesDiagnostics(t *testing.T) {
	svc, _, collector := newTestService(t, failingJavac)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-2",
		SourceFiles: map[string][]byte{"Main": []byte("class Main {")},
	})
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("error = %v, want JobError", err)
	}
	if jobErr.Kind != types.ErrorCompileFailure {
		t.Errorf("Kind = %v, want %v", jobErr.Kind, types.ErrorCompileFailure)
	}
	if jobErr.JobID != "job-2" {
		t.Errorf("JobID = %q, want %q", jobErr.JobID, "job-2")
	}
	if !strings.Contains(jobErr.Msg, "';' expected") {
		t.Errorf("Msg = %q, want compiler diagnostics", jobErr.Msg)
	}
	if s := collector.Snapshot(); s.CompileFailed != 1 {
		t.Errorf("CompileFailed = %d, want 1", s.CompileFailed)
	}
}

func TestCompile_FailureWithoutOutput(t *testing.T) {
	svc, _, _ := newTestService(t, quietFailingJavac)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-quiet",
		SourceFiles: map[string][]byte{"Main": []byte("x")},
	})
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("error = %v, want JobError", err)
	}
	if jobErr.Msg != "compiler exited with code 2" {
		t.Errorf("Msg = %q", jobErr.Msg)
	}
}

func TestCompile_RejectsUnsafeJobID(t *testing.T) {
	svc, cfg, _ := newTestService(t, fakeJavac)

	for _, id := range []string{"../escape", "a/b", "..", ""} {
		_, err := svc.Compile(context.Background(), &types.CompileRequest{
			JobID:       id,
			SourceFiles: map[string][]byte{"Main": []byte("x")},
		})
		jobErr, ok := types.AsJobError(err)
		if !ok || jobErr.Kind != types.ErrorValidation {
			t.Errorf("job id %q: error = %v, want validation error", id, err)
		}
	}

	if _, err := os.Stat(cfg.SourceRoot); !os.IsNotExist(err) {
		t.Errorf("source root should not be created for rejected ids, stat err = %v", err)
	}
}

func TestCompile_RejectsUnsafeSourceName(t *testing.T) {
	svc, cfg, _ := newTestService(t, fakeJavac)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-3",
		SourceFiles: map[string][]byte{"../../etc/evil": []byte("x")},
	})
	jobErr, ok := types.AsJobError(err)
	if !ok || jobErr.Kind != types.ErrorValidation {
		t.Fatalf("error = %v, want validation error", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.SourceRoot, "job-3")); !os.IsNotExist(err) {
		t.Errorf("workspace should not exist, stat err = %v", err)
	}
}

func TestCompile_MissingCompiler(t *testing.T) {
	root := t.TempDir()
	svc := NewService(Config{
		Javac:      filepath.Join(root, "no-such-javac"),
		SourceRoot: filepath.Join(root, "src"),
		OutputRoot: filepath.Join(root, "out"),
	}, nil, nil)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-4",
		SourceFiles: map[string][]byte{"Main": []byte("x")},
	})
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("error = %v, want JobError", err)
	}
	if jobErr.Kind != types.ErrorSpawn {
		t.Errorf("Kind = %v, want %v", jobErr.Kind, types.ErrorSpawn)
	}
}

func TestCompile_WorkspaceReused(t *testing.T) {
	svc, _, _ := newTestService(t, fakeJavac)
	req := &types.CompileRequest{JobID: "job-5", SourceFiles: map[string][]byte{"Main": []byte("x")}}

	for i := 0; i < 2; i++ {
		if _, err := svc.Compile(context.Background(), req); err != nil {
			t.Fatalf("Compile #%d: %v", i, err)
		}
	}
}

func TestCompile_WritesManifest(t *testing.T) {
	svc, cfg, _ := newTestService(t, fakeJavac)

	_, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-6",
		SourceFiles: map[string][]byte{"Main": []byte("class Main {}")},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	m, err := ReadManifest(filepath.Join(cfg.OutputRoot, "job-6", ManifestFileName))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.JobID != "job-6" {
		t.Errorf("JobID = %q, want %q", m.JobID, "job-6")
	}
	if m.AgentVersion != types.Version {
		t.Errorf("AgentVersion = %q, want %q", m.AgentVersion, types.Version)
	}
	if len(m.Sources) != 1 || m.Sources[0].Name != "Main" {
		t.Fatalf("Sources = %+v", m.Sources)
	}
	if m.Sources[0].Size != int64(len("class Main {}")) {
		t.Errorf("Sources[0].Size = %d", m.Sources[0].Size)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Name != "Main.class" {
		t.Errorf("Artifacts = %+v", m.Artifacts)
	}
}

func TestCompile_ManifestNotReturnedAsArtifact(t *testing.T) {
	svc, _, _ := newTestService(t, fakeJavac)

	result, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID:       "job-7",
		SourceFiles: map[string][]byte{"Main": []byte("x")},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := result.ClassFiles[ManifestFileName]; ok {
		t.Error("manifest leaked into class files")
	}
}

func TestCompile_RealJavac(t *testing.T) {
	javac, err := exec.LookPath("javac")
	if err != nil {
		t.Skip("javac not on PATH")
	}
	root := t.TempDir()
	svc := NewService(Config{
		Javac:      javac,
		SourceRoot: filepath.Join(root, "src"),
		OutputRoot: filepath.Join(root, "out"),
	}, nil, nil)

	result, err := svc.Compile(context.Background(), &types.CompileRequest{
		JobID: "real",
		SourceFiles: map[string][]byte{
			"Main": []byte("public class Main { public static void main(String[] a) { System.out.println(\"hi\"); } }"),
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := result.ClassFiles["Main.class"]; !ok {
		t.Errorf("ClassFiles = %v, want Main.class", keys(result.ClassFiles))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
