package ipc

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/justapithecus/warden/types"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodeRequest_Health(t *testing.T) {
	aliases := []string{"filesToCheck", "FilesToCheck", "files_to_check", "FILESTOCHECK"}
	for _, alias := range aliases {
		t.Run(alias, func(t *testing.T) {
			payload := `{"$type":"health","` + alias + `":["/a","/b"]}`
			req, err := DecodeRequest([]byte(payload))
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			health, ok := req.(*types.HealthRequest)
			if !ok {
				t.Fatalf("expected *HealthRequest, got %T", req)
			}
			if len(health.FilesToCheck) != 2 || health.FilesToCheck[0] != "/a" || health.FilesToCheck[1] != "/b" {
				t.Errorf("FilesToCheck = %v, want [/a /b]", health.FilesToCheck)
			}
		})
	}
}

func TestDecodeRequest_HealthMissingFiles(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"$type":"health"}`))
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("expected JobError, got %v", err)
	}
	if jobErr.Kind != types.ErrorValidation {
		t.Errorf("Kind = %v, want validation", jobErr.Kind)
	}
	if jobErr.Msg != "missing filesToCheck" {
		t.Errorf("Msg = %q, want %q", jobErr.Msg, "missing filesToCheck")
	}
}

func TestDecodeRequest_CompileAliases(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"camelCase", `{"jobId":"j1","clientSrc":{"Main":"` + b64("class Main {}") + `"}}`},
		{"PascalCase", `{"JobId":"j1","ClientSrc":{"Main":"` + b64("class Main {}") + `"}}`},
		{"snake_case", `{"job_id":"j1","SrcFiles":{"Main":"` + b64("class Main {}") + `"}}`},
		{"srcFiles", `{"jobId":"j1","srcFiles":{"Main":"` + b64("class Main {}") + `"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			compile, ok := req.(*types.CompileRequest)
			if !ok {
				t.Fatalf("expected *CompileRequest, got %T", req)
			}
			if compile.JobID != "j1" {
				t.Errorf("JobID = %q, want %q", compile.JobID, "j1")
			}
			if string(compile.SourceFiles["Main"]) != "class Main {}" {
				t.Errorf("SourceFiles[Main] = %q", compile.SourceFiles["Main"])
			}
		})
	}
}

func TestDecodeRequest_CompileMissingJobID(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"clientSrc":{"Main":"` + b64("x") + `"}}`))
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("expected JobError, got %v", err)
	}
	if jobErr.JobID != "" {
		t.Errorf("JobID = %q, want empty", jobErr.JobID)
	}
	if !strings.Contains(jobErr.Msg, "missing jobId") {
		t.Errorf("Msg = %q, want missing jobId", jobErr.Msg)
	}
}

func TestDecodeRequest_CompileMissingSources(t *testing.T) {
	for _, payload := range []string{`{"jobId":"j2"}`, `{"jobId":"j2","clientSrc":{}}`, `{"jobId":"j2","clientSrc":null}`} {
		_, err := DecodeRequest([]byte(payload))
		jobErr, ok := types.AsJobError(err)
		if !ok {
			t.Fatalf("%s: expected JobError, got %v", payload, err)
		}
		if jobErr.JobID != "j2" {
			t.Errorf("%s: JobID = %q, want j2", payload, jobErr.JobID)
		}
		if jobErr.Msg != "missing clientSrc" {
			t.Errorf("%s: Msg = %q", payload, jobErr.Msg)
		}
	}
}

func TestDecodeRequest_CompileInvalidBase64(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"jobId":"j3","clientSrc":{"Main":"!!!"}}`))
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("expected JobError, got %v", err)
	}
	if jobErr.Kind != types.ErrorValidation || jobErr.JobID != "j3" {
		t.Errorf("got kind=%v jobID=%q", jobErr.Kind, jobErr.JobID)
	}
}

func TestDecodeRequest_Execute(t *testing.T) {
	for _, key := range []string{"ClientSrc", "clientSrc", "client_src"} {
		payload := `{"Entrypoint":"Main","` + key + `":{"Main.class":"` + b64("\xca\xfe\xba\xbe") + `"}}`
		req, err := DecodeRequest([]byte(payload))
		if err != nil {
			t.Fatalf("%s: DecodeRequest failed: %v", key, err)
		}
		exec, ok := req.(*types.ExecuteRequest)
		if !ok {
			t.Fatalf("%s: expected *ExecuteRequest, got %T", key, req)
		}
		if exec.Entrypoint != "Main" {
			t.Errorf("Entrypoint = %q, want Main", exec.Entrypoint)
		}
		if string(exec.ClassFiles["Main.class"]) != "\xca\xfe\xba\xbe" {
			t.Errorf("ClassFiles[Main.class] = %x", exec.ClassFiles["Main.class"])
		}
	}
}

func TestDecodeRequest_ExplicitDiscriminators(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"Health","files_to_check":[]}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Kind() != types.RequestHealth {
		t.Errorf("Kind = %q, want health", req.Kind())
	}

	_, err = DecodeRequest([]byte(`{"$type":"execute","ClientSrc":{"A.class":""}}`))
	jobErr, ok := types.AsJobError(err)
	if !ok || jobErr.Msg != "missing entrypoint" {
		t.Errorf("expected missing entrypoint, got %v", err)
	}
}

func TestDecodeRequest_JobIDTakesPriorityOverEntrypoint(t *testing.T) {
	payload := `{"jobId":"j4","Entrypoint":"Main","clientSrc":{"Main":"` + b64("x") + `"}}`
	req, err := DecodeRequest([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Kind() != types.RequestCompile {
		t.Errorf("Kind = %q, want compile", req.Kind())
	}
}

func TestDecodeRequest_ParseError(t *testing.T) {
	for _, payload := range []string{``, `{"jobId":`, `[1,2]`, `null`, `"str"`} {
		_, err := DecodeRequest([]byte(payload))
		jobErr, ok := types.AsJobError(err)
		if !ok {
			t.Fatalf("%q: expected JobError, got %v", payload, err)
		}
		if jobErr.Kind != types.ErrorDecode {
			t.Errorf("%q: Kind = %v, want decode", payload, jobErr.Kind)
		}
		if !strings.HasPrefix(jobErr.Msg, "parse error: ") {
			t.Errorf("%q: Msg = %q, want parse error prefix", payload, jobErr.Msg)
		}
		if jobErr.JobID != "" {
			t.Errorf("%q: JobID = %q, want empty", payload, jobErr.JobID)
		}
	}
}

func TestDecodeRequest_MaxFiles(t *testing.T) {
	payload := `{"jobId":"j5","clientSrc":{"A":"","B":"","C":""}}`
	_, err := (&RequestDecoder{MaxFiles: 2}).Decode([]byte(payload))
	jobErr, ok := types.AsJobError(err)
	if !ok {
		t.Fatalf("expected JobError, got %v", err)
	}
	if !strings.Contains(jobErr.Msg, "too many entries") {
		t.Errorf("Msg = %q", jobErr.Msg)
	}
}

func TestEncodeRequest_DecodesBack(t *testing.T) {
	original := &types.CompileRequest{
		JobID:       "job-42",
		SourceFiles: map[string][]byte{"Main": []byte("public class Main {}")},
	}
	payload, err := EncodeRequest(original)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	req, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	compile := req.(*types.CompileRequest)
	if compile.JobID != original.JobID || string(compile.SourceFiles["Main"]) != "public class Main {}" {
		t.Errorf("decoded = %+v", compile)
	}
}
