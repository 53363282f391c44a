package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/justapithecus/warden/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid with message", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "key:") || !strings.Contains(got, "value") {
		t.Errorf("YAML output missing expected content: %s", got)
	}
}

func TestRenderer_Table_MapSortedKeys(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render(map[string]int{"zeta": 1, "alpha": 2}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if strings.Index(got, "alpha") > strings.Index(got, "zeta") {
		t.Errorf("map keys not sorted: %s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	data := []HealthRow{
		{Path: "/app/lib/a.jar", SHA256: "aaa"},
		{Path: "/app/lib/b.jar", SHA256: "bbb"},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "path") || !strings.Contains(got, "sha256") {
		t.Errorf("Table output missing headers: %s", got)
	}
	if !strings.Contains(got, "/app/lib/b.jar") || !strings.Contains(got, "bbb") {
		t.Errorf("Table output missing data: %s", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]string{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("Empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer
	resp := &types.ErrorResponse{JobID: "j", Message: "missing clientSrc"}

	if err := NewRendererWithWriter(FormatJSON, false, &bufColor).RenderResponse(resp); err != nil {
		t.Fatalf("Render with color failed: %v", err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &bufNoColor).RenderResponse(resp); err != nil {
		t.Fatalf("Render without color failed: %v", err)
	}

	if bufColor.String() != bufNoColor.String() {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestRenderResponse_CompileJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, true, &buf)

	err := r.RenderResponse(&types.CompileOK{
		JobID:      "job-1",
		ClassFiles: map[string][]byte{"B.class": []byte("bb"), "A.class": []byte("a")},
	})
	if err != nil {
		t.Fatalf("RenderResponse: %v", err)
	}

	var view CompileView
	if err := json.Unmarshal(buf.Bytes(), &view); err != nil {
		t.Fatalf("output is not a CompileView: %v\n%s", err, buf.String())
	}
	if view.JobID != "job-1" || view.Status != "ok" {
		t.Errorf("view = %+v", view)
	}
	if len(view.Artifacts) != 2 || view.Artifacts[0].Name != "A.class" || view.Artifacts[1].Size != 2 {
		t.Errorf("Artifacts = %+v", view.Artifacts)
	}
}

func TestRenderResponse_ExecuteTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	err := r.RenderResponse(&types.ExecuteResult{
		Stdout:      "hello from main\n",
		Stderr:      "",
		ExitCode:    3,
		StartNs:     1_000_000_000,
		EndNs:       1_250_000_000,
		MaxMemoryKB: 2048,
	})
	if err != nil {
		t.Fatalf("RenderResponse: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"exit code 3", "max_memory_kb:", "2048", "250ms", "stdout", "hello from main"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "stderr") {
		t.Errorf("empty stderr should not be printed:\n%s", got)
	}
}

func TestRenderResponse_ErrorTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.RenderResponse(&types.ErrorResponse{JobID: "j9", Message: "Main.java:1: error"}); err != nil {
		t.Fatalf("RenderResponse: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "job j9 failed") || !strings.Contains(got, "Main.java:1: error") {
		t.Errorf("unexpected output:\n%s", got)
	}
}

func TestRenderResponse_HealthYAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, true, &buf)

	err := r.RenderResponse(&types.HealthResult{FileHashes: map[string]string{"/b": "2", "/a": "1"}})
	if err != nil {
		t.Fatalf("RenderResponse: %v", err)
	}
	got := buf.String()
	if strings.Index(got, "/a") > strings.Index(got, "/b") {
		t.Errorf("health rows not sorted:\n%s", got)
	}
}

func TestView_Unknown(t *testing.T) {
	if _, err := View(nil); err == nil {
		t.Error("expected error for nil response")
	}
}
