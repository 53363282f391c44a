package ipc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/warden/types"
)

// Logical request fields. Each maps to the spellings observed from
// different host versions, in lookup priority order.
const (
	fieldType         = "type"
	fieldJobID        = "jobId"
	fieldSourceFiles  = "clientSrc"
	fieldFilesToCheck = "filesToCheck"
	fieldEntrypoint   = "entrypoint"
	fieldClassFiles   = "classFiles"
)

var fieldAliases = map[string][]string{
	fieldType:         {"$type", "type"},
	fieldJobID:        {"jobId", "JobId", "job_id", "JobID"},
	fieldSourceFiles:  {"clientSrc", "ClientSrc", "SrcFiles", "srcFiles", "client_src", "src_files"},
	fieldFilesToCheck: {"filesToCheck", "FilesToCheck", "files_to_check"},
	fieldEntrypoint:   {"Entrypoint", "entrypoint", "EntryPoint", "entry_point"},
	fieldClassFiles:   {"ClientSrc", "clientSrc", "client_src", "classFiles", "ClassFiles", "class_files"},
}

// DefaultMaxFiles bounds the number of files in a single request.
const DefaultMaxFiles = 256

// RequestDecoder turns a frame payload into a typed request.
type RequestDecoder struct {
	// MaxFiles bounds source/class/health file counts. Zero means DefaultMaxFiles.
	MaxFiles int
}

// DecodeRequest decodes payload with default limits.
func DecodeRequest(payload []byte) (types.Request, error) {
	return (&RequestDecoder{}).Decode(payload)
}

// fieldSet is a decoded JSON object with alias-aware lookup.
type fieldSet struct {
	raw  map[string]json.RawMessage
	keys []string
}

func newFieldSet(raw map[string]json.RawMessage) *fieldSet {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &fieldSet{raw: raw, keys: keys}
}

// lookup returns the value for a logical field. Exact alias matches win;
// otherwise the first key equal to an alias under case folding is used.
// JSON null counts as absent.
func (f *fieldSet) lookup(field string) (json.RawMessage, bool) {
	aliases := fieldAliases[field]
	for _, alias := range aliases {
		if v, ok := f.raw[alias]; ok && !isNull(v) {
			return v, true
		}
	}
	for _, alias := range aliases {
		for _, k := range f.keys {
			if strings.EqualFold(k, alias) && !isNull(f.raw[k]) {
				return f.raw[k], true
			}
		}
	}
	return nil, false
}

func (f *fieldSet) has(field string) bool {
	_, ok := f.lookup(field)
	return ok
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

// Decode parses payload, classifies it and validates required fields.
//
// Classification order: an explicit health discriminator; an explicit
// compile or execute discriminator; a job id (compile); an entrypoint
// (execute); otherwise compile, whose validation then reports the missing
// job id.
//
// All failures are *types.JobError with Kind ErrorDecode or ErrorValidation.
func (d *RequestDecoder) Decode(payload []byte) (types.Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, types.NewJobError(types.ErrorDecode, "", fmt.Sprintf("parse error: %v", err))
	}
	if raw == nil {
		return nil, types.NewJobError(types.ErrorDecode, "", "parse error: payload is not a JSON object")
	}
	fields := newFieldSet(raw)

	switch classify(fields) {
	case types.RequestHealth:
		return d.decodeHealth(fields)
	case types.RequestExecute:
		return d.decodeExecute(fields)
	default:
		return d.decodeCompile(fields)
	}
}

func classify(fields *fieldSet) types.RequestKind {
	if v, ok := fields.lookup(fieldType); ok {
		var discriminator string
		if err := json.Unmarshal(v, &discriminator); err == nil {
			switch types.RequestKind(strings.ToLower(discriminator)) {
			case types.RequestHealth:
				return types.RequestHealth
			case types.RequestCompile:
				return types.RequestCompile
			case types.RequestExecute:
				return types.RequestExecute
			}
		}
	}
	if fields.has(fieldJobID) {
		return types.RequestCompile
	}
	if fields.has(fieldEntrypoint) {
		return types.RequestExecute
	}
	return types.RequestCompile
}

func (d *RequestDecoder) maxFiles() int {
	if d.MaxFiles > 0 {
		return d.MaxFiles
	}
	return DefaultMaxFiles
}

func (d *RequestDecoder) decodeHealth(fields *fieldSet) (types.Request, error) {
	v, ok := fields.lookup(fieldFilesToCheck)
	if !ok {
		return nil, missing("", fieldFilesToCheck)
	}
	var files []string
	if err := json.Unmarshal(v, &files); err != nil {
		return nil, types.NewJobError(types.ErrorValidation, "", fmt.Sprintf("invalid %s: %v", fieldFilesToCheck, err))
	}
	if len(files) > d.maxFiles() {
		return nil, tooMany("", fieldFilesToCheck, len(files), d.maxFiles())
	}
	return &types.HealthRequest{FilesToCheck: files}, nil
}

func (d *RequestDecoder) decodeCompile(fields *fieldSet) (types.Request, error) {
	var jobID string
	if v, ok := fields.lookup(fieldJobID); ok {
		if err := json.Unmarshal(v, &jobID); err != nil {
			return nil, types.NewJobError(types.ErrorValidation, "", fmt.Sprintf("invalid %s: expected string", fieldJobID))
		}
	}
	if jobID == "" {
		return nil, missing("", fieldJobID)
	}

	sources, err := d.decodeFileMap(fields, fieldSourceFiles, jobID)
	if err != nil {
		return nil, err
	}
	return &types.CompileRequest{JobID: jobID, SourceFiles: sources}, nil
}

func (d *RequestDecoder) decodeExecute(fields *fieldSet) (types.Request, error) {
	var entrypoint string
	if v, ok := fields.lookup(fieldEntrypoint); ok {
		if err := json.Unmarshal(v, &entrypoint); err != nil {
			return nil, types.NewJobError(types.ErrorValidation, "", fmt.Sprintf("invalid %s: expected string", fieldEntrypoint))
		}
	}
	if entrypoint == "" {
		return nil, missing("", fieldEntrypoint)
	}

	classes, err := d.decodeFileMap(fields, fieldClassFiles, "")
	if err != nil {
		return nil, err
	}
	return &types.ExecuteRequest{Entrypoint: entrypoint, ClassFiles: classes}, nil
}

// decodeFileMap reads a name -> base64 object. An absent or empty map is a
// missing field.
func (d *RequestDecoder) decodeFileMap(fields *fieldSet, field, jobID string) (map[string][]byte, error) {
	v, ok := fields.lookup(field)
	if !ok {
		return nil, missing(jobID, field)
	}
	var encoded map[string]string
	if err := json.Unmarshal(v, &encoded); err != nil {
		return nil, types.NewJobError(types.ErrorValidation, jobID, fmt.Sprintf("invalid %s: %v", field, err))
	}
	if len(encoded) == 0 {
		return nil, missing(jobID, field)
	}
	if len(encoded) > d.maxFiles() {
		return nil, tooMany(jobID, field, len(encoded), d.maxFiles())
	}

	decoded := make(map[string][]byte, len(encoded))
	for name, content := range encoded {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, types.WrapJobError(types.ErrorValidation, jobID, fmt.Sprintf("invalid base64 content for %q", name), err)
		}
		decoded[name] = data
	}
	return decoded, nil
}

func missing(jobID, field string) *types.JobError {
	return types.NewJobError(types.ErrorValidation, jobID, "missing "+field)
}

func tooMany(jobID, field string, n, limit int) *types.JobError {
	return types.NewJobError(types.ErrorValidation, jobID, fmt.Sprintf("too many entries in %s: %d exceeds maximum %d", field, n, limit))
}

// EncodeRequest renders a request in the canonical camelCase spelling.
// Used by the host-side debug client and tests.
func EncodeRequest(req types.Request) ([]byte, error) {
	switch r := req.(type) {
	case *types.HealthRequest:
		return json.Marshal(struct {
			Type         string   `json:"$type"`
			FilesToCheck []string `json:"filesToCheck"`
		}{Type: string(types.RequestHealth), FilesToCheck: r.FilesToCheck})
	case *types.CompileRequest:
		return json.Marshal(struct {
			JobID     string            `json:"jobId"`
			ClientSrc map[string]string `json:"clientSrc"`
		}{JobID: r.JobID, ClientSrc: encodeFileMap(r.SourceFiles)})
	case *types.ExecuteRequest:
		return json.Marshal(struct {
			Entrypoint string            `json:"Entrypoint"`
			ClientSrc  map[string]string `json:"ClientSrc"`
		}{Entrypoint: r.Entrypoint, ClientSrc: encodeFileMap(r.ClassFiles)})
	default:
		return nil, fmt.Errorf("unknown request type %T", req)
	}
}

func encodeFileMap(files map[string][]byte) map[string]string {
	encoded := make(map[string]string, len(files))
	for name, data := range files {
		encoded[name] = base64.StdEncoding.EncodeToString(data)
	}
	return encoded
}
