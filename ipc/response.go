package ipc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/justapithecus/warden/types"
)

// Wire discriminators for compile responses.
const (
	wireTypeOK  = "ok"
	wireTypeErr = "err"
)

type okWire struct {
	Type  string            `json:"$type"`
	JobID string            `json:"jobId"`
	Body  map[string]string `json:"body"`
}

type errWire struct {
	Type  string `json:"$type"`
	JobID string `json:"jobId,omitempty"`
	Body  string `json:"body"`
}

type healthWire struct {
	FileHashes map[string]string `json:"fileHashes"`
}

// Numeric execute fields travel as decimal strings.
type executeWire struct {
	Out         string `json:"out"`
	Err         string `json:"err"`
	ExitCode    string `json:"exitCode"`
	StartNs     string `json:"startNs"`
	EndNs       string `json:"endNs"`
	MaxMemoryKb string `json:"maxMemoryKb"`
}

// EncodeResponse serializes a response payload (without the sentinel).
func EncodeResponse(resp types.Response) ([]byte, error) {
	switch r := resp.(type) {
	case *types.CompileOK:
		body := make(map[string]string, len(r.ClassFiles))
		for name, data := range r.ClassFiles {
			body[name] = base64.StdEncoding.EncodeToString(data)
		}
		return json.Marshal(okWire{Type: wireTypeOK, JobID: r.JobID, Body: body})
	case *types.ErrorResponse:
		return json.Marshal(errWire{Type: wireTypeErr, JobID: r.JobID, Body: r.Message})
	case *types.HealthResult:
		hashes := r.FileHashes
		if hashes == nil {
			hashes = map[string]string{}
		}
		return json.Marshal(healthWire{FileHashes: hashes})
	case *types.ExecuteResult:
		return json.Marshal(executeWire{
			Out:         r.Stdout,
			Err:         r.Stderr,
			ExitCode:    strconv.Itoa(r.ExitCode),
			StartNs:     strconv.FormatInt(r.StartNs, 10),
			EndNs:       strconv.FormatInt(r.EndNs, 10),
			MaxMemoryKb: strconv.FormatInt(r.MaxMemoryKB, 10),
		})
	case nil:
		return nil, types.NewJobError(types.ErrorSerialization, "", "nil response")
	default:
		return nil, types.NewJobError(types.ErrorSerialization, "", fmt.Sprintf("unknown response type %T", resp))
	}
}

// MarshalResponse serializes resp, degrading to a minimal error payload
// when encoding fails. The fallback is built by hand so it cannot fail.
func MarshalResponse(resp types.Response) ([]byte, error) {
	payload, err := EncodeResponse(resp)
	if err == nil {
		return payload, nil
	}
	msg := strconv.Quote("failed serializing response: " + err.Error())
	return []byte(`{"$type":"err","body":` + msg + `}`), err
}

// DecodeResponse parses a response payload. Used by the host-side debug
// client; the shape is inferred the same way the host does it.
func DecodeResponse(payload []byte) (types.Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parse error: payload is not a JSON object")
	}

	if t, ok := raw["$type"]; ok {
		var discriminator string
		if err := json.Unmarshal(t, &discriminator); err != nil {
			return nil, fmt.Errorf("invalid $type: %w", err)
		}
		switch discriminator {
		case wireTypeOK:
			var w okWire
			if err := json.Unmarshal(payload, &w); err != nil {
				return nil, fmt.Errorf("decode ok response: %w", err)
			}
			files := make(map[string][]byte, len(w.Body))
			for name, content := range w.Body {
				data, err := base64.StdEncoding.DecodeString(content)
				if err != nil {
					return nil, fmt.Errorf("decode %q: %w", name, err)
				}
				files[name] = data
			}
			return &types.CompileOK{JobID: w.JobID, ClassFiles: files}, nil
		case wireTypeErr:
			var w errWire
			if err := json.Unmarshal(payload, &w); err != nil {
				return nil, fmt.Errorf("decode err response: %w", err)
			}
			return &types.ErrorResponse{JobID: w.JobID, Message: w.Body}, nil
		default:
			return nil, fmt.Errorf("unknown $type %q", discriminator)
		}
	}

	if _, ok := raw["fileHashes"]; ok {
		var w healthWire
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode health response: %w", err)
		}
		return &types.HealthResult{FileHashes: w.FileHashes}, nil
	}

	if _, ok := raw["exitCode"]; ok {
		var w executeWire
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode execute response: %w", err)
		}
		return parseExecuteWire(w)
	}

	return nil, fmt.Errorf("unrecognized response shape")
}

func parseExecuteWire(w executeWire) (*types.ExecuteResult, error) {
	exitCode, err := strconv.Atoi(w.ExitCode)
	if err != nil {
		return nil, fmt.Errorf("invalid exitCode %q: %w", w.ExitCode, err)
	}
	result := &types.ExecuteResult{Stdout: w.Out, Stderr: w.Err, ExitCode: exitCode}
	for _, f := range []struct {
		name string
		in   string
		out  *int64
	}{
		{"startNs", w.StartNs, &result.StartNs},
		{"endNs", w.EndNs, &result.EndNs},
		{"maxMemoryKb", w.MaxMemoryKb, &result.MaxMemoryKB},
	} {
		v, err := strconv.ParseInt(f.in, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.name, f.in, err)
		}
		*f.out = v
	}
	return result, nil
}
