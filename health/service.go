// Package health digests files inside the sandbox image so the host can
// verify the image it booted matches the one it expects.
package health

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/warden/types"
)

// HashFile streams the file at path through SHA-256 and returns the
// lowercase hex digest.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Service answers health requests.
type Service struct{}

// NewService creates a health service.
func NewService() *Service {
	return &Service{}
}

// Check digests every file in req. The first file that cannot be read
// aborts the check; no partial map is returned.
func (s *Service) Check(ctx context.Context, req *types.HealthRequest) (*types.HealthResult, error) {
	hashes := make(map[string]string, len(req.FilesToCheck))
	for _, path := range req.FilesToCheck {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, err := HashFile(path)
		if err != nil {
			return nil, types.WrapJobError(types.ErrorArtifactIO, "", "health check failed", err)
		}
		hashes[path] = digest
	}
	return &types.HealthResult{FileHashes: hashes}, nil
}
