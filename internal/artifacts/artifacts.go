// Package artifacts stores diagnostic artifacts such as failure
// screenshots. Sinks implement scraper.ArtifactSink; callers treat writes
// as best-effort and only log failures.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSSink writes artifacts under a local directory.
type FSSink struct {
	dir string
}

// NewFSSink creates the directory if needed and returns the sink.
func NewFSSink(dir string) (*FSSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FSSink{dir: dir}, nil
}

// Put writes the artifact and returns its filesystem path.
func (s *FSSink) Put(_ context.Context, name string, _ string, data []byte) (string, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	path := filepath.Join(s.dir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// sanitizeName flattens path separators so an artifact name can never
// escape the sink directory.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "/", "_")
	return strings.TrimSpace(name)
}

// NoopSink discards artifacts. Used when diagnostics storage is disabled.
type NoopSink struct{}

// Put discards the artifact.
func (NoopSink) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
