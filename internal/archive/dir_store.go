package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	filePermissions        = 0o600
	dirPermissions         = 0o750
	invalidCharReplacement = "_"
)

// ErrOutputDirEmpty is returned when a DirStore has no directory.
var ErrOutputDirEmpty = errors.New("output directory cannot be empty")

// DirStore keeps artifacts as files in a local directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, ErrOutputDirEmpty
	}

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &DirStore{dir: dir}, nil
}

// Upload writes data to dir/key.
func (s *DirStore) Upload(_ context.Context, key string, data []byte) error {
	err := os.WriteFile(s.Path(key), data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	return nil
}

// Download reads dir/key.
func (s *DirStore) Download(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	return data, nil
}

// Path is the file an object key maps to.
func (s *DirStore) Path(key string) string {
	return filepath.Join(s.dir, SanitizeFilename(key))
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
