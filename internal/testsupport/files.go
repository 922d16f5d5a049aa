package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and its parents) holding size filler bytes, at
// least one.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := writePattern(path, size); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writePattern stands in for a gphoto2 download in fake runners.
func writePattern(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, bytes.Repeat([]byte{'B'}, int(max(size, 1))), 0o644)
}
