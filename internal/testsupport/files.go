package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Payload returns size bytes of a repeating pattern. A size <= 0 yields a
// single byte.
func Payload(size int) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	return buf
}

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern.
func WriteFile(t testing.TB, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, Payload(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Backdate sets the modification time of path to age ago.
func Backdate(t testing.TB, path string, age time.Duration) {
	t.Helper()

	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
