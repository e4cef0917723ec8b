package artifact

import (
	"os"
	"testing"
)

// StubWriteFile replaces the artifact writer for the duration of a test.
func StubWriteFile(t testing.TB, fn func(path string, data []byte, perm os.FileMode) error) {
	t.Helper()
	original := writeFile
	writeFile = fn
	t.Cleanup(func() { writeFile = original })
}
