package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	idBytes    = 16
	tokenBytes = 32
)

var extensions = map[string]string{
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"image/gif":  ".gif",
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// extensionFor maps a MIME type to the file extension used on disk.
func extensionFor(mimeType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// dispositionName folds name to a printable ASCII filename safe to place in
// a quoted Content-Disposition parameter. Falls back to fallback when nothing
// usable remains.
func dispositionName(name, fallback string) string {
	folded, _, err := transform.String(asciiFold, filepath.Base(strings.TrimSpace(name)))
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '"' || r == '\\' || r == '/':
			b.WriteRune('_')
		case r < 0x20 || r > 0x7e:
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return fallback
	}
	return out
}
