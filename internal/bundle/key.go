package bundle

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// keyBytes is the number of digest bytes kept in a cache key.
const keyBytes = 16

// Key returns the content key for a template name and its source text.
// The name is separated from the source so ("ab", "c") and ("a", "bc") differ.
func Key(templateName, source string) string {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(templateName))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(source))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:keyBytes])
}
