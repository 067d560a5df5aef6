// Package identity derives skill identifiers and validates submitted
// skill names and code before anything is persisted.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDHexLen is the width of a skill id in hex characters. 16 chars keep
// 64 bits of a SHA-256 digest: collisions are negligible at LAN-scale
// registries, and the width can be raised without changing the format.
const IDHexLen = 16

// MaxNameLen bounds sanitized skill names.
const MaxNameLen = 200

// fallbackName substitutes names that sanitize to nothing usable.
const fallbackName = "skill"

// DeriveID produces a stable skill identifier. The digest covers name,
// author, creation time and a random nonce, so re-creating a skill with
// the same name and author yields a distinct id. The id is never
// recomputed after creation.
func DeriveID(name, author string) string {
	content := fmt.Sprintf("%s:%s:%s:%s",
		name, author, time.Now().UTC().Format(time.RFC3339Nano), uuid.NewString())
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:IDHexLen]
}

// SanitizeName makes a skill name safe for filesystem paths: path and
// shell metacharacters are replaced, control characters are dropped, the
// result is truncated to MaxNameLen runes and falls back to "skill" when
// nothing survives.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if runes := []rune(out); len(runes) > MaxNameLen {
		out = string(runes[:MaxNameLen])
	}
	if out == "" || out == "." {
		return fallbackName
	}
	return out
}

// FileExtension maps a declared language to the extension used for the
// skill's code file in the versioned store.
func FileExtension(language string) string {
	switch strings.ToLower(language) {
	case "javascript", "js":
		return ".js"
	case "shell", "sh", "bash":
		return ".sh"
	case "", "python", "py":
		return ".py"
	default:
		return ".txt"
	}
}
