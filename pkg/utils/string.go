package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLen bounds sanitized names so they stay valid path components
// on every filesystem we care about.
const maxFilenameLen = 255

// Truncate returns a truncated version of s with at most maxLen runes.
// If the string is truncated, "..." is appended to indicate truncation.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// SanitizeFilename reduces raw user input to a string that is safe to use as
// a single path component. It NFKD-normalizes, drops everything outside a
// conservative ASCII allow-list (letters, digits, "-_.() ") and caps the
// length. The result may be empty; callers must treat empty as invalid.
// Deterministic and total: it never fails.
func SanitizeFilename(raw string) string {
	decomposed := norm.NFKD.String(raw)

	var b strings.Builder
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("-_.() ", r):
			b.WriteRune(r)
		}
	}

	cleaned := b.String()

	// A ".." sequence must never survive into a path component, and names
	// starting with a dot would be hidden files. Collapse dot runs and trim.
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", ".")
	}
	cleaned = strings.TrimLeft(cleaned, ".")

	if len(cleaned) > maxFilenameLen {
		cleaned = cleaned[:maxFilenameLen]
	}
	return cleaned
}
