package retrieval

import (
	"strings"
	"unicode"
)

const (
	// MaxNameRunes bounds the sanitized title part of an artifact name.
	MaxNameRunes = 80
	fallbackName = "track"
)

// SanitizeTitle reduces a title to letters, digits, spaces, '-' and '_',
// collapses whitespace runs and truncates to MaxNameRunes.
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	space := false
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
			space = false
		case r == ' ' || unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteRune(' ')
				space = true
			}
		}
	}

	out := []rune(strings.TrimSpace(b.String()))
	if len(out) > MaxNameRunes {
		out = []rune(strings.TrimSpace(string(out[:MaxNameRunes])))
	}
	if len(out) == 0 {
		return fallbackName
	}
	return string(out)
}

// ArtifactBaseName combines the sanitized title with a job-unique token so
// titles that sanitize alike never share a path.
func ArtifactBaseName(title, token string) string {
	return SanitizeTitle(title) + "_" + token
}
