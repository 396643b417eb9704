package image

import (
	"strings"
	"unicode"
)

// ShellQuote returns arg as a single POSIX shell word. Words made only of
// safe characters are returned unchanged; anything else is single-quoted.
func ShellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.IndexFunc(arg, needsShellQuote) < 0 {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func needsShellQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("_-./:=@%+,", r):
		return false
	}
	return true
}

// dockerfileQuote double-quotes value for an ENV instruction. The Dockerfile
// parser only understands backslash escapes, and $ would otherwise expand.
func dockerfileQuote(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteByte('"')
	for _, r := range value {
		switch r {
		case '\\', '"', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// hasControl reports characters that would break a Dockerfile line.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
