package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const maxFileNameBytes = 180

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName returns a single path segment safe to use as a storage
// name. Input is NFC-normalized, path separators become dashes, control
// characters are dropped and leading dots are removed so the result can never
// name a hidden file or escape its namespace. Returns "" when nothing usable
// remains.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return ""
	}
	name = fileNameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	name = strings.TrimSpace(name)
	if name == "" || name == "-" {
		return ""
	}
	return truncateName(name, maxFileNameBytes)
}

// SplitName returns the stem and lowercased extension (with dot) of name.
func SplitName(name string) (string, string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		return ext, ""
	}
	return stem, strings.ToLower(ext)
}

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Returns "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

var titleCaser = cases.Title(language.English)

// Label turns a machine token such as "smart-trim" into "Smart Trim".
func Label(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	token = strings.NewReplacer("-", " ", "_", " ").Replace(token)
	return titleCaser.String(token)
}

// truncateName shortens name to at most limit bytes, keeping the extension
// and never splitting a rune.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	stem, ext := SplitName(name)
	if len(ext) >= limit {
		ext = ""
	}
	budget := limit - len(ext)
	cut := 0
	for i := range stem {
		if i > budget {
			break
		}
		cut = i
	}
	if len(stem) <= budget {
		cut = len(stem)
	}
	return strings.TrimSpace(stem[:cut]) + ext
}
