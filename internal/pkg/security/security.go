// Package security provides input validation and log sanitization for text
// that arrives from outside the process.
package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextBytes is the default upper bound for a single input text.
const MaxTextBytes = 64 << 10

// SanitizeForLog sanitizes a string before it is written to a log.
// Line breaks and tabs are escaped, other control characters dropped and
// the result truncated to 200 runes.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

// TextError describes why an input text was rejected.
type TextError struct {
	Reason string
	Size   int
	Max    int
}

func (e *TextError) Error() string {
	if e.Size > 0 && e.Max > 0 {
		return fmt.Sprintf("%s (size: %s, max: %s)", e.Reason, formatSize(e.Size), formatSize(e.Max))
	}
	return e.Reason
}

// ValidateText checks that text is non-blank, valid UTF-8, not binary and
// at most maxSize bytes. maxSize <= 0 selects MaxTextBytes.
func ValidateText(text string, maxSize int) error {
	if maxSize <= 0 {
		maxSize = MaxTextBytes
	}
	if strings.TrimSpace(text) == "" {
		return &TextError{Reason: "text is empty"}
	}
	if len(text) > maxSize {
		return &TextError{
			Reason: "text exceeds maximum size",
			Size:   len(text),
			Max:    maxSize,
		}
	}
	if !utf8.ValidString(text) {
		return &TextError{Reason: "text is not valid UTF-8"}
	}
	if IsBinary(text) {
		return &TextError{Reason: "text looks like binary data"}
	}
	return nil
}

// IsBinary reports whether content appears to be binary rather than text.
func IsBinary(content string) bool {
	if len(content) == 0 {
		return false
	}

	sample := content[:min(len(content), 8192)]

	nullCount := 0
	nonPrintable := 0
	for _, b := range []byte(sample) {
		if b == 0 {
			nullCount++
			if nullCount > 3 {
				return true
			}
		} else if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(len(sample)) > 0.1
}

func formatSize(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return fmt.Sprintf("%.1f%s", float64(bytes)/float64(div), units[exp])
}
