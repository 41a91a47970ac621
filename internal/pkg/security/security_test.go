package security

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"simple", "great movie", "great movie"},
		{"newline", "line1\nline2", "line1\\nline2"},
		{"carriage return", "line1\rline2", "line1\\rline2"},
		{"tab", "col1\tcol2", "col1\\tcol2"},
		{"control chars", "good\x00\x01\x02film", "goodfilm"},
		{"long string", strings.Repeat("a", 300), strings.Repeat("a", 200) + "..."},
		{"unicode", "très bien 世界", "très bien 世界"},
		{"log injection", "fine\n[2025-10-07 15:45:12.000000] Text: fake", "fine\\n[2025-10-07 15:45:12.000000] Text: fake"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForLog(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeForLogWithLength(t *testing.T) {
	if got := SanitizeForLogWithLength("abcdef", 3); got != "abc..." {
		t.Errorf("got %q, want %q", got, "abc...")
	}
	if got := SanitizeForLogWithLength("abc", 3); got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		maxSize int
		wantErr bool
	}{
		{"valid", "I loved this movie", 1000, false},
		{"valid at limit", strings.Repeat("a", 100), 100, false},
		{"default limit", strings.Repeat("a", 1000), 0, false},
		{"empty", "", 100, true},
		{"blank", "  \t ", 100, true},
		{"exceeds limit", strings.Repeat("a", 101), 100, true},
		{"exceeds default", strings.Repeat("a", MaxTextBytes+1), 0, true},
		{"invalid utf8", "hello\xff\xfeworld", 1000, true},
		{"binary", "a\x00\x00\x00\x00b", 1000, true},
		{"valid unicode", "magnifique 🎬", 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(tt.text, tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateText() error = %v, wantErr %v", err, tt.wantErr)
			}
			var te *TextError
			if err != nil && !errors.As(err, &te) {
				t.Errorf("ValidateText() error type = %T, want *TextError", err)
			}
		})
	}
}

func TestTextError_Size(t *testing.T) {
	err := ValidateText(strings.Repeat("a", 2048), 1024)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "text exceeds maximum size (size: 2.0KB, max: 1.0KB)"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"text", "Hello, World!", false},
		{"multiline", "first line\n\tsecond line\r\n", false},
		{"with nulls", "hello\x00\x00\x00\x00world", true},
		{"png header", string(append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 100)...)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBinary(tt.content); got != tt.want {
				t.Errorf("IsBinary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkSanitizeForLog(b *testing.B) {
	input := strings.Repeat("hello\nworld\t", 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SanitizeForLog(input)
	}
}
