package sanitize

import (
	"strings"
	"testing"
)

func TestStripControlChars(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "connected to edge", "connected to edge"},
		{"color codes", "\x1b[32mconnected\x1b[0m to edge", "connected to edge"},
		{"cursor movement", "\x1b[2K\x1b[1Gpolling...", "polling..."},
		{"osc title bel", "\x1b]0;engine\x07ready", "ready"},
		{"osc title st", "\x1b]0;engine\x1b\\ready", "ready"},
		{"bare escape pair", "a\x1bcb", "ab"},
		{"keeps newline and tab", "line1\n\tline2", "line1\n\tline2"},
		{"drops other control", "a\x00b\x0cc\rd", "abcd"},
		{"unterminated csi at end", "tail\x1b[99", "tail"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripControlChars(tt.input); got != tt.want {
				t.Errorf("StripControlChars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		maxBytes int
		want     string
	}{
		{"ascii short", "hello", 10, "hello"},
		{"ascii exact", "hello", 5, "hello"},
		{"ascii truncate", "hello world", 5, "hello"},
		{"utf8 no split", "héllo", 6, "héllo"},
		{"utf8 mid-char", "héllo", 2, "h"},
		{"emoji no split", "hi🎉x", 4, "hi"},
		{"empty", "", 10, ""},
		{"zero max", "hello", 0, ""},
		{"negative max", "hello", -1, ""},
		{"invalid utf8 prefix", string([]byte{0xff, 'a', 'b'}), 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateUTF8(tt.input, tt.maxBytes)
			if got != tt.want {
				t.Errorf("TruncateUTF8(%q, %d) = %q, want %q", tt.input, tt.maxBytes, got, tt.want)
			}
		})
	}
}

func TestTrimToRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{"trim and keep", "  hello  ", 10, "hello"},
		{"truncate ascii", "hello world", 5, "hello"},
		{"truncate utf8", "żółć", 3, "żół"},
		{"empty after trim", "   ", 10, ""},
		{"zero max", "hello", 0, ""},
		{"negative max", "hello", -1, ""},
		{"long unchanged", strings.Repeat("a", 8), 8, strings.Repeat("a", 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimToRunes(tt.input, tt.maxRunes)
			if got != tt.want {
				t.Errorf("TrimToRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}
