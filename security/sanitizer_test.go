package security

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"results.json", "results.json"},
		{"../../../etc/passwd", "passwd"},
		{"foo/bar/report.md", "report.md"},
		{"", "file"},
		{"..", "file"},
		{".", "file"},
		{"\x00data.csv", "data.csv"},
		{"data\x00set.csv", "dataset.csv"},
		{strings.Repeat("a", 300) + ".txt", strings.Repeat("a", 255)},
		{"/etc/passwd", "passwd"},
		{"./notes.txt", "notes.txt"},
		{".hidden", ".hidden"},
	}

	for _, tt := range tests {
		result := SanitizeFilename(tt.input)
		if result != tt.expected {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
		}

		if strings.ContainsAny(result, "/\\") {
			t.Errorf("SanitizeFilename(%q) still contains path separators: %s", tt.input, result)
		}
	}
}
