package security

import (
	"strings"
)

// SanitizeFilename strips path components and control characters from
// an uploaded artifact filename. Artifacts are content-addressed after
// upload, so only the base name and extension survive.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "file"
	}

	if idx := strings.LastIndexAny(filename, "/\\"); idx >= 0 {
		filename = filename[idx+1:]
	}

	filename = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, filename)

	if len(filename) > 255 {
		filename = filename[:255]
	}

	if filename == "" || filename == "." || filename == ".." {
		filename = "file"
	}

	return filename
}
