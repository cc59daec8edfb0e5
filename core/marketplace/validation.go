package marketplace

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Artifact constraints for work submissions.
const MaxArtifactBytes = 10 * 1024 * 1024

var allowedArtifactExtensions = map[string]bool{
	"json": true,
	"csv":  true,
	"md":   true,
	"txt":  true,
}

// ArtifactExtension extracts and validates the file extension of a
// submission artifact.
func ArtifactExtension(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("artifact filename is required")
	}
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return "", fmt.Errorf("file type not allowed: %q has no extension", name)
	}
	ext := strings.ToLower(name[idx+1:])
	if !allowedArtifactExtensions[ext] {
		return "", fmt.Errorf("file type %q not allowed, allowed types: json, csv, md, txt", ext)
	}
	return ext, nil
}

var splitTotal = decimal.NewFromInt(100)

/// ValidateSplits checks a claim's payment splits: one entry per
// collaborator plus the claimant, summing to exactly 100. Sum equality
// is exact decimal equality, not approximate.
func ValidateSplits(collaboratorCount int, splits []decimal.Decimal) error {
	if len(splits) != collaboratorCount+1 {
		return fmt.Errorf("splits must include claimant and all collaborators: want %d entries, got %d",
			collaboratorCount+1, len(splits))
	}
	sum := decimal.Zero
	for _, s := range splits {
		if s.IsNegative() {
			return fmt.Errorf("split %s is negative", s)
		}
		sum = sum.Add(s)
	}
	if !sum.Equal(splitTotal) {
		return fmt.Errorf("splits must sum to 100, got %s", sum)
	}
	return nil
}
