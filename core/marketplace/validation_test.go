package marketplace

import (
	"testing"

	"github.com/shopspring/decimal"
)

func splits(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestValidateSplits(t *testing.T) {
	tests := []struct {
		name          string
		collaborators int
		splits        []decimal.Decimal
		wantErr       bool
	}{
		{"claimant plus one, sums to 100", 1, splits("60", "40"), false},
		{"claimant plus one, sums to 90", 1, splits("60", "30"), true},
		{"wrong length", 2, splits("60", "40"), true},
		{"solo claimant full share", 0, splits("100"), false},
		{"fractional exact sum", 1, splits("33.34", "66.66"), false},
		{"fractional off by a cent", 1, splits("33.33", "66.66"), true},
		{"negative entry", 1, splits("150", "-50"), true},
		{"empty against collaborators", 1, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSplits(tt.collaborators, tt.splits)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for %v", tt.splits)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestArtifactExtension(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantExt  string
		wantErr  bool
	}{
		{"json allowed", "results.json", "json", false},
		{"csv allowed", "data.csv", "csv", false},
		{"markdown allowed", "REPORT.MD", "md", false},
		{"txt allowed", "notes.txt", "txt", false},
		{"executable rejected", "payload.exe", "", true},
		{"no extension", "README", "", true},
		{"trailing dot", "weird.", "", true},
		{"empty name", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ArtifactExtension(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.filename)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if ext != tt.wantExt {
				t.Errorf("extension = %q, want %q", ext, tt.wantExt)
			}
		})
	}
}
