package blockchain

import (
	"encoding/hex"
	"testing"
)

func TestToBytes32(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantSuffix  string
		expectError bool
	}{
		{name: "short value left-padded", in: "0xabcd", wantSuffix: "abcd"},
		{name: "no prefix", in: "ff", wantSuffix: "00ff"},
		{name: "full width", in: "0x" + hexOfLen(64), wantSuffix: hexOfLen(64)},
		{name: "too long", in: "0x" + hexOfLen(66), expectError: true},
		{name: "bad hex", in: "0xzz", expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toBytes32(tt.in)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			s := hex.EncodeToString(got[:])
			if len(s) != 64 {
				t.Fatalf("not 32 bytes: %s", s)
			}
			if s[64-len(tt.wantSuffix):] != tt.wantSuffix {
				t.Fatalf("wrong suffix: got %s want %s", s, tt.wantSuffix)
			}
			for _, c := range s[:64-len(tt.wantSuffix)] {
				if c != '0' {
					t.Fatalf("padding not zero: %s", s)
				}
			}
		})
	}
}

func hexOfLen(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = "123456789abcdef1"[i%16]
	}
	return string(out)
}
