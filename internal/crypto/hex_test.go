package crypto

import (
	"strings"
	"testing"
)

func TestValidHex(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		min   int
		exact int
		want  bool
	}{
		{"empty", "", 0, 0, false},
		{"odd length", "abc", 0, 0, false},
		{"not hex", "zz", 0, 0, false},
		{"short", "aabb", 4, 0, false},
		{"min ok", "aabbccdd", 4, 0, true},
		{"exact ok", strings.Repeat("ab", 12), 12, 12, true},
		{"exact wrong", strings.Repeat("ab", 13), 12, 12, false},
		{"uppercase", "AABB", 2, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidHex(tt.s, tt.min, tt.exact); got != tt.want {
				t.Fatalf("ValidHex(%q, %d, %d) = %v, want %v", tt.s, tt.min, tt.exact, got, tt.want)
			}
		})
	}
}

func TestValidIVAndCiphertext(t *testing.T) {
	if !ValidIV(strings.Repeat("0f", GCMIVBytes)) {
		t.Fatal("expected 12-byte IV to be valid")
	}
	if ValidIV(strings.Repeat("0f", 16)) {
		t.Fatal("expected 16-byte IV to be invalid")
	}
	if !ValidCiphertext(strings.Repeat("0f", GCMTagBytes+5)) {
		t.Fatal("expected ciphertext with tag to be valid")
	}
	if ValidCiphertext(strings.Repeat("0f", GCMTagBytes-1)) {
		t.Fatal("expected ciphertext shorter than a tag to be invalid")
	}
}

func TestIDsUnique(t *testing.T) {
	if NewULID() == NewULID() {
		t.Fatal("expected distinct ULIDs")
	}
	if NewUUIDv7() == NewUUIDv7() {
		t.Fatal("expected distinct UUIDs")
	}
}
