package room

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"lowercase hex", "deadbeefdeadbeef", true},
		{"digits", "0123456789012345", true},
		{"short", "short", false},
		{"empty", "", false},
		{"too long", "deadbeefdeadbeef0", false},
		{"uppercase", "DEADBEEFDEADBEEF", false},
		{"non hex", "deadbeefdeadbeeg", false},
		{"traversal", "../../etc/passwd", false},
		{"multibyte", "deadbeefdeadbeé", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Validate(tt.id)
			if tt.ok {
				if err != nil {
					t.Fatalf("expected %q to be valid, got %v", tt.id, err)
				}
				if r.String() != tt.id {
					t.Fatalf("expected %q, got %q", tt.id, r)
				}
				return
			}
			if !errors.Is(err, ErrInvalidRoom) {
				t.Fatalf("expected ErrInvalidRoom for %q, got %v", tt.id, err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	r, err := Validate("deadbeefdeadbeef")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := r.Dir("messages"), filepath.Join("messages", "deadbeefdeadbeef"); got != want {
		t.Fatalf("Dir: expected %q, got %q", want, got)
	}
	if got, want := r.MessagePath("messages", 42), filepath.Join("messages", "deadbeefdeadbeef", "42.json"); got != want {
		t.Fatalf("MessagePath: expected %q, got %q", want, got)
	}
	if got := r.Key("messages"); got != "room:deadbeefdeadbeef:messages" {
		t.Fatalf("Key: got %q", got)
	}
}
