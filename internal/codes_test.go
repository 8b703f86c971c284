package internal

import (
	"regexp"
	"testing"
)

func TestNewRoomCodeShape(t *testing.T) {
	shape := regexp.MustCompile(`^[A-Z0-9]{7}$`)
	for i := 0; i < 100; i++ {
		code := newRoomCode()
		if !shape.MatchString(code) {
			t.Fatalf("code %q does not match expected shape", code)
		}
		if !isValidRoomCode(code) {
			t.Fatalf("generated code %q failed validation", code)
		}
	}
}

func TestNewRoomCodeSpread(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		seen[newRoomCode()] = true
	}
	// 36^7 is large enough that 10k draws colliding down to this few would
	// indicate a broken generator, not bad luck
	if len(seen) < 9990 {
		t.Fatalf("expected near-unique codes, got %d distinct out of 10000", len(seen))
	}
}

func TestIsValidRoomCode(t *testing.T) {
	valid := []string{"ABCDEFG", "A1B2C3D", "0000000", "ZZZZZZZ"}
	for _, code := range valid {
		if !isValidRoomCode(code) {
			t.Fatalf("expected %q to be valid", code)
		}
	}
	invalid := []string{"", "ABC", "ABCDEFGH", "abcdefg", "ABC-123", "ABCDEF ", "ÅBCDEFG"}
	for _, code := range invalid {
		if isValidRoomCode(code) {
			t.Fatalf("expected %q to be invalid", code)
		}
	}
}
