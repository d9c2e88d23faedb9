// Package uuid provides unit tests for identifier generation and validation.
package uuid

import (
	"regexp"
	"testing"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Errorf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewNonce tests nonce format and uniqueness.
func TestNewNonce(t *testing.T) {
	hexRegex := regexp.MustCompile(`^[0-9a-f]{64}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n, err := NewNonce()
		if err != nil {
			t.Fatalf("NewNonce() error = %v", err)
		}
		if !hexRegex.MatchString(n) {
			t.Fatalf("nonce %q is not 64 hex chars", n)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %s", n)
		}
		seen[n] = true
	}
}

// TestValidate tests Validate() and IsValid() together.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		uuid    string
		wantErr bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"uppercase", "6BA7B810-9DAD-41D1-80B4-00C04FD430C8", false},
		{"v1 instead of v4", "f47ac10b-58cc-1372-a567-0e02b2c3d479", true},
		{"invalid variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", true},
		{"missing dashes", "f47ac10b58cc4372a5670e02b2c3d479", true},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.uuid)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.uuid, err, tt.wantErr)
			}
			if IsValid(tt.uuid) == tt.wantErr {
				t.Errorf("IsValid(%q) disagrees with Validate", tt.uuid)
			}
		})
	}
}
