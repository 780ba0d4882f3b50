package idhash

import (
	"testing"
)

func TestComputeSponsorFingerprint(t *testing.T) {
	tests := []struct {
		name        string
		owner       string
		messageHash string
		wantLen     int // hash length should be 64
	}{
		{
			name:        "basic",
			owner:       "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			messageHash: ComputeMessageHash([]byte{0x80, 1, 0, 1}),
			wantLen:     64,
		},
		{
			name:        "empty message",
			owner:       "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			messageHash: ComputeMessageHash(nil),
			wantLen:     64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSponsorFingerprint(tt.owner, tt.messageHash)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeSponsorFingerprint() length = %d, want %d", len(got), tt.wantLen)
			}

			// Verify determinism: same inputs should produce same output
			got2 := ComputeSponsorFingerprint(tt.owner, tt.messageHash)
			if got != got2 {
				t.Errorf("ComputeSponsorFingerprint() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeSponsorFingerprint_DifferentInputs(t *testing.T) {
	msg := ComputeMessageHash([]byte("message"))

	base := ComputeSponsorFingerprint("ownerA", msg)

	if ComputeSponsorFingerprint("ownerB", msg) == base {
		t.Error("different owners should produce different fingerprints")
	}
	if ComputeSponsorFingerprint("ownerA", ComputeMessageHash([]byte("other"))) == base {
		t.Error("different messages should produce different fingerprints")
	}
	if ComputeIssuedKey("ownerA", msg) == base {
		t.Error("issued keys must not collide with fingerprints")
	}
}

func TestComputeMessageHash_KnownValue(t *testing.T) {
	// SHA256 of the empty input
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := ComputeMessageHash(nil); got != want {
		t.Errorf("ComputeMessageHash(nil) = %s, want %s", got, want)
	}
}
