package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeMessageHash hashes a serialized transaction message.
// Returns hex-encoded hash (64 characters).
func ComputeMessageHash(message []byte) string {
	hash := sha256.Sum256(message)
	return hex.EncodeToString(hash[:])
}

// ComputeSponsorFingerprint computes the idempotency key of a sponsorship.
// Formula: SHA256(owner|message_hash)
// The message includes its recent blockhash; signatures are excluded, so a
// resubmission of the same message maps to the same key.
// Returns hex-encoded hash (64 characters).
func ComputeSponsorFingerprint(owner string, messageHash string) string {
	data := fmt.Sprintf("%s|%s", owner, messageHash)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeIssuedKey computes the key under which an issued message is
// remembered for an owner.
// Formula: SHA256(issued|owner|message_hash)
func ComputeIssuedKey(owner string, messageHash string) string {
	data := fmt.Sprintf("issued|%s|%s", owner, messageHash)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
