// Package txid derives the canonical network identifier of a signed
// transaction payload. The same bytes always reduce to the same identifier,
// which makes it usable as a dedup key before the network has confirmed
// anything.
package txid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Compute double-hashes the raw signed payload with SHA-256 and renders the
// digest byte-reversed in hex, matching the identifier the network assigns on
// acceptance.
func Compute(raw []byte) string {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	for i, j := 0, len(second)-1; i < j; i, j = i+1, j-1 {
		second[i], second[j] = second[j], second[i]
	}
	return hex.EncodeToString(second[:])
}

// ComputeHex decodes a hex-encoded payload and computes its identifier.
func ComputeHex(rawHex string) (string, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("txid: decode payload hex: %w", err)
	}
	return Compute(raw), nil
}
