package address

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// HashKey reduces a serialized public key to the 20-byte identifier hash that
// Encode accepts: SHA-256 followed by RIPEMD-160.
func HashKey(publicKey []byte) []byte {
	sum := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}
