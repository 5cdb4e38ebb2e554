// Package address converts 20-byte recipient identifier hashes to and from
// the checksummed, prefix-qualified text form carried inside transfer
// payloads, and validates addresses received from peers.
package address

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidHashLength signals the identifier hash is not exactly 20 bytes.
	ErrInvalidHashLength = errors.New("address: identifier hash must be 20 bytes")
	// ErrInvalidCharset signals a character outside the address alphabet.
	ErrInvalidCharset = errors.New("address: invalid character")
	// ErrInvalidChecksum signals the checksum did not verify.
	ErrInvalidChecksum = errors.New("address: invalid checksum")
	// ErrUnsupportedType signals a version byte this codec does not handle.
	ErrUnsupportedType = errors.New("address: unsupported address type")
)

// Type identifies the kind of payload carried by an address version byte.
type Type uint8

// TypeKeyHash is the only supported payload type: a 20-byte hash of a public key.
const TypeKeyHash Type = 0

// HashSize is the identifier hash length this codec supports.
const HashSize = 20

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// charsetRev maps an ASCII byte back to its 5-bit value, or -1.
var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

// hash sizes addressable by the three size bits of the version byte, in bytes.
var declaredSizes = [8]int{20, 24, 28, 32, 40, 48, 56, 64}

// Encode renders a 20-byte identifier hash as a checksummed address under the
// given network prefix.
func Encode(identifierHash []byte, networkPrefix string) (string, error) {
	if len(identifierHash) != HashSize {
		return "", fmt.Errorf("%w: got %d", ErrInvalidHashLength, len(identifierHash))
	}
	// Version byte: four type bits shifted over three size bits. TypeKeyHash
	// with a 20-byte hash packs to zero.
	version := byte(TypeKeyHash) << 3
	return buildAddress(networkPrefix, version, identifierHash), nil
}

// Decode validates the checksum of an address and recovers its type and
// identifier hash. The network prefix must be present before the ':' delimiter.
func Decode(addr string) (Type, []byte, error) {
	prefix, encoded, ok := strings.Cut(addr, ":")
	if !ok || prefix == "" || encoded == "" {
		return 0, nil, fmt.Errorf("%w: missing network prefix delimiter", ErrInvalidCharset)
	}

	values := make([]byte, len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c >= 128 || charsetRev[c] < 0 {
			return 0, nil, fmt.Errorf("%w: %q at position %d", ErrInvalidCharset, rune(c), i)
		}
		values[i] = byte(charsetRev[c])
	}
	if len(values) <= checksumLen {
		return 0, nil, fmt.Errorf("%w: payload too short", ErrInvalidChecksum)
	}

	if polyMod(append(expandPrefix(prefix), values...)) != 0 {
		return 0, nil, ErrInvalidChecksum
	}

	packed, err := convertBits(values[:len(values)-checksumLen], 5, 8, false)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	if len(packed) == 0 {
		return 0, nil, fmt.Errorf("%w: empty payload", ErrUnsupportedType)
	}

	version := packed[0]
	typ := Type(version >> 3)
	size := declaredSizes[version&0x07]
	hash := packed[1:]
	if version&0x80 != 0 || typ != TypeKeyHash || size != HashSize || len(hash) != size {
		return 0, nil, fmt.Errorf("%w: version byte %#02x carries %d bytes", ErrUnsupportedType, version, len(hash))
	}

	return typ, hash, nil
}

// Valid reports whether addr decodes under the given network prefix.
func Valid(addr, networkPrefix string) bool {
	prefix, _, ok := strings.Cut(addr, ":")
	if !ok || prefix != networkPrefix {
		return false
	}
	_, _, err := Decode(addr)
	return err == nil
}

const checksumLen = 8

func buildAddress(prefix string, version byte, hash []byte) string {
	packed := append([]byte{version}, hash...)
	payload, err := convertBits(packed, 8, 5, true)
	if err != nil {
		// 8-to-5 regrouping with padding cannot fail.
		panic(err)
	}

	values := append(expandPrefix(prefix), payload...)
	values = append(values, make([]byte, checksumLen)...)
	mod := polyMod(values)

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	for _, v := range payload {
		b.WriteByte(charset[v])
	}
	for i := 0; i < checksumLen; i++ {
		b.WriteByte(charset[(mod>>uint(5*(checksumLen-1-i)))&0x1f])
	}
	return b.String()
}

// expandPrefix lowers each prefix character to its five low bits and appends
// the zero separator, as required by the checksum input layout.
func expandPrefix(prefix string) []byte {
	out := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]&0x1f)
	}
	return append(out, 0)
}

// polyMod computes the mod-2^40 polynomial residue over 5-bit symbols. A
// correctly checksummed input reduces to zero. The five generator constants
// are fixed by the address format; changing any of them breaks compatibility
// with every wallet that verifies the same text.
func polyMod(values []byte) uint64 {
	c := uint64(1)
	for _, d := range values {
		c0 := c >> 35
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

// convertBits regroups data from fromBits-wide groups into toBits-wide groups.
// With pad set, a final partial group is zero-padded; without it, leftover
// bits must be padding zeros or the input is rejected.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1<<toBits) - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)

	for i, d := range data {
		if uint32(d)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid %d-bit group %d at position %d", fromBits, d, i)
		}
		acc = acc<<fromBits | uint32(d)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, errors.New("non-zero padding in bit groups")
	}

	return out, nil
}
