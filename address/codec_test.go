package address

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

const testPrefix = "driftpay"

func randomHash(rng *rand.Rand) []byte {
	h := make([]byte, HashSize)
	rng.Read(h)
	return h
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		hash := randomHash(rng)

		addr, err := Encode(hash, testPrefix)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if !strings.HasPrefix(addr, testPrefix+":") {
			t.Fatalf("expected prefix %q in %q", testPrefix, addr)
		}

		typ, decoded, err := Decode(addr)
		if err != nil {
			t.Fatalf("decode %q: %v", addr, err)
		}
		if typ != TypeKeyHash {
			t.Fatalf("expected key-hash type, got %d", typ)
		}
		if !bytes.Equal(decoded, hash) {
			t.Fatalf("round trip mismatch: put %x, got %x", hash, decoded)
		}
	}
}

func TestEncode_RejectsWrongHashLength(t *testing.T) {
	for _, n := range []int{0, 19, 21, 32} {
		if _, err := Encode(make([]byte, n), testPrefix); !errors.Is(err, ErrInvalidHashLength) {
			t.Errorf("length %d: expected ErrInvalidHashLength, got %v", n, err)
		}
	}
}

func TestDecode_ChecksumSensitivity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		addr, err := Encode(randomHash(rng), testPrefix)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		// Flip every character of the encoded part in turn; each single
		// substitution must be caught.
		start := len(testPrefix) + 1
		for pos := start; pos < len(addr); pos++ {
			orig := addr[pos]
			repl := charset[(charsetRev[orig]+1)%32]
			mutated := addr[:pos] + string(repl) + addr[pos+1:]

			if _, _, err := Decode(mutated); !errors.Is(err, ErrInvalidChecksum) {
				t.Fatalf("flip at %d of %q: expected ErrInvalidChecksum, got %v", pos, addr, err)
			}
		}
	}
}

func TestDecode_RejectsUnknownCharacters(t *testing.T) {
	addr, err := Encode(make([]byte, HashSize), testPrefix)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := map[string]string{
		"uppercase":    testPrefix + ":" + strings.ToUpper(addr[len(testPrefix)+1:]),
		"excluded b":   testPrefix + ":b" + addr[len(testPrefix)+2:],
		"excluded 1":   testPrefix + ":1" + addr[len(testPrefix)+2:],
		"no delimiter": strings.ReplaceAll(addr, ":", ""),
	}
	for name, bad := range cases {
		if _, _, err := Decode(bad); !errors.Is(err, ErrInvalidCharset) {
			t.Errorf("%s: expected ErrInvalidCharset, got %v", name, err)
		}
	}
}

func TestDecode_RejectsUnsupportedVersionByte(t *testing.T) {
	hash := make([]byte, HashSize)

	// Declared 24-byte size (size bits 001) with a correctly recomputed
	// checksum: the checksum verifies but the version byte must be refused.
	addr := buildAddress(testPrefix, 0x01, hash)
	if _, _, err := Decode(addr); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("wrong size bits: expected ErrUnsupportedType, got %v", err)
	}

	// Unknown type bits.
	addr = buildAddress(testPrefix, 0x08, hash)
	if _, _, err := Decode(addr); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("wrong type bits: expected ErrUnsupportedType, got %v", err)
	}
}

func TestValid(t *testing.T) {
	addr, err := Encode(make([]byte, HashSize), testPrefix)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if !Valid(addr, testPrefix) {
		t.Errorf("expected %q to validate under %q", addr, testPrefix)
	}
	if Valid(addr, "othernet") {
		t.Errorf("expected foreign prefix to be rejected")
	}
	if Valid("not-an-address", testPrefix) {
		t.Errorf("expected junk to be rejected")
	}
}

func TestHashKey_Size(t *testing.T) {
	h := HashKey([]byte{0x02, 0x01, 0x02, 0x03})
	if len(h) != HashSize {
		t.Fatalf("expected %d-byte hash, got %d", HashSize, len(h))
	}

	addr, err := Encode(h, testPrefix)
	if err != nil {
		t.Fatalf("encode hashed key: %v", err)
	}
	if _, _, err := Decode(addr); err != nil {
		t.Fatalf("decode hashed key address: %v", err)
	}
}
