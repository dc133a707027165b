package dict

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"github.com/dchest/siphash"
	"github.com/pingcap/errors"
)

// Seed is the 128-bit SipHash key of a hash function. Tables that must not
// be attackable through chosen keys should use a random seed.
type Seed [16]byte

// NewSeed draws a seed from the system random source.
func NewSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return s, errors.Trace(err)
	}
	return s, nil
}

// ParseSeed decodes a 32 character hex seed.
func ParseSeed(text string) (Seed, error) {
	var s Seed
	b, err := hex.DecodeString(text)
	if err != nil {
		return s, errors.Annotatef(err, "invalid hash seed %q", text)
	}
	if len(b) != len(s) {
		return s, errors.Errorf("hash seed must be %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

func (s Seed) String() string {
	return hex.EncodeToString(s[:])
}

func (s Seed) keys() (uint64, uint64) {
	return binary.LittleEndian.Uint64(s[:8]), binary.LittleEndian.Uint64(s[8:])
}

// HashFunction returns SipHash-2-4 keyed with s.
func (s Seed) HashFunction() func(key string) uint64 {
	k0, k1 := s.keys()
	return func(key string) uint64 {
		return siphash.Hash(k0, k1, []byte(key))
	}
}

// CaseHashFunction returns a hash that ignores ASCII case.
func (s Seed) CaseHashFunction() func(key string) uint64 {
	k0, k1 := s.keys()
	return func(key string) uint64 {
		b := []byte(key)
		for i, c := range b {
			if 'A' <= c && c <= 'Z' {
				b[i] = c + 'a' - 'A'
			}
		}
		return siphash.Hash(k0, k1, b)
	}
}

// StringType is the type of tables keyed by binary-safe strings.
func StringType(seed Seed) *Type[string] {
	return &Type[string]{Hash: seed.HashFunction()}
}

// CaseStringType is the type of tables whose keys compare without regard to
// ASCII case, such as command tables.
func CaseStringType(seed Seed) *Type[string] {
	return &Type[string]{
		Hash:       seed.CaseHashFunction(),
		KeyCompare: equalFoldASCII,
	}
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
