// Package shortid implements the fixed-width base62 identifiers used as the
// stable public key for a spec.
package shortid

import (
	"crypto/rand"
	"crypto/sha1"
	"math/big"
	"strings"
)

// Alphabet is the base62 alphabet, digits first, then upper, then lower case.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Length is the fixed width of every short id.
const Length = 16

var (
	base = big.NewInt(int64(len(Alphabet)))

	// maxValue is 62^16, the exclusive upper bound of the id space.
	maxValue = new(big.Int).Exp(base, big.NewInt(Length), nil)
)

// Generate draws a uniformly random value in [0, 62^16) from a
// cryptographically secure source and encodes it. Collisions are not avoided
// here; the caller checks uniqueness against the store and retries.
func Generate() string {
	n, err := rand.Int(rand.Reader, maxValue)
	if err != nil {
		// crypto/rand failing means the process has no usable entropy source.
		panic("shortid: crypto/rand unavailable: " + err.Error())
	}
	return encode(n)
}

// Derive maps an arbitrary seed string (typically a legacy human-readable
// slug) into the short id space. It is a pure function: the same seed always
// yields the same id, so legacy links keep resolving without a lookup table.
func Derive(seed string) string {
	sum := sha1.Sum([]byte(seed))
	n := new(big.Int).SetBytes(sum[:])
	// Keep the low-order 16 base62 digits of the 160-bit digest.
	n.Mod(n, maxValue)
	return encode(n)
}

// IsValid reports whether s is exactly Length characters drawn from Alphabet.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}

// encode writes n in base62, left-padded with the zero symbol to Length.
// n must already be reduced into [0, 62^16).
func encode(n *big.Int) string {
	digits := make([]byte, 0, Length)
	zero := big.NewInt(0)
	rem := new(big.Int)
	v := new(big.Int).Set(n)
	for v.Cmp(zero) > 0 {
		v.DivMod(v, base, rem)
		digits = append(digits, Alphabet[rem.Int64()])
	}
	for len(digits) < Length {
		digits = append(digits, Alphabet[0])
	}
	// digits are little-endian at this point
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
