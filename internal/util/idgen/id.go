package idgen

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"
)

// Lowercase base32 without the easily confused letters, sorted so that the
// timestamp prefix keeps IDs ordered lexicographically by creation time.
const idAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

func init() {
	if len(idAlphabet) != 32 {
		panic("must not happen")
	}
	for i := 1; i < len(idAlphabet); i++ {
		if idAlphabet[i-1] >= idAlphabet[i] {
			panic("must not happen")
		}
	}
}

// ID generates a ULID-style identifier: 48 bits of millisecond timestamp
// followed by 80 random bits, all in the alphabet above. Not monotonic.
func ID() string {
	var b strings.Builder
	ts := uint64(time.Now().UnixMilli()) & ((1 << 48) - 1)
	for i := 45; i >= 0; i -= 5 {
		_ = b.WriteByte(idAlphabet[(ts>>i)&31])
	}
	for range 2 {
		r := rand.Uint64()
		for range 8 {
			_ = b.WriteByte(idAlphabet[r&31])
			r >>= 5
		}
	}
	return b.String()
}

// SecureToken generates a bearer token from a cryptographic source. 26 chars
// of base32 give 130 bits of entropy.
func SecureToken() (string, error) {
	var b strings.Builder
	bigLen := big.NewInt(int64(len(idAlphabet)))
	for range 26 {
		idx, err := crand.Int(crand.Reader, bigLen)
		if err != nil {
			return "", fmt.Errorf("crypto rand: %w", err)
		}
		_ = b.WriteByte(idAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
