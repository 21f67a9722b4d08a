package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// rawBytes is the entropy of a raw credential: 256 bits, enough that hash
// collisions stay below the birthday bound for any realistic election size.
const rawBytes = 32

// NewRaw mints a raw voting credential. The value is returned to the voter
// exactly once and must never be stored or logged.
func NewRaw() (string, error) {
	buf := make([]byte, rawBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRaw computes the one-way digest of a raw credential. The hex digest is
// the only representation that ever crosses the identity boundary.
func HashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
