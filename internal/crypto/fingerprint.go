package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short identifier for a public key, for display
// and logging only.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}
