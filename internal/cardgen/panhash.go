package cardgen

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashPAN computes a hex HMAC-SHA256 over a normalized PAN using a secret key.
// The hash backs the uniqueness index; it is not reversible without the key.
func HashPAN(pan string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(NormalizePAN(pan)))
	return hex.EncodeToString(h.Sum(nil))
}
