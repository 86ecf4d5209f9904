package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/satriahrh/persona-chat/domain"
)

// New returns a domain.Hasher backed by SHA-256. Revisions are the first 16
// hex characters of the digest.
func New() domain.Hasher { return sha256Hasher{} }

type sha256Hasher struct{}

func (h sha256Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
