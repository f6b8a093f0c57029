package cleanup

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashDescription returns a 16-byte (32 hex char) prefix of the SHA-256
// digest of desc, used to detect unchanged descriptions across re-ingests
// without storing the raw text twice.
func HashDescription(desc string) string {
	sum := sha256.Sum256([]byte(desc))
	return hex.EncodeToString(sum[:16])
}
