package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a stable identity for a (prompt, image) pair, used to
// memoize guardrail decisions. The image contributes through its own sha256
// so that a request with no image and a request with degenerate image bytes
// never collide: absence hashes an empty string, presence hashes the digest
// of whatever bytes were sent.
func Fingerprint(prompt string, imageBytes []byte) string {
	imageHash := ""
	if imageBytes != nil {
		sum := sha256.Sum256(imageBytes)
		imageHash = hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(prompt + "|" + imageHash))
	return hex.EncodeToString(sum[:])
}
