package remedy

import (
	"crypto/sha256"
	"fmt"
)

// Fingerprint is a stable identifier for the object an action converges on.
// Redelivered events produce the same fingerprint, which makes duplicates
// easy to spot in logs and the outcome journal.
// Format: sha256("kind:target")[:16]
func Fingerprint(a Action) string {
	input := fmt.Sprintf("%s:%s", a.Kind(), a.Target())
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash[:8])
}
