package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// hashLength is the number of hex characters kept from the digest. At 12
// chars the collision probability stays negligible for realistic dataset
// sizes (N^2 / 2^48).
const hashLength = 12

// hashText returns the hex sha256 of salt+text.
func hashText(salt, text string) string {
	sum := sha256.Sum256([]byte(salt + text))
	return hex.EncodeToString(sum[:])
}

// HashRegistry is the salted-hash alternative to Registry: tokens are
// CLASS_<12 hex chars> derived from the value itself, so the same value maps
// to the same token across independent runs that share a salt. Without a salt
// common values ("Acme Corp") would produce globally recognizable tokens, so
// callers should always supply one.
type HashRegistry struct {
	salt string

	mu     sync.RWMutex
	tokens map[string]string // class|normalized value → token
}

func NewHashRegistry(salt string) *HashRegistry {
	return &HashRegistry{
		salt:   salt,
		tokens: make(map[string]string),
	}
}

// GetOrCreate implements TokenSource.
func (r *HashRegistry) GetOrCreate(class Class, original string) string {
	norm := normalize(original)
	if norm == "" {
		return string(class) + "_UNKNOWN"
	}

	key := string(class) + "|" + norm
	r.mu.RLock()
	if tok, ok := r.tokens[key]; ok {
		r.mu.RUnlock()
		return tok
	}
	r.mu.RUnlock()

	tok := string(class) + "_" + hashText(r.salt, string(class)+norm)[:hashLength]

	r.mu.Lock()
	r.tokens[key] = tok
	r.mu.Unlock()
	return tok
}
