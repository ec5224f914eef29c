package auth

import "golang.org/x/crypto/sha3"

// DigestAPIKey returns the SHA3-256 digest of a team API key.
// Keys are stored digested at rest; the digest is deterministic so the
// teams table can keep a unique index on it for credential lookup.
func DigestAPIKey(apiKey string) []byte {
	sum := sha3.Sum256([]byte(apiKey))
	return sum[:]
}
