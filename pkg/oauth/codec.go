package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// tokenEntropyBytes is the amount of randomness in generated tokens and codes.
// 256 bits makes collisions negligible; no uniqueness check is performed.
const tokenEntropyBytes = 32

// GenerateToken returns a cryptographically random opaque token,
// base64url-encoded without padding. It is used for authorization codes,
// access tokens, and refresh tokens alike.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallengeS256 derives the S256 code challenge for a PKCE verifier
// per RFC 7636 section 4.2: BASE64URL(SHA256(ASCII(verifier))), no padding.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE recomputes the S256 challenge for the presented verifier and
// compares it against the registered challenge. It fails closed: an empty
// verifier or challenge never verifies. The comparison is constant-time so
// the challenge value cannot be probed byte by byte.
func VerifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed := CodeChallengeS256(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
