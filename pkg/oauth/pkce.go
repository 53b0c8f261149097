package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	// 32 bytes encodes to 43 base64url characters.
	stateBytes = 32
)

// PKCEChallenge holds a code verifier and its derived challenge.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and S256 challenge.
// The verifier is 32 random bytes, base64url-encoded without padding.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       S256Challenge(verifier),
		CodeChallengeMethod: "S256",
	}, nil
}

// S256Challenge returns base64url(SHA256(verifier)).
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter for OAuth.
func GenerateState() (string, error) {
	return randomURLString(stateBytes)
}

func randomURLString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
