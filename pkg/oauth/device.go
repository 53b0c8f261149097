package oauth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// userCodeAlphabet avoids vowels and look-alike characters (RFC 8628 §6.1).
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

const (
	deviceCodeBytes = 32
	userCodeLength  = 8
)

// GenerateDeviceCode returns a high-entropy device_code.
func GenerateDeviceCode() (string, error) {
	return randomURLString(deviceCodeBytes)
}

// GenerateUserCode returns a short, human-typable code formatted as XXXX-XXXX.
func GenerateUserCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(userCodeAlphabet)))
	for i := 0; i < userCodeLength; i++ {
		if i == userCodeLength/2 {
			sb.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		sb.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeUserCode upper-cases a user-entered code and restores the dash,
// so "bcdf ghjk" and "BCDF-GHJK" compare equal.
func NormalizeUserCode(code string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(code) {
		if strings.ContainsRune(userCodeAlphabet, r) {
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	if len(s) != userCodeLength {
		return s
	}
	return s[:userCodeLength/2] + "-" + s[userCodeLength/2:]
}

// Device grant error codes returned by the token endpoint (RFC 8628 §3.5).
const (
	DeviceErrAuthorizationPending = "authorization_pending"
	DeviceErrSlowDown             = "slow_down"
	DeviceErrAccessDenied         = "access_denied"
	DeviceErrExpiredToken         = "expired_token"
	DeviceErrInvalidGrant         = "invalid_grant"
)
