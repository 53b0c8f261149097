package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/mcp-oauth/security"
)

// sealedPrefix marks values written through an encryptor so plain values
// written before encryption was enabled can still be read.
const sealedPrefix = "enc:v1:"

// ErrSealed is returned when a sealed value is read without a key.
var ErrSealed = errors.New("storage: value is encrypted but no encryption key is configured")

// Sealer encrypts secure-namespace values with AES-256-GCM.
type Sealer struct {
	enc *security.Encryptor
}

// NewSealer builds a sealer from a base64-encoded 32-byte key. An empty key
// returns nil, which disables sealing.
func NewSealer(encodedKey string) (*Sealer, error) {
	if encodedKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	return &Sealer{enc: enc}, nil
}

func (s *Sealer) seal(value []byte) ([]byte, error) {
	if s == nil {
		return copyBytes(value), nil
	}
	// Encryptor works on strings; base64 keeps arbitrary bytes intact.
	ct, err := s.enc.Encrypt(base64.StdEncoding.EncodeToString(value))
	if err != nil {
		return nil, err
	}
	return []byte(sealedPrefix + ct), nil
}

func (s *Sealer) open(value []byte) ([]byte, error) {
	str := string(value)
	if !strings.HasPrefix(str, sealedPrefix) {
		return copyBytes(value), nil
	}
	if s == nil {
		return nil, ErrSealed
	}
	pt, err := s.enc.Decrypt(strings.TrimPrefix(str, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	out, err := base64.StdEncoding.DecodeString(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode decrypted value: %w", err)
	}
	return out, nil
}
