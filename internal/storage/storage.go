package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Namespace separates secrets from ordinary settings.
type Namespace string

const (
	NamespaceSettings Namespace = "settings"
	NamespaceSecure   Namespace = "secure"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: not found")

// nameRE is the character set allowed in value names. It matches what
// Kubernetes accepts as Secret/ConfigMap data keys.
var nameRE = regexp.MustCompile(`^[-._a-zA-Z0-9]+$`)

// Backend is the raw persistence layer. Put must write all values for one
// owner atomically.
type Backend interface {
	Get(ctx context.Context, ns Namespace, owner, name string) ([]byte, error)
	Put(ctx context.Context, ns Namespace, owner string, values map[string][]byte) error
	Delete(ctx context.Context, ns Namespace, owner string, names ...string) error
	Close() error
}

// Store is the secret-aware facade used by the rest of the gateway.
type Store struct {
	backend Backend
	sealer  *Sealer
}

// NewStore wraps backend. A nil sealer stores secure values unencrypted.
func NewStore(backend Backend, s *Sealer) *Store {
	return &Store{backend: backend, sealer: s}
}

// GetSetting reads a non-secret value.
func (s *Store) GetSetting(ctx context.Context, owner, name string) ([]byte, error) {
	if err := validateKey(owner, name); err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, NamespaceSettings, owner, name)
}

// SetSetting writes a non-secret value.
func (s *Store) SetSetting(ctx context.Context, owner, name string, value []byte) error {
	if err := validateKey(owner, name); err != nil {
		return err
	}
	return s.backend.Put(ctx, NamespaceSettings, owner, map[string][]byte{name: value})
}

// DeleteSettings removes non-secret values. Missing names are ignored.
func (s *Store) DeleteSettings(ctx context.Context, owner string, names ...string) error {
	if err := validateNames(owner, names); err != nil {
		return err
	}
	return s.backend.Delete(ctx, NamespaceSettings, owner, names...)
}

// GetSecret reads and unseals a secure value.
func (s *Store) GetSecret(ctx context.Context, owner, name string) ([]byte, error) {
	if err := validateKey(owner, name); err != nil {
		return nil, err
	}
	raw, err := s.backend.Get(ctx, NamespaceSecure, owner, name)
	if err != nil {
		return nil, err
	}
	return s.sealer.open(raw)
}

// SetSecrets seals and writes several secure values for one owner in a single
// backend write.
func (s *Store) SetSecrets(ctx context.Context, owner string, values map[string][]byte) error {
	sealed := make(map[string][]byte, len(values))
	for name, v := range values {
		if err := validateKey(owner, name); err != nil {
			return err
		}
		out, err := s.sealer.seal(v)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", name, err)
		}
		sealed[name] = out
	}
	return s.backend.Put(ctx, NamespaceSecure, owner, sealed)
}

// DeleteSecrets removes secure values. Missing names are ignored.
func (s *Store) DeleteSecrets(ctx context.Context, owner string, names ...string) error {
	if err := validateNames(owner, names); err != nil {
		return err
	}
	return s.backend.Delete(ctx, NamespaceSecure, owner, names...)
}

// Encrypted reports whether secure values are sealed at rest.
func (s *Store) Encrypted() bool {
	return s.sealer != nil
}

// Close releases backend resources.
func (s *Store) Close() error {
	return s.backend.Close()
}

func validateKey(owner, name string) error {
	if owner == "" {
		return errors.New("storage: owner must not be empty")
	}
	if !nameRE.MatchString(name) {
		return fmt.Errorf("storage: invalid value name %q", name)
	}
	return nil
}

func validateNames(owner string, names []string) error {
	for _, n := range names {
		if err := validateKey(owner, n); err != nil {
			return err
		}
	}
	if owner == "" {
		return errors.New("storage: owner must not be empty")
	}
	return nil
}

// ownerHash maps an arbitrary owner string to a filesystem and DNS-1123 safe
// identifier.
func ownerHash(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:16])
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
