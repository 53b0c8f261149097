package gatewaytoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Class selects a token lifetime.
type Class int

const (
	ClassShort Class = iota
	ClassLong
	ClassRefresh
)

func (c Class) String() string {
	switch c {
	case ClassShort:
		return "short"
	case ClassLong:
		return "long"
	case ClassRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// MetadataTokenUse marks refresh tokens inside metadata.
const (
	MetadataTokenUse = "token_use"
	TokenUseRefresh  = "refresh"
)

// Claims is the gateway token payload.
type Claims struct {
	DeviceID string         `json:"deviceId"`
	Metadata map[string]any `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the canonical user id carried in sub.
func (c *Claims) UserID() string { return c.Subject }

// IsRefresh reports whether the token was issued as a refresh token.
func (c *Claims) IsRefresh() bool {
	use, _ := c.Metadata[MetadataTokenUse].(string)
	return use == TokenUseRefresh
}

// Config configures a Service.
type Config struct {
	// Secret is the HS256 signing key. It is never logged.
	Secret     []byte
	ShortTTL   time.Duration
	LongTTL    time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service issues and verifies gateway tokens.
type Service struct {
	secret []byte
	ttls   map[Class]time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Issued is a freshly minted token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64
}

// NewService creates a Service. The signing algorithm is fixed to HS256.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("gateway token secret must not be empty")
	}
	s := &Service{
		secret: append([]byte(nil), cfg.Secret...),
		ttls: map[Class]time.Duration{
			ClassShort:   withDefault(cfg.ShortTTL, time.Hour),
			ClassLong:    withDefault(cfg.LongTTL, 24*time.Hour),
			ClassRefresh: withDefault(cfg.RefreshTTL, 30*24*time.Hour),
		},
		now: cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

func withDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// TTL returns the lifetime of class.
func (s *Service) TTL(class Class) time.Duration {
	return s.ttls[class]
}

// Issue signs a token for deviceID and canonicalUserID.
func (s *Service) Issue(deviceID, canonicalUserID string, metadata map[string]any, class Class) (Issued, error) {
	if deviceID == "" || canonicalUserID == "" {
		return Issued{}, errors.New("gateway token requires both a device id and a user id")
	}
	ttl, ok := s.ttls[class]
	if !ok {
		return Issued{}, fmt.Errorf("unknown token class %d", class)
	}

	now := s.now().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		DeviceID: deviceID,
		Metadata: metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   canonicalUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("failed to sign gateway token: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: exp, ExpiresIn: int64(ttl / time.Second)}, nil
}

// Verify checks signature, expiry and required claims.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" || claims.DeviceID == "" {
		return nil, &Error{Code: ErrCodeMalformed, Err: errors.New("token is missing sub or deviceId")}
	}
	return claims, nil
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Error{Code: ErrCodeExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return &Error{Code: ErrCodeBadSignature, Err: err}
	default:
		return &Error{Code: ErrCodeMalformed, Err: err}
	}
}
