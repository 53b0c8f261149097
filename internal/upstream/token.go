package upstream

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiringSoonThreshold marks tokens with less remaining lifetime as expiring soon.
const ExpiringSoonThreshold = 10 * time.Minute

// DecodedToken is the parsed, unverified form of an upstream bearer.
type DecodedToken struct {
	Raw    string
	Header map[string]interface{}
	Claims jwt.MapClaims
}

// StripBearer removes an optional "Bearer " prefix.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

// Decode splits token into its three segments and decodes the header and
// payload. The signature is not checked.
func Decode(token string) (*DecodedToken, error) {
	raw := StripBearer(token)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, newValidationError(ErrCodeInvalidFormat, "token must have three segments", nil)
	}

	parser := jwt.NewParser()

	headerBytes, err := parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, newValidationError(ErrCodeInvalidFormat, "token header is not base64url", err)
	}
	var header map[string]interface{}
	if err := json.Unmarshal(headerBytes, &header); err != nil || header == nil {
		return nil, newValidationError(ErrCodeInvalidFormat, "token header is not a JSON object", err)
	}

	payloadBytes, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, newValidationError(ErrCodeInvalidFormat, "token payload is not base64url", err)
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil || claims == nil {
		return nil, newValidationError(ErrCodeInvalidFormat, "token payload is not a JSON object", err)
	}

	return &DecodedToken{Raw: raw, Header: header, Claims: claims}, nil
}

// Scopes returns the space-split scp claim, sorted and de-duplicated.
func (d *DecodedToken) Scopes() []string {
	scp, _ := d.Claims["scp"].(string)
	return NormalizeScopes(strings.Fields(scp))
}

// NormalizeScopes sorts and de-duplicates scopes. The result is never nil.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (d *DecodedToken) stringClaim(names ...string) string {
	for _, n := range names {
		if v, ok := d.Claims[n].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Email returns the first populated identity claim.
func (d *DecodedToken) Email() string {
	return d.stringClaim("upn", "preferred_username", "unique_name", "email")
}

// Metadata is the normalized projection of an upstream token.
type Metadata struct {
	User      User      `json:"user"`
	TenantID  string    `json:"tenantId,omitempty"`
	AppID     string    `json:"appId,omitempty"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
	// ExpiresIn is the remaining lifetime in seconds, never negative.
	ExpiresIn      int64     `json:"expiresIn"`
	IsExpiringSoon bool      `json:"isExpiringSoon"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// User identifies the token subject.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile is the subset of the upstream /me response the gateway uses.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ExtractMetadata projects decoded claims (and an optional profile, which
// takes precedence for display name and email) into Metadata.
func ExtractMetadata(d *DecodedToken, profile *Profile, now time.Time) *Metadata {
	md := &Metadata{
		User: User{
			ID:    d.stringClaim("oid", "sub"),
			Email: d.Email(),
			Name:  d.stringClaim("name"),
		},
		TenantID: d.stringClaim("tid"),
		AppID:    d.stringClaim("appid", "azp"),
		Scopes:   d.Scopes(),
	}

	if exp, err := d.Claims.GetExpirationTime(); err == nil && exp != nil {
		md.ExpiresAt = exp.Time
		remaining := exp.Time.Sub(now)
		if remaining > 0 {
			md.ExpiresIn = int64(remaining / time.Second)
		}
		md.IsExpiringSoon = remaining < ExpiringSoonThreshold
	}
	if iat, err := d.Claims.GetIssuedAt(); err == nil && iat != nil {
		md.IssuedAt = iat.Time
	}

	if profile != nil {
		if profile.DisplayName != "" {
			md.User.Name = profile.DisplayName
		}
		if profile.Mail != "" {
			md.User.Email = profile.Mail
		} else if profile.UserPrincipalName != "" {
			md.User.Email = profile.UserPrincipalName
		}
		if md.User.ID == "" {
			md.User.ID = profile.ID
		}
	}
	return md
}
