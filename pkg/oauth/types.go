package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// TokenRefreshThreshold is the remaining lifetime below which a stored upstream
// token is refreshed proactively when a refresh token is available.
const TokenRefreshThreshold = 5 * time.Minute

// Token is an upstream token response as the gateway keeps it.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// FromOAuth2Token converts a golang.org/x/oauth2 token, keeping the id_token
// and scope extras when present.
func FromOAuth2Token(t *oauth2.Token) *Token {
	if t == nil {
		return nil
	}
	tok := &Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		tok.IDToken = idToken
	}
	if scope, ok := t.Extra("scope").(string); ok {
		tok.Scope = scope
	}
	return tok
}

// ToOAuth2Token converts the token back for use with oauth2.TokenSource.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// IsExpiredWithMargin reports whether the token expires within margin.
// A zero ExpiresAt is treated as non-expiring.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}
