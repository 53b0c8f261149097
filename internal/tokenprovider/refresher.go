package tokenprovider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"m365gate/pkg/oauth"
)

// Refresher exchanges a refresh token for a new upstream token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// OAuth2Refresher refreshes through the upstream token endpoint.
type OAuth2Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Refresher creates a refresher for cfg. httpClient may be nil.
func NewOAuth2Refresher(cfg *oauth2.Config, httpClient *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{config: cfg, httpClient: httpClient}
}

// Refresh forces a refresh_token grant.
func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	// An expired token makes the TokenSource go straight to the refresh grant.
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := r.config.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh grant failed: %w", err)
	}
	out := oauth.FromOAuth2Token(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
