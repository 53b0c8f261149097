package authflow

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"m365gate/internal/gatewaytoken"
	"m365gate/internal/identity"
	"m365gate/internal/metrics"
	"m365gate/internal/session"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/upstream"
)

// ExchangeSourceTag is recorded in gateway tokens minted by the exchange.
const ExchangeSourceTag = "graph-token-exchange"

// Validator checks upstream tokens.
type Validator interface {
	QuickValidate(token string) upstream.Result
	FullValidate(ctx context.Context, token string) upstream.Result
}

// Config wires a Service.
type Config struct {
	// Provider is the canonical user id prefix, e.g. "ms365".
	Provider string
	// BaseURL is the public base URL, used for verification URIs.
	BaseURL string
	// Audience and Scopes are advertised in protected-resource metadata.
	Audience string
	Scopes   []string
	// AuthorizationServer is the upstream authority advertised in metadata.
	AuthorizationServer string

	OAuth2     *oauth2.Config
	HTTPClient *http.Client

	Validator Validator
	Tokens    *gatewaytoken.Service
	TokenProv *tokenprovider.Provider
	Sessions  *session.Store
	States    *session.StateStore
	Devices   *DeviceManager
	Metrics   *metrics.Metrics

	Now func() time.Time
}

// Service runs the auth flows.
type Service struct {
	cfg  Config
	now  func() time.Time
	prov *tokenprovider.Provider
}

// New creates a Service.
func New(cfg Config) *Service {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	s := &Service{cfg: cfg, now: cfg.Now, prov: cfg.TokenProv}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) canonical(email string) string {
	return identity.CanonicalUserID(s.cfg.Provider, email)
}

func (s *Service) withHTTPClient(ctx context.Context) context.Context {
	if s.cfg.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	}
	return ctx
}

// UserView is the user object returned by auth endpoints.
type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func userView(u upstream.User) UserView {
	return UserView{ID: u.ID, Email: strings.ToLower(u.Email), Name: u.Name}
}

// TokenResponse is returned when a gateway token is issued.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	User         *UserView `json:"user,omitempty"`
}

func tokenResponse(issued gatewaytoken.Issued) TokenResponse {
	return TokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   issued.ExpiresIn,
		ExpiresAt:   issued.ExpiresAt.UTC(),
	}
}
