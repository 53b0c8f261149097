package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"m365gate/internal/authflow"
	"m365gate/internal/config"
	"m365gate/internal/gatewaytoken"
	"m365gate/internal/graph"
	"m365gate/internal/identity"
	"m365gate/internal/mcpserver"
	"m365gate/internal/metrics"
	"m365gate/internal/modules"
	"m365gate/internal/server"
	"m365gate/internal/session"
	"m365gate/internal/storage"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/tools"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
)

const (
	serverName         = "m365gate"
	storageInitTimeout = 30 * time.Second
)

// Services holds every long-lived component of the gateway.
type Services struct {
	Store      *storage.Store
	Metrics    *metrics.Metrics
	Validator  *upstream.Validator
	Tokens     *gatewaytoken.Service
	Provider   *tokenprovider.Provider
	Sessions   *session.Store
	States     *session.StateStore
	Devices    *authflow.DeviceManager
	Auth       *authflow.Service
	Resolver   *identity.Resolver
	Graph      *graph.Client
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	MCP        *mcpserver.Transport
	Server     *server.Server
}

// InitializeServices builds the component graph from cfg. On error every
// component built so far is released.
func InitializeServices(cfg config.Config, version string) (svc *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), storageInitTimeout)
	defer cancel()
	s.Store, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Metrics.Enabled {
		s.Metrics = metrics.New()
	}

	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout}

	s.Validator = upstream.NewValidator(upstream.ValidatorConfig{
		Audience:     cfg.Upstream.Audience,
		GraphBaseURL: cfg.Upstream.GraphBaseURL,
		HTTPClient:   httpClient,
		Timeout:      cfg.Upstream.Timeout,
	})

	secret, err := signingSecret(cfg)
	if err != nil {
		return nil, err
	}
	s.Tokens, err = gatewaytoken.NewService(gatewaytoken.Config{
		Secret:     secret,
		ShortTTL:   cfg.Auth.ShortTokenTTL,
		LongTTL:    cfg.Auth.LongTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gateway tokens: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Upstream.AuthorizeURL(),
			TokenURL: cfg.Upstream.TokenURL(),
		},
		RedirectURL: cfg.RedirectURI(),
		Scopes:      cfg.Upstream.Scopes,
	}

	s.Provider = tokenprovider.New(tokenprovider.Config{
		Store:     s.Store,
		Checker:   s.Validator,
		Refresher: tokenprovider.NewOAuth2Refresher(oauthCfg, httpClient),
		Metrics:   s.Metrics,
	})

	s.Sessions = session.NewStore(session.Config{
		CookieName: cfg.Auth.SessionCookieName,
		TTL:        cfg.Auth.SessionTTL,
		Secure:     !cfg.IsDevelopment(),
	})
	s.States = session.NewStateStore(0)
	s.Devices = authflow.NewDeviceManager(authflow.DeviceManagerConfig{
		Store:           s.Store,
		VerificationURI: cfg.BaseURL() + "/auth/device",
		TTL:             cfg.Auth.DeviceCodeTTL,
		Interval:        cfg.Auth.DevicePollInterval,
		Metrics:         s.Metrics,
	})

	s.Auth = authflow.New(authflow.Config{
		Provider:            cfg.Upstream.Provider,
		BaseURL:             cfg.BaseURL(),
		Audience:            cfg.Upstream.Audience,
		Scopes:              cfg.Upstream.Scopes,
		AuthorizationServer: cfg.Upstream.AuthorityHost + "/" + cfg.Upstream.TenantID + "/v2.0",
		OAuth2:              oauthCfg,
		HTTPClient:          httpClient,
		Validator:           s.Validator,
		Tokens:              s.Tokens,
		TokenProv:           s.Provider,
		Sessions:            s.Sessions,
		States:              s.States,
		Devices:             s.Devices,
		Metrics:             s.Metrics,
	})

	s.Resolver = identity.NewResolver(cfg.Upstream.Provider, s.Tokens, s.Validator, s.Sessions, s.Provider)

	s.Graph = graph.New(graph.Config{
		BaseURL:    cfg.Upstream.GraphBaseURL,
		HTTPClient: httpClient,
		Timeout:    cfg.Upstream.Timeout,
	})
	s.Registry, err = tools.NewRegistry(modules.All(s.Graph)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	s.Dispatcher = tools.NewDispatcher(s.Registry, s.Provider, s.Validator, s.Metrics)

	router := mcpserver.NewRouter(s.Dispatcher, serverName, version)
	s.MCP = mcpserver.NewTransport(router, mcpserver.Config{
		KeepAlive: cfg.Server.SSEKeepAlive,
		Metrics:   s.Metrics,
	})

	s.Server = server.New(server.Deps{
		Config:      cfg,
		Version:     version,
		Resolver:    s.Resolver,
		Auth:        s.Auth,
		Dispatcher:  s.Dispatcher,
		MCP:         s.MCP,
		Metrics:     s.Metrics,
		DebugCounts: s.Counts,
	})

	logging.Info("Bootstrap", "Initialized %d tools (mode=%s, storage=%s)",
		len(s.Registry.Tools()), cfg.Mode, cfg.Storage.Backend)
	return s, nil
}

// signingSecret returns the configured HS256 key. Development mode without
// a configured secret gets a random per-process key, so gateway tokens do
// not survive a restart.
func signingSecret(cfg config.Config) ([]byte, error) {
	if cfg.Auth.SigningSecret != "" {
		return []byte(cfg.Auth.SigningSecret), nil
	}
	if !cfg.IsDevelopment() {
		return nil, fmt.Errorf("auth.signingSecret is required in %s mode", cfg.Mode)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	logging.Warn("Bootstrap", "No signing secret configured; using an ephemeral development key")
	return secret, nil
}

// Counts reports the size of the in-memory state, for /debug/sessions.
func (s *Services) Counts() map[string]int {
	return map[string]int{
		"sessions":         s.Sessions.Count(),
		"oauthStates":      s.States.Count(),
		"pendingDevices":   s.Devices.Pending(),
		"sseSessions":      s.MCP.SessionCount(),
		"cachedUserTokens": s.Provider.CacheSize(),
	}
}

// Close stops background workers and releases storage. It is safe on a
// partially initialized Services.
func (s *Services) Close() {
	if s.MCP != nil {
		s.MCP.Close()
	}
	if s.Devices != nil {
		s.Devices.Stop()
	}
	if s.States != nil {
		s.States.Stop()
	}
	if s.Sessions != nil {
		s.Sessions.Stop()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			logging.Warn("Bootstrap", "Failed to close storage: %v", err)
		}
	}
}
