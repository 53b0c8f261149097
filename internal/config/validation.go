package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Validate checks the effective configuration. All problems are reported
// together.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.PublicURL != "" {
		if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("server.publicURL is not a valid URL: %w", err))
		}
	}

	if c.Upstream.Provider == "" || strings.Contains(c.Upstream.Provider, ":") {
		errs = append(errs, fmt.Errorf("upstream.provider must be a non-empty name without ':'"))
	}
	if c.Upstream.Audience == "" {
		errs = append(errs, errors.New("upstream.audience is required"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}

	if c.Auth.SigningSecret == "" && !c.IsDevelopment() {
		errs = append(errs, fmt.Errorf("auth.signingSecret is required outside development (set %s)", EnvSigningSecret))
	}
	if c.Auth.SigningSecret != "" && len(c.Auth.SigningSecret) < 32 {
		errs = append(errs, errors.New("auth.signingSecret must be at least 32 characters"))
	}
	if c.Auth.ShortTokenTTL <= 0 || c.Auth.LongTokenTTL < c.Auth.ShortTokenTTL {
		errs = append(errs, errors.New("auth token lifetimes must be positive and longTokenTTL >= shortTokenTTL"))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the file backend"))
		}
	case StorageRedis:
		if c.Storage.Redis.URL == "" {
			errs = append(errs, errors.New("storage.redis.url is required for the redis backend"))
		}
	case StorageKubernetes:
		if c.Storage.Kubernetes.Namespace == "" {
			errs = append(errs, errors.New("storage.kubernetes.namespace is required for the kubernetes backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Storage.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("storage.encryptionKey must be a base64-encoded 32-byte key"))
		}
	}

	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 || c.RateLimit.AuthMax <= 0 {
		errs = append(errs, errors.New("rateLimit window and maxima must be positive"))
	}

	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("cors origin %q is not a valid origin", origin))
		}
	}

	return errors.Join(errs...)
}

// ListenAddr returns host:port.
func (c Config) ListenAddr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// BaseURL returns the public base URL without a trailing slash.
func (c Config) BaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimSuffix(c.Server.PublicURL, "/")
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + strconv.Itoa(c.Server.Port)
}

// RedirectURI returns the configured OAuth redirect URI or the default
// callback under BaseURL.
func (c Config) RedirectURI() string {
	if c.Upstream.RedirectURI != "" {
		return c.Upstream.RedirectURI
	}
	return c.BaseURL() + "/auth/callback"
}

// Redacted returns a copy with secrets masked, for debug output.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	out := c
	out.Upstream.ClientSecret = mask(c.Upstream.ClientSecret)
	out.Auth.SigningSecret = mask(c.Auth.SigningSecret)
	out.Storage.EncryptionKey = mask(c.Storage.EncryptionKey)
	if c.Storage.Redis.URL != "" {
		if u, err := url.Parse(c.Storage.Redis.URL); err == nil {
			out.Storage.Redis.URL = u.Redacted()
		}
	}
	out.Upstream.Scopes = append([]string(nil), c.Upstream.Scopes...)
	out.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	return out
}
