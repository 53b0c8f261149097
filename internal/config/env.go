package config

import (
	"strconv"
	"strings"
	"time"

	"m365gate/pkg/logging"
)

// Environment variable names recognised by ApplyEnv.
const (
	EnvClientID       = "M365GATE_CLIENT_ID"
	EnvClientSecret   = "M365GATE_CLIENT_SECRET"
	EnvTenantID       = "M365GATE_TENANT_ID"
	EnvRedirectURI    = "M365GATE_REDIRECT_URI"
	EnvAuthorityHost  = "M365GATE_AUTHORITY_HOST"
	EnvGraphBaseURL   = "M365GATE_GRAPH_BASE_URL"
	EnvSigningSecret  = "M365GATE_SIGNING_SECRET"
	EnvEncryptionKey  = "M365GATE_ENCRYPTION_KEY"
	EnvMode           = "M365GATE_MODE"
	EnvPort           = "M365GATE_PORT"
	EnvPublicURL      = "M365GATE_PUBLIC_URL"
	EnvCORSOrigins    = "M365GATE_CORS_ORIGINS"
	EnvRateWindow     = "M365GATE_RATE_LIMIT_WINDOW"
	EnvRateMax        = "M365GATE_RATE_LIMIT_MAX"
	EnvAuthRateMax    = "M365GATE_AUTH_RATE_LIMIT_MAX"
	EnvStorageBackend = "M365GATE_STORAGE_BACKEND"
	EnvStorageDir     = "M365GATE_STORAGE_DIR"
	EnvRedisURL       = "M365GATE_REDIS_URL"
	EnvK8sNamespace   = "M365GATE_K8S_NAMESPACE"
	EnvLogLevel       = "M365GATE_LOG_LEVEL"
)

// ApplyEnv overrides cfg with values from getenv. Malformed numeric values
// are logged and ignored so that Validate reports on the effective config.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.Upstream.ClientID, getenv(EnvClientID))
	setString(&cfg.Upstream.ClientSecret, getenv(EnvClientSecret))
	setString(&cfg.Upstream.TenantID, getenv(EnvTenantID))
	setString(&cfg.Upstream.RedirectURI, getenv(EnvRedirectURI))
	setString(&cfg.Upstream.AuthorityHost, getenv(EnvAuthorityHost))
	setString(&cfg.Upstream.GraphBaseURL, getenv(EnvGraphBaseURL))
	setString(&cfg.Auth.SigningSecret, getenv(EnvSigningSecret))
	setString(&cfg.Storage.EncryptionKey, getenv(EnvEncryptionKey))
	setString(&cfg.Mode, strings.ToLower(getenv(EnvMode)))
	setString(&cfg.Server.PublicURL, getenv(EnvPublicURL))
	setString(&cfg.Storage.Backend, getenv(EnvStorageBackend))
	setString(&cfg.Storage.Dir, getenv(EnvStorageDir))
	setString(&cfg.Storage.Redis.URL, getenv(EnvRedisURL))
	setString(&cfg.Storage.Kubernetes.Namespace, getenv(EnvK8sNamespace))
	setString(&cfg.LogLevel, getenv(EnvLogLevel))

	setInt(&cfg.Server.Port, EnvPort, getenv(EnvPort))
	setInt(&cfg.RateLimit.Max, EnvRateMax, getenv(EnvRateMax))
	setInt(&cfg.RateLimit.AuthMax, EnvAuthRateMax, getenv(EnvAuthRateMax))
	setDuration(&cfg.RateLimit.Window, EnvRateWindow, getenv(EnvRateWindow))

	if v := getenv(EnvCORSOrigins); v != "" {
		cfg.CORS.AllowedOrigins = SplitList(v)
	}
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, name, v string) {
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("Config", "Ignoring %s=%q: not an integer", name, v)
		return
	}
	*dst = n
}

// setDuration accepts Go durations ("15m") or a plain number of milliseconds.
func setDuration(dst *time.Duration, name, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	logging.Warn("Config", "Ignoring %s=%q: not a duration", name, v)
}
