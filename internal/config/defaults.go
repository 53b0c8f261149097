package config

import "time"

const (
	DefaultProvider      = "ms365"
	DefaultAuthorityHost = "https://login.microsoftonline.com"
	DefaultGraphBaseURL  = "https://graph.microsoft.com/v1.0"
	DefaultAudience      = "https://graph.microsoft.com"
	DefaultTenantID      = "common"
	DefaultPort          = 3000
)

// DefaultScopes is the delegated scope list requested by the interactive flow.
var DefaultScopes = []string{
	"offline_access",
	"User.Read",
	"Mail.ReadWrite",
	"Mail.Send",
	"Calendars.ReadWrite",
	"Files.ReadWrite",
	"People.Read",
	"Chat.ReadWrite",
	"Tasks.ReadWrite",
	"Contacts.ReadWrite",
	"Group.Read.All",
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() Config {
	return Config{
		Mode:     ModeProduction,
		LogLevel: "info",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ShutdownTimeout: 10 * time.Second,
			AuthTimeout:     30 * time.Second,
			SSEKeepAlive:    30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Provider:      DefaultProvider,
			TenantID:      DefaultTenantID,
			AuthorityHost: DefaultAuthorityHost,
			GraphBaseURL:  DefaultGraphBaseURL,
			Audience:      DefaultAudience,
			Scopes:        append([]string(nil), DefaultScopes...),
			Timeout:       10 * time.Second,
		},
		Auth: AuthConfig{
			ShortTokenTTL:      time.Hour,
			LongTokenTTL:       24 * time.Hour,
			RefreshTokenTTL:    30 * 24 * time.Hour,
			SessionCookieName:  "m365gate_session",
			SessionTTL:         24 * time.Hour,
			DeviceCodeTTL:      15 * time.Minute,
			DevicePollInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Redis:   RedisConfig{KeyPrefix: "m365gate"},
			Kubernetes: KubernetesConfig{
				Namespace: "default",
			},
		},
		RateLimit: RateLimitConfig{
			Window:  15 * time.Minute,
			Max:     1000,
			AuthMax: 20,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}
