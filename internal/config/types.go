package config

import "time"

// Deployment modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Storage backends.
const (
	StorageMemory     = "memory"
	StorageFile       = "file"
	StorageRedis      = "redis"
	StorageKubernetes = "kubernetes"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Mode is "development" or "production". Development enables debug routes,
	// verbose logging and permissive CORS when no allowlist is configured.
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"logLevel,omitempty"`

	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	CORS      CORSConfig      `yaml:"cors"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally visible base URL used in redirects, device
	// verification URIs and SSE endpoint events. Derived from host/port when empty.
	PublicURL       string        `yaml:"publicURL,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AuthTimeout bounds every auth-flow request from receipt to response.
	AuthTimeout time.Duration `yaml:"authTimeout"`
	// SSEKeepAlive is the interval between keepalive comments on SSE streams.
	SSEKeepAlive time.Duration `yaml:"sseKeepAlive"`
}

// UpstreamConfig describes the upstream authority and API.
type UpstreamConfig struct {
	// Provider is the canonical user id prefix.
	Provider      string   `yaml:"provider"`
	ClientID      string   `yaml:"clientID"`
	ClientSecret  string   `yaml:"clientSecret,omitempty"`
	TenantID      string   `yaml:"tenantID"`
	RedirectURI   string   `yaml:"redirectURI,omitempty"`
	AuthorityHost string   `yaml:"authorityHost"`
	GraphBaseURL  string   `yaml:"graphBaseURL"`
	Audience      string   `yaml:"audience"`
	Scopes        []string `yaml:"scopes"`
	// Timeout applies to every outbound upstream call.
	Timeout time.Duration `yaml:"timeout"`
}

// AuthorizeURL returns the tenant-specific authorization endpoint.
func (u UpstreamConfig) AuthorizeURL() string {
	return u.AuthorityHost + "/" + u.TenantID + "/oauth2/v2.0/authorize"
}

// TokenURL returns the tenant-specific token endpoint.
func (u UpstreamConfig) TokenURL() string {
	return u.AuthorityHost + "/" + u.TenantID + "/oauth2/v2.0/token"
}

// AuthConfig configures gateway-issued credentials and sessions.
type AuthConfig struct {
	// SigningSecret is the symmetric HS256 key for gateway tokens.
	SigningSecret      string        `yaml:"signingSecret,omitempty"`
	ShortTokenTTL      time.Duration `yaml:"shortTokenTTL"`
	LongTokenTTL       time.Duration `yaml:"longTokenTTL"`
	// RefreshTokenTTL is the lifetime of device-grant refresh tokens.
	RefreshTokenTTL    time.Duration `yaml:"refreshTokenTTL"`
	SessionCookieName  string        `yaml:"sessionCookieName"`
	SessionTTL         time.Duration `yaml:"sessionTTL"`
	DeviceCodeTTL      time.Duration `yaml:"deviceCodeTTL"`
	DevicePollInterval time.Duration `yaml:"devicePollInterval"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Dir is the root directory for the file backend.
	Dir string `yaml:"dir,omitempty"`
	// EncryptionKey is a base64-encoded 32-byte AES key for the secure namespace.
	EncryptionKey string           `yaml:"encryptionKey,omitempty"`
	Redis         RedisConfig      `yaml:"redis,omitempty"`
	Kubernetes    KubernetesConfig `yaml:"kubernetes,omitempty"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

type KubernetesConfig struct {
	Namespace  string `yaml:"namespace"`
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
}

// RateLimitConfig holds per-IP window limits.
type RateLimitConfig struct {
	Window  time.Duration `yaml:"window"`
	Max     int           `yaml:"max"`
	AuthMax int           `yaml:"authMax"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}
