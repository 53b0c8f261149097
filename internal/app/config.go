package app

// Config holds the command-line settings the application is started with.
// Zero values leave the file and environment configuration untouched.
type Config struct {
	// Debug forces debug logging regardless of the configured log level.
	Debug bool

	// Silent discards all log output.
	Silent bool

	// ConfigPath is the directory holding config.yaml. Empty means the
	// built-in defaults plus environment overrides.
	ConfigPath string

	// Port overrides server.port when non-zero.
	Port int

	// Mode overrides the configured mode ("development" or "production").
	Mode string

	// Version is reported on /health and in the MCP server info.
	Version string
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
