package conduit

import "time"

// Config holds the full runtime configuration.
type Config struct {
	Server    ServerConfig              `json:"server" yaml:"server"`
	Database  DatabaseConfig            `json:"database" yaml:"database"`
	Router    RouterConfig              `json:"router" yaml:"router"`
	Logging   LoggingConfig             `json:"logging" yaml:"logging"`
	Providers map[string]ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig selects the SQL backend. Driver is "sqlite" (default) or
// "postgres". For sqlite, Path overrides the default database location; for
// postgres, DSN is the connection string.
type DatabaseConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RouterConfig tunes the attempt loop.
type RouterConfig struct {
	// AttemptTimeoutSeconds bounds each provider call. Zero means the
	// default of 60 seconds.
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds,omitempty" yaml:"attempt_timeout_seconds,omitempty"`
}

// LoggingConfig configures structured logging. Level is one of
// debug/info/warn/error; Format is "json" (default) or "text".
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ProviderConfig is per-provider configuration keyed by the canonical
// provider tag.
type ProviderConfig struct {
	// BaseURL overrides the vendor endpoint. A per-credential override
	// stored with add-service takes precedence over this value.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Region selects the AWS region for bedrock. Ignored by other providers.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Enabled opts a credential-less provider (bedrock) into routing.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// DefaultConfig returns the built-in defaults applied before file and
// environment values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Router: RouterConfig{AttemptTimeoutSeconds: 60},
	}
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (c Config) AttemptTimeout() time.Duration {
	if c.Router.AttemptTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Router.AttemptTimeoutSeconds) * time.Second
}

// Provider returns the config block for p's canonical tag, or a zero value.
func (c Config) Provider(tag string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[tag]
}
