package conduit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix is the marker for environment overrides. Key segments are
// separated by doubled underscores so provider tags containing single
// underscores stay unambiguous: CONDUIT__SERVER__PORT=9090,
// CONDUIT__PROVIDERS__GROQ__BASE_URL=...
const envPrefix = "CONDUIT__"

// LoadConfig resolves and parses the configuration. path may be "" to use
// the search order: $CONDUIT_CONFIG, then the user config directory, then
// ~/.conduit/config.yaml, then ./conduit.yaml. A missing file yields the
// defaults; environment overrides apply either way.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONDUIT_CONFIG")
	}
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile() string {
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "conduit", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".conduit", "config.yaml"))
	}
	candidates = append(candidates, "conduit.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// applyEnvOverrides folds CONDUIT__ environment variables into cfg.
func applyEnvOverrides(cfg *Config, environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		segments := strings.Split(strings.TrimPrefix(key, envPrefix), "__")
		for i, s := range segments {
			segments[i] = strings.ToLower(s)
		}
		if err := applyOverride(cfg, segments, value); err != nil {
			return fmt.Errorf("apply %s: %w", key, err)
		}
	}
	return nil
}

func applyOverride(cfg *Config, segments []string, value string) error {
	if len(segments) < 2 {
		return fmt.Errorf("override needs at least section and key")
	}
	switch segments[0] {
	case "server":
		switch segments[1] {
		case "host":
			cfg.Server.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid port %q", value)
			}
			cfg.Server.Port = port
		default:
			return fmt.Errorf("unknown server key %q", segments[1])
		}
	case "database":
		switch segments[1] {
		case "driver":
			cfg.Database.Driver = value
		case "path":
			cfg.Database.Path = value
		case "dsn":
			cfg.Database.DSN = value
		default:
			return fmt.Errorf("unknown database key %q", segments[1])
		}
	case "router":
		switch segments[1] {
		case "attempt_timeout_seconds":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid timeout %q", value)
			}
			cfg.Router.AttemptTimeoutSeconds = secs
		default:
			return fmt.Errorf("unknown router key %q", segments[1])
		}
	case "logging":
		switch segments[1] {
		case "level":
			cfg.Logging.Level = value
		case "format":
			cfg.Logging.Format = value
		default:
			return fmt.Errorf("unknown logging key %q", segments[1])
		}
	case "providers":
		if len(segments) != 3 {
			return fmt.Errorf("provider override needs CONDUIT__PROVIDERS__<TAG>__<KEY>")
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		pc := cfg.Providers[segments[1]]
		switch segments[2] {
		case "base_url":
			pc.BaseURL = value
		case "region":
			pc.Region = value
		case "enabled":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid enabled %q", value)
			}
			pc.Enabled = enabled
		default:
			return fmt.Errorf("unknown provider key %q", segments[2])
		}
		cfg.Providers[segments[1]] = pc
	default:
		return fmt.Errorf("unknown section %q", segments[0])
	}
	return nil
}

// DataDir returns the directory for the database and key file, creating it
// if needed.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("locate data directory: %w", errors.Join(err, herr))
		}
		base = filepath.Join(home, ".conduit")
		if err := os.MkdirAll(base, 0o700); err != nil {
			return "", fmt.Errorf("create data directory: %w", err)
		}
		return base, nil
	}
	dir := filepath.Join(base, "conduit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// DatabasePath resolves the sqlite file location from config, falling back
// to the data directory.
func (c Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conduit.db"), nil
}

// KeyPath resolves the credential key file location, next to the database.
func (c Config) KeyPath() (string, error) {
	if c.Database.Path != "" {
		return filepath.Join(filepath.Dir(c.Database.Path), "secret.key"), nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secret.key"), nil
}
