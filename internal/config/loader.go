// Package config loads and watches the runtime YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/wudi/hyperfast/config"
	"golang.org/x/net/http/httpguts"
)

// Layered settings file names, resolved relative to the settings directory.
const (
	DefaultSettingsFile = "service-default.yml"
	envSettingsPattern  = "service-%s.yml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := l.overlay(cfg, data); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadLayered reads service-default.yml from dir and overlays
// service-{env}.yml when env is set. Keys absent from a layer keep the value
// of the layer below. A missing environment file is not an error.
func (l *Loader) LoadLayered(dir, env string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	for _, path := range LayeredPaths(dir, env) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) && filepath.Base(path) != DefaultSettingsFile {
				continue
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := l.overlay(cfg, data); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LayeredPaths lists the files LoadLayered reads, lowest precedence first.
func LayeredPaths(dir, env string) []string {
	paths := []string{filepath.Join(dir, DefaultSettingsFile)}
	if env != "" {
		paths = append(paths, filepath.Join(dir, fmt.Sprintf(envSettingsPattern, env)))
	}
	return paths
}

func (l *Loader) overlay(cfg *config.Config, data []byte) error {
	expanded := l.expandEnvVars(string(data))
	if strings.TrimSpace(expanded) == "" {
		return nil
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// validate checks configuration for errors
func (l *Loader) validate(cfg *config.Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener: address is required")
	}
	if acme := cfg.Listener.TLS.ACME; cfg.Listener.TLS.Enabled && acme.Enabled {
		if len(acme.Domains) == 0 {
			return fmt.Errorf("listener: acme enabled but no domains provided")
		}
		switch acme.ChallengeType {
		case "", "tls-alpn-01", "http-01":
		default:
			return fmt.Errorf("listener: invalid acme challenge_type %q", acme.ChallengeType)
		}
	} else if cfg.Listener.TLS.Enabled {
		if cfg.Listener.TLS.CertFile == "" {
			return fmt.Errorf("listener: TLS enabled but cert_file not provided")
		}
		if cfg.Listener.TLS.KeyFile == "" {
			return fmt.Errorf("listener: TLS enabled but key_file not provided")
		}
	}
	if cfg.Listener.EnableHTTP3 && !cfg.Listener.TLS.Enabled {
		return fmt.Errorf("listener: enable_http3 requires tls")
	}
	for name, d := range map[string]int64{
		"read_timeout":        int64(cfg.Listener.ReadTimeout),
		"write_timeout":       int64(cfg.Listener.WriteTimeout),
		"idle_timeout":        int64(cfg.Listener.IdleTimeout),
		"read_header_timeout": int64(cfg.Listener.ReadHeaderTimeout),
	} {
		if d < 0 {
			return fmt.Errorf("listener: %s must not be negative", name)
		}
	}

	if cfg.Logging.Level != "" && !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging: invalid level %q", cfg.Logging.Level)
	}

	if cfg.ResponseTime.Enabled && !httpguts.ValidHeaderFieldName(cfg.ResponseTime.Header) {
		return fmt.Errorf("response_time: invalid header name %q", cfg.ResponseTime.Header)
	}

	if cfg.JSONPayloadLimit <= 0 {
		return fmt.Errorf("json_payload_limit must be positive")
	}

	switch cfg.Shutdown.Policy {
	case config.ShutdownDrain, config.ShutdownExit:
	case "":
		cfg.Shutdown.Policy = config.ShutdownDrain
	default:
		return fmt.Errorf("shutdown: invalid policy %q (want drain or exit)", cfg.Shutdown.Policy)
	}
	if cfg.Shutdown.Timeout < 0 || cfg.Shutdown.DrainDelay < 0 {
		return fmt.Errorf("shutdown: durations must not be negative")
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be between 0 and 1")
	}

	return nil
}
