// Package config defines the runtime configuration and its defaults.
package config

import "time"

// ShutdownPolicy selects how the server stops on a termination signal.
type ShutdownPolicy string

const (
	// ShutdownDrain waits for in-flight requests within the configured timeout.
	ShutdownDrain ShutdownPolicy = "drain"
	// ShutdownExit closes every connection immediately.
	ShutdownExit ShutdownPolicy = "exit"
)

// DefaultJSONPayloadLimit bounds aggregated JSON request bodies (1 MiB).
const DefaultJSONPayloadLimit int64 = 1 << 20

// DefaultResponseTimeHeader is the header carrying the elapsed request time.
const DefaultResponseTimeHeader = "X-Time-Taken"

// Config is the root configuration structure
type Config struct {
	Listener         ListenerConfig     `yaml:"listener"`
	Logging          LoggingConfig      `yaml:"logging"`
	AccessLog        AccessLogConfig    `yaml:"access_log"`
	Metrics          MetricsConfig      `yaml:"metrics"`
	ResponseTime     ResponseTimeConfig `yaml:"response_time"`
	JSONPayloadLimit int64              `yaml:"json_payload_limit"` // bytes
	Shutdown         ShutdownConfig     `yaml:"shutdown"`
	Tracing          TracingConfig      `yaml:"tracing"`
}

// ListenerConfig defines the HTTP listener
type ListenerConfig struct {
	Address           string        `yaml:"address"` // e.g., ":8080"
	TLS               TLSConfig     `yaml:"tls"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	EnableHTTP3       bool          `yaml:"enable_http3"` // serve HTTP/3 over QUIC on same port
}

// TLSConfig defines TLS settings. With ACME enabled, certificates are
// provisioned automatically and cert_file/key_file are not used.
type TLSConfig struct {
	Enabled  bool       `yaml:"enabled"`
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig defines automatic certificate provisioning (e.g. Let's Encrypt)
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Domains       []string `yaml:"domains"`
	Email         string   `yaml:"email"`
	CacheDir      string   `yaml:"cache_dir"`      // default /var/cache/hyperfast/acme
	DirectoryURL  string   `yaml:"directory_url"`  // default Let's Encrypt production
	ChallengeType string   `yaml:"challenge_type"` // tls-alpn-01 (default) or http-01
	HTTPAddress   string   `yaml:"http_address"`   // http-01 listener (default ":80")
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // stdout, stderr or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// AccessLogConfig toggles the per-request access log.
type AccessLogConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig toggles request metrics and the /metrics endpoints.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ResponseTimeConfig controls the elapsed-time response header.
type ResponseTimeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"`
}

// TracingConfig defines OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"` // OTLP gRPC collector, e.g. "localhost:4317"
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRate  float64           `yaml:"sample_rate"` // 0 < rate <= 1 (default 1.0)
}

// ShutdownConfig defines shutdown behavior
type ShutdownConfig struct {
	Policy     ShutdownPolicy `yaml:"policy"`      // drain (default) or exit
	Timeout    time.Duration  `yaml:"timeout"`     // total shutdown timeout (default 30s)
	DrainDelay time.Duration  `yaml:"drain_delay"` // delay before stopping listeners (default 0s)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:           ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		AccessLog: AccessLogConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
		ResponseTime: ResponseTimeConfig{
			Enabled: true,
			Header:  DefaultResponseTimeHeader,
		},
		JSONPayloadLimit: DefaultJSONPayloadLimit,
		Shutdown: ShutdownConfig{
			Policy:  ShutdownDrain,
			Timeout: 30 * time.Second,
		},
	}
}
