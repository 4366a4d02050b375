package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/c360/ustreamer/errors"
)

// Transport names accepted by host.transport.
const (
	TransportNATS = "nats"
)

// Config is the complete process configuration.
type Config struct {
	Streamer      StreamerConfig      `json:"streamer"`
	Host          HostConfig          `json:"host"`
	Bus           BusConfig           `json:"bus"`
	Subscriptions SubscriptionsConfig `json:"subscriptions"`
	Metrics       MetricsConfig       `json:"metrics"`
	Log           LogConfig           `json:"log"`
}

// StreamerConfig tunes the forwarding rules.
type StreamerConfig struct {
	MessageQueueSize int         `json:"message_queue_size"`
	WaitTimeout      Duration    `json:"wait_timeout"`
	Retry            RetryConfig `json:"retry"`
	EchoTTL          Duration    `json:"echo_ttl"`
}

// RetryConfig is the send retry policy.
type RetryConfig struct {
	MaxRetries    int      `json:"max_retries"`
	InitialDelay  Duration `json:"initial_delay"`
	MaxDelay      Duration `json:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor"`
}

// ErrorsConfig converts to the errors package retry policy.
func (r RetryConfig) ErrorsConfig() errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:    r.MaxRetries,
		InitialDelay:  r.InitialDelay.Duration(),
		MaxDelay:      r.MaxDelay.Duration(),
		BackoffFactor: r.BackoffFactor,
	}
}

// HostConfig describes the host-side network.
type HostConfig struct {
	Transport        string     `json:"transport"`
	Authority        string     `json:"authority"`
	RewriteAuthority bool       `json:"rewrite_authority"`
	NATS             NATSConfig `json:"nats"`
}

// NATSConfig holds the NATS connection used when host.transport is "nats".
type NATSConfig struct {
	URLs          []string      `json:"urls"`
	Name          string        `json:"name,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait Duration      `json:"reconnect_wait"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
	// CircuitBreakerThreshold is the number of consecutive connection
	// failures that open the circuit.
	CircuitBreakerThreshold int32 `json:"circuit_breaker_threshold"`
	// SubjectPrefix is the first token of every subject the bridge uses.
	SubjectPrefix string `json:"subject_prefix"`
	// Codec is "json" or "cbor".
	Codec       string `json:"codec"`
	Compression bool   `json:"compression,omitempty"`
}

// NATSTLSConfig holds client TLS files.
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// URL returns the comma separated server list nats.Connect accepts.
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// BusConfig describes the in-vehicle bus side.
type BusConfig struct {
	Enabled          bool   `json:"enabled"`
	Authority        string `json:"authority"`
	RewriteAuthority bool   `json:"rewrite_authority"`
	// ConfigFile is the bus transport's own config. Relative paths are
	// resolved against the directory of the file that set them.
	ConfigFile           string `json:"config_file"`
	DefaultApplicationID uint32 `json:"default_application_id"`
}

// SubscriptionsConfig selects the subscription sources.
type SubscriptionsConfig struct {
	File          string   `json:"file"`
	Watch         bool     `json:"watch"`
	WatchDebounce Duration `json:"watch_debounce"`
	// TopicResourceOverride replaces the resource id of every topic read
	// from File. Zero disables it.
	TopicResourceOverride uint16 `json:"topic_resource_override"`
	KVBucket              string `json:"kv_bucket"`
	// Updates enables subscription-change notifications on the host transport.
	Updates bool `json:"updates"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used for fields no layer sets.
func Default() *Config {
	return &Config{
		Streamer: StreamerConfig{
			MessageQueueSize: 1000,
			WaitTimeout:      Duration(100 * time.Millisecond),
			Retry: RetryConfig{
				MaxRetries:    3,
				InitialDelay:  Duration(50 * time.Millisecond),
				MaxDelay:      Duration(2 * time.Second),
				BackoffFactor: 2.0,
			},
			EchoTTL: Duration(30 * time.Second),
		},
		Host: HostConfig{
			Transport: TransportNATS,
			NATS: NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				MaxReconnects: -1,
				ReconnectWait: Duration(2 * time.Second),
				SubjectPrefix: "up",
				Codec:         "json",

				CircuitBreakerThreshold: 5,
			},
		},
		Bus: BusConfig{
			DefaultApplicationID: 0x1000,
		},
		Subscriptions: SubscriptionsConfig{
			WatchDebounce: Duration(250 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.InvalidArgument(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate configuration")
}

// Validate checks the configuration. Failures are INVALID_ARGUMENT and name
// the offending key.
func (c *Config) Validate() error {
	s := c.Streamer
	if s.MessageQueueSize <= 0 {
		return invalid("streamer.message_queue_size must be positive")
	}
	if s.WaitTimeout <= 0 {
		return invalid("streamer.wait_timeout must be positive")
	}
	if s.Retry.MaxRetries < 0 {
		return invalid("streamer.retry.max_retries must not be negative")
	}
	if s.Retry.BackoffFactor < 1 {
		return invalid("streamer.retry.backoff_factor must be at least 1")
	}
	if s.Retry.InitialDelay <= 0 {
		return invalid("streamer.retry.initial_delay must be positive")
	}
	if s.Retry.MaxDelay < s.Retry.InitialDelay {
		return invalid("streamer.retry.max_delay %s is below streamer.retry.initial_delay %s",
			s.Retry.MaxDelay.Duration(), s.Retry.InitialDelay.Duration())
	}

	switch c.Host.Transport {
	case TransportNATS:
		if len(c.Host.NATS.URLs) == 0 {
			return invalid("host.nats.urls is required")
		}
		switch c.Host.NATS.Codec {
		case "json", "cbor":
		default:
			return invalid("host.nats.codec %q is not json or cbor", c.Host.NATS.Codec)
		}
		if c.Host.NATS.SubjectPrefix == "" || strings.ContainsAny(c.Host.NATS.SubjectPrefix, " *>") {
			return invalid("host.nats.subject_prefix %q is not a valid subject token", c.Host.NATS.SubjectPrefix)
		}
		if c.Host.NATS.CircuitBreakerThreshold < 1 {
			return invalid("host.nats.circuit_breaker_threshold must be at least 1")
		}
	default:
		return invalid("host.transport %q is not supported", c.Host.Transport)
	}
	if err := validateAuthority("host.authority", c.Host.Authority); err != nil {
		return err
	}

	if c.Bus.Enabled {
		if err := validateAuthority("bus.authority", c.Bus.Authority); err != nil {
			return err
		}
		if c.Bus.Authority == c.Host.Authority {
			return invalid("bus.authority must differ from host.authority")
		}
		if c.Bus.ConfigFile == "" {
			return invalid("bus.config_file is required when the bus is enabled")
		}
	}

	if c.Subscriptions.Watch && c.Subscriptions.File == "" {
		return invalid("subscriptions.watch requires subscriptions.file")
	}
	if o := c.Subscriptions.TopicResourceOverride; o != 0 && o < 0x8000 {
		return invalid("subscriptions.topic_resource_override %#x is not a topic resource", o)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return invalid("metrics.addr %q: %v", c.Metrics.Addr, err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

func validateAuthority(key, a string) error {
	if a == "" {
		return invalid("%s is required", key)
	}
	if a == "*" || strings.ContainsAny(a, "/ ") {
		return invalid("%s %q is not a valid authority", key, a)
	}
	return nil
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Host.NATS.Password = mask(masked.Host.NATS.Password)
	masked.Host.NATS.Token = mask(masked.Host.NATS.Token)
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Duration is a time.Duration read from a string such as "250ms" or "14d",
// or from a number of nanoseconds.
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON writes the string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := parseDurationWithDays(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(x))
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
