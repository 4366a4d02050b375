package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/testutil"
)

var writeConfig = testutil.WriteFile

const minimal = `{"host": {"authority": "host"}}`

func TestLoader_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", minimal)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Streamer.MessageQueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Streamer.WaitTimeout.Duration())
	assert.Equal(t, 3, cfg.Streamer.Retry.MaxRetries)
	assert.Equal(t, TransportNATS, cfg.Host.Transport)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.Host.NATS.URLs)
	assert.Equal(t, "up", cfg.Host.NATS.SubjectPrefix)
	assert.Equal(t, int32(5), cfg.Host.NATS.CircuitBreakerThreshold)
	assert.False(t, cfg.Bus.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_JSONC(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.jsonc", `{
		// comments are allowed
		"streamer": {
			"message_queue_size": 64,
			"wait_timeout": "250ms",
			"retry": {"max_retries": 5, "initial_delay": "10ms", "max_delay": "1s", "backoff_factor": 1.5},
		},
		"host": {
			"authority": "host",
			"rewrite_authority": true,
			"nats": {"urls": ["nats://a:4222", "nats://b:4222"], "codec": "cbor"},
		},
		/* the bus */
		"bus": {
			"enabled": true,
			"authority": "ecu",
			"config_file": "bus.jsonc",
			"default_application_id": 4660,
		},
		"subscriptions": {"file": "subs/static.json", "watch": true, "topic_resource_override": 32769},
		"log": {"level": "debug", "format": "text"},
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Streamer.MessageQueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Streamer.WaitTimeout.Duration())

	retry := cfg.Streamer.Retry.ErrorsConfig()
	assert.Equal(t, 5, retry.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, retry.InitialDelay)
	assert.Equal(t, time.Second, retry.MaxDelay)
	assert.Equal(t, 1.5, retry.BackoffFactor)

	assert.True(t, cfg.Host.RewriteAuthority)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.Host.NATS.URL())
	assert.Equal(t, "cbor", cfg.Host.NATS.Codec)
	assert.Equal(t, "up", cfg.Host.NATS.SubjectPrefix, "untouched default survives nested merge")

	assert.True(t, cfg.Bus.Enabled)
	assert.Equal(t, uint32(0x1234), cfg.Bus.DefaultApplicationID)
	assert.Equal(t, filepath.Join(dir, "bus.jsonc"), cfg.Bus.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "subs", "static.json"), cfg.Subscriptions.File)
	assert.Equal(t, uint16(0x8001), cfg.Subscriptions.TopicResourceOverride)
}

func TestLoader_AbsolutePathsKept(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "bus.jsonc")
	path := writeConfig(t, t.TempDir(), "config.json",
		`{"host": {"authority": "host"}, "bus": {"enabled": true, "authority": "ecu", "config_file": "`+abs+`"}}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Bus.ConfigFile)
}

func TestLoader_Layers(t *testing.T) {
	dir := t.TempDir()
	base := writeConfig(t, dir, "base.json", `{
		"host": {"authority": "host", "nats": {"urls": ["nats://base:4222"]}},
		"log": {"level": "warn"}
	}`)
	site := writeConfig(t, dir, "site.json", `{"log": {"format": "text"}, "metrics": {"enabled": true}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(site)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, []string{"nats://base:4222"}, cfg.Host.NATS.URLs)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("USTREAMER_HOST_AUTHORITY", "env-host")
	t.Setenv("USTREAMER_NATS_URLS", "nats://x:1,nats://y:2")
	t.Setenv("USTREAMER_NATS_TOKEN", "secret")
	t.Setenv("USTREAMER_METRICS_ENABLED", "true")
	t.Setenv("USTREAMER_STREAMER_MESSAGE_QUEUE_SIZE", "42")
	t.Setenv("USTREAMER_LOG_LEVEL", "debug")

	path := writeConfig(t, t.TempDir(), "config.json", `{"host": {"authority": "json-host"}, "log": {"level": "error"}}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Host.Authority)
	assert.Equal(t, []string{"nats://x:1", "nats://y:2"}, cfg.Host.NATS.URLs)
	assert.Equal(t, "secret", cfg.Host.NATS.Token)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 42, cfg.Streamer.MessageQueueSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.NotContains(t, cfg.String(), "secret")
}

func TestLoader_BadEnvOverride(t *testing.T) {
	t.Setenv("USTREAMER_BUS_ENABLED", "maybe")
	path := writeConfig(t, t.TempDir(), "config.json", minimal)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "USTREAMER_BUS_ENABLED")
}

func TestLoader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	assert.ErrorIs(t, err, errors.ErrConfigNotFound)
	assert.Contains(t, err.Error(), path)
}

func TestLoader_Unparseable(t *testing.T) {
	tests := map[string]string{
		"syntax":       `{"host": {"authority": "host"`,
		"unknown key":  `{"host": {"authority": "host", "authorty": "typo"}}`,
		"bad type":     `{"host": {"authority": "host"}, "streamer": {"message_queue_size": "big"}}`,
		"bad duration": `{"host": {"authority": "host"}, "streamer": {"wait_timeout": "soon"}}`,
		"too deep":     minimal[:len(minimal)-1] + `, "x": ` + strings.Repeat("[", 101) + strings.Repeat("]", 101) + `}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.json", content)
			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), path)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", `{}`)

	l := NewLoader()
	l.EnableValidation(false)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Host.Authority)

	_, err = NewLoader().LoadFile(path)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Host.Authority = "host"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"queue size", func(c *Config) { c.Streamer.MessageQueueSize = 0 }, "message_queue_size"},
		{"wait timeout", func(c *Config) { c.Streamer.WaitTimeout = 0 }, "wait_timeout"},
		{"negative retries", func(c *Config) { c.Streamer.Retry.MaxRetries = -1 }, "max_retries"},
		{"backoff", func(c *Config) { c.Streamer.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
		{"initial delay", func(c *Config) { c.Streamer.Retry.InitialDelay = 0 }, "initial_delay"},
		{"max delay below initial", func(c *Config) { c.Streamer.Retry.MaxDelay = Duration(10 * time.Millisecond) }, "streamer.retry.max_delay"},
		{"transport", func(c *Config) { c.Host.Transport = "someip" }, "host.transport"},
		{"no urls", func(c *Config) { c.Host.NATS.URLs = nil }, "host.nats.urls"},
		{"codec", func(c *Config) { c.Host.NATS.Codec = "xml" }, "host.nats.codec"},
		{"prefix", func(c *Config) { c.Host.NATS.SubjectPrefix = "a*" }, "subject_prefix"},
		{"circuit threshold", func(c *Config) { c.Host.NATS.CircuitBreakerThreshold = 0 }, "host.nats.circuit_breaker_threshold"},
		{"no host authority", func(c *Config) { c.Host.Authority = "" }, "host.authority"},
		{"wildcard authority", func(c *Config) { c.Host.Authority = "*" }, "host.authority"},
		{"bus authority", func(c *Config) { c.Bus.Enabled = true; c.Bus.ConfigFile = "b.json" }, "bus.authority"},
		{"bus same authority", func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Authority = "host"
			c.Bus.ConfigFile = "b.json"
		}, "must differ"},
		{"bus config file", func(c *Config) { c.Bus.Enabled = true; c.Bus.Authority = "ecu" }, "bus.config_file"},
		{"watch without file", func(c *Config) { c.Subscriptions.Watch = true }, "subscriptions.watch"},
		{"override", func(c *Config) { c.Subscriptions.TopicResourceOverride = 0x10 }, "topic_resource_override"},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "9090" }, "metrics.addr"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"14d"`)))
	assert.Equal(t, 14*24*time.Hour, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`1500000000`)))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"xd"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	out, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
