package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/c360/ustreamer/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "USTREAMER"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, each layer and the environment, then validates.
// A missing layer is NOT_FOUND; an unreadable or unparseable one is
// INVALID_ARGUMENT. Errors name the offending path.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, err
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.InvalidArgument(
				fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "decode config")
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer as a map, with relative file references resolved
// against the layer's directory.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	data = jsonc.ToJSON(data)
	if err := validateJSONDepth(data); err != nil {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
			"Loader", "loadRaw", "check structure")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
			"Loader", "loadRaw", "parse config")
	}
	removeNilValues(raw)

	dir := filepath.Dir(path)
	resolvePath(raw, dir, "bus", "config_file")
	resolvePath(raw, dir, "subscriptions", "file")
	return raw, nil
}

func resolvePath(raw map[string]any, dir, section, key string) {
	sec, ok := raw[section].(map[string]any)
	if !ok {
		return
	}
	p, ok := sec[key].(string)
	if !ok || p == "" || filepath.IsAbs(p) {
		return
	}
	sec[key] = filepath.Join(dir, p)
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	dec := json.NewDecoder(strings.NewReader(string(mergedJSON)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func removeNilValues(m map[string]any) {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		} else if nested, ok := v.(map[string]any); ok {
			removeNilValues(nested)
		}
	}
}

// applyEnvOverrides applies PREFIX_SECTION_KEY environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"HOST_AUTHORITY":          &cfg.Host.Authority,
		"HOST_TRANSPORT":          &cfg.Host.Transport,
		"NATS_USERNAME":           &cfg.Host.NATS.Username,
		"NATS_PASSWORD":           &cfg.Host.NATS.Password,
		"NATS_TOKEN":              &cfg.Host.NATS.Token,
		"BUS_AUTHORITY":           &cfg.Bus.Authority,
		"BUS_CONFIG_FILE":         &cfg.Bus.ConfigFile,
		"SUBSCRIPTIONS_FILE":      &cfg.Subscriptions.File,
		"SUBSCRIPTIONS_KV_BUCKET": &cfg.Subscriptions.KVBucket,
		"METRICS_ADDR":            &cfg.Metrics.Addr,
		"LOG_LEVEL":               &cfg.Log.Level,
		"LOG_FORMAT":              &cfg.Log.Format,
	}
	bools := map[string]*bool{
		"BUS_ENABLED":     &cfg.Bus.Enabled,
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
	}

	for suffix, dst := range strs {
		val, err := l.env(suffix)
		if err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
	}
	for suffix, dst := range bools {
		val, err := l.env(suffix)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError(suffix, err)
		}
		*dst = b
	}

	val, err := l.env("NATS_URLS")
	if err != nil {
		return err
	}
	if val != "" {
		cfg.Host.NATS.URLs = strings.Split(val, ",")
	}

	val, err = l.env("STREAMER_MESSAGE_QUEUE_SIZE")
	if err != nil {
		return err
	}
	if val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError("STREAMER_MESSAGE_QUEUE_SIZE", err)
		}
		cfg.Streamer.MessageQueueSize = n
	}
	return nil
}

func (l *Loader) env(suffix string) (string, error) {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", errors.InvalidArgument(err, "Loader", "applyEnvOverrides", "read "+key)
	}
	return val, nil
}

func (l *Loader) envError(suffix string, err error) error {
	return errors.InvalidArgument(fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, suffix, err),
		"Loader", "applyEnvOverrides", "parse environment override")
}
