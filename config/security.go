package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/c360/ustreamer/errors"
)

const (
	// Security limits for configuration
	maxConfigSize = 10 << 20 // 10MB max config file size
	maxJSONDepth  = 100      // Maximum JSON nesting depth
	maxEnvVarLen  = 10000    // Maximum environment variable value length
	maxPathLen    = 4096     // Maximum file path length
)

// safeReadFile reads a config file after basic size and type checks.
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: empty config path", errors.ErrMissingConfig),
			"Loader", "safeReadFile", "check path")
	}
	if len(path) > maxPathLen {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: path too long: %d > %d", errors.ErrInvalidConfig, len(path), maxPathLen),
			"Loader", "safeReadFile", "check path")
	}

	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path),
				"Loader", "safeReadFile", "stat config")
		}
		return nil, errors.InvalidArgument(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "safeReadFile", "stat config")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.InvalidArgument(
			fmt.Errorf("%w: %s too large: %d bytes > %d", errors.ErrInvalidConfig, path, info.Size(), maxConfigSize),
			"Loader", "safeReadFile", "check size")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: not a regular file: %s", errors.ErrInvalidConfig, path),
			"Loader", "safeReadFile", "check mode")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "safeReadFile", "read config")
	}
	return data, nil
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth checks JSON depth to prevent DoS attacks
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if b == '\\' && inString {
			escaped = true
			continue
		}
		if b == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return stderrors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
