package udpbus

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/c360/ustreamer/errors"
)

// Config describes the local socket and the ECU gateway peers.
type Config struct {
	// Listen is the local host:port the bus socket binds to.
	Listen string `json:"listen"`
	// Peers are the gateways messages are exchanged with.
	Peers []PeerConfig `json:"peers"`
	// DefaultApplicationID replaces a zero source entity id on received
	// messages. Zero leaves them untouched.
	DefaultApplicationID uint32 `json:"default_application_id,omitempty"`
	// MaxDatagramSize bounds encoded messages in both directions.
	MaxDatagramSize int `json:"max_datagram_size,omitempty"`
	// SocketBufferSize is the requested OS receive buffer.
	SocketBufferSize int `json:"socket_buffer_size,omitempty"`
}

// PeerConfig is one ECU gateway.
type PeerConfig struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	// Authority is the URI authority the peer serves. Messages addressed to
	// it are sent to this peer only, and local URIs it sends are qualified
	// with it.
	Authority string `json:"authority"`
}

const (
	defaultMaxDatagramSize  = 65507
	defaultSocketBufferSize = 2 * 1024 * 1024
)

// DefaultConfig returns a config listening on all interfaces with no peers.
func DefaultConfig() Config {
	return Config{
		Listen:           "0.0.0.0:30490",
		MaxDatagramSize:  defaultMaxDatagramSize,
		SocketBufferSize: defaultSocketBufferSize,
	}
}

// LoadConfig reads a JSONC bus config file over DefaultConfig. A missing file
// is NOT_FOUND; bad content is INVALID_ARGUMENT.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errors.NotFound(
				fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path),
				"udpbus", "LoadConfig", "read bus config")
		}
		return Config{}, errors.Internal(err, "udpbus", "LoadConfig", "read bus config")
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Config{}, errors.InvalidArgument(
			fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, path, err),
			"udpbus", "LoadConfig", "parse bus config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.InvalidArgument(
			fmt.Errorf("%s: %w", path, err), "udpbus", "LoadConfig", "validate bus config")
	}
	return cfg, nil
}

// Validate checks addresses and peer uniqueness. A listen address bound to a
// specific IP only reaches peers of the same address family.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", errors.ErrInvalidConfig, c.Listen, err)
	}
	listenV4, listenFixed := ipFamily(c.Listen)
	if c.MaxDatagramSize < 0 || c.MaxDatagramSize > defaultMaxDatagramSize {
		return fmt.Errorf("%w: max_datagram_size %d out of range", errors.ErrInvalidConfig, c.MaxDatagramSize)
	}

	names := make(map[string]struct{}, len(c.Peers))
	authorities := make(map[string]struct{}, len(c.Peers))
	for i, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("%w: peers[%d]: name is required", errors.ErrInvalidConfig, i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("%w: duplicate peer %q", errors.ErrInvalidConfig, p.Name)
		}
		names[p.Name] = struct{}{}

		if _, _, err := net.SplitHostPort(p.Address); err != nil {
			return fmt.Errorf("%w: peer %q address %q: %v", errors.ErrInvalidConfig, p.Name, p.Address, err)
		}
		if v4, ok := ipFamily(p.Address); ok && listenFixed && v4 != listenV4 {
			return fmt.Errorf("%w: peer %q address %q does not match the address family of listen %q",
				errors.ErrInvalidConfig, p.Name, p.Address, c.Listen)
		}
		if p.Authority != "" {
			if _, dup := authorities[p.Authority]; dup {
				return fmt.Errorf("%w: authority %q served by more than one peer", errors.ErrInvalidConfig, p.Authority)
			}
			authorities[p.Authority] = struct{}{}
		}
	}
	return nil
}

// ipFamily reports whether hostport holds an IPv4 address. ok is false for
// host names and unspecified addresses, which fit either family.
func ipFamily(hostport string) (v4, ok bool) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return false, false
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		return false, false
	}
	return ip.To4() != nil, true
}
