// Package config loads the client's TOML configuration: the remote
// server endpoint, password, player identity, and the platform settings
// the handshake and NetChannel key derivation need.
package config

import (
	"fmt"
	"net"

	"github.com/BurntSushi/toml"
)

// Config is the top-level TOML document this module loads.
type Config struct {
	Server   Server
	Player   Player
	Platform Platform
}

// Server describes the remote game server to connect to.
type Server struct {
	// Address is "host:port" of the server's direct UDP endpoint.
	Address string
	// Password is the server's join password, if any.
	Password string
}

// Player describes the local player's connect-time state.
type Player struct {
	Name string
	// LowViolence mirrors the CONNECT packet's low_violence bit.
	LowViolence bool
	// CVars are additional convars sent as part of the player's
	// CCLCMsg_SplitPlayerConnect, beyond the ones this module derives
	// itself (cl_session).
	CVars map[string]string
}

// Platform holds settings for the platform handshake provider.
type Platform struct {
	// HostVersion is the client build number reported to the server and
	// used to derive the NetChannel ICE key.
	HostVersion uint32
}

// Load parses and validates a TOML config file at path.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config is complete enough to attempt a
// connection.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("config: server.address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("config: server.address: %w", err)
	}
	if c.Player.Name == "" {
		return fmt.Errorf("config: player.name is required")
	}
	if c.Platform.HostVersion == 0 {
		return fmt.Errorf("config: platform.host_version is required")
	}
	return nil
}

// ResolveUDPAddr resolves Server.Address to a *net.UDPAddr.
func (c *Config) ResolveUDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", c.Server.Address)
}
