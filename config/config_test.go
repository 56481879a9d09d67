package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
[Server]
Address = "127.0.0.1:27015"
Password = "hunter2"

[Player]
Name = "ripper"
LowViolence = false

[Player.CVars]
cl_interp = "0.03125"

[Platform]
HostVersion = 13851648
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:27015", cfg.Server.Address)
	require.Equal(t, "ripper", cfg.Player.Name)
	require.Equal(t, "0.03125", cfg.Player.CVars["cl_interp"])
	require.Equal(t, uint32(13851648), cfg.Platform.HostVersion)
}

func TestResolveUDPAddr(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	addr, err := cfg.ResolveUDPAddr()
	require.NoError(t, err)
	require.Equal(t, 27015, addr.Port)
}

func TestValidateMissingServerAddress(t *testing.T) {
	cfg := &Config{Player: Player{Name: "x"}, Platform: Platform{HostVersion: 1}}
	require.Error(t, cfg.Validate())
}

func TestValidateMissingPlayerName(t *testing.T) {
	cfg := &Config{Server: Server{Address: "127.0.0.1:27015"}, Platform: Platform{HostVersion: 1}}
	require.Error(t, cfg.Validate())
}

func TestValidateMissingHostVersion(t *testing.T) {
	cfg := &Config{Server: Server{Address: "127.0.0.1:27015"}, Player: Player{Name: "x"}}
	require.Error(t, cfg.Validate())
}
