package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinsuchenak/rackfab/internal/fabric"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RACKFAB_CONFIG", "RACKFAB_DATA_DIR", "RACKFAB_STORAGE_BACKEND",
		"RACKFAB_HOSTNAME_PATTERN", "RACKFAB_REGION", "RACKFAB_DATACENTER",
		"RACKFAB_P2P_POOL", "RACKFAB_LOOPBACK_POOL", "RACKFAB_PORT_LAYOUTS",
		"RACKFAB_LOG_LEVEL", "RACKFAB_LOG_FORMAT", "RACKFAB_CABLE_SLACK_PCT",
		"RACKFAB_MIN_LINK_SPEED", "RACKFAB_WORKERS",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rackfab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, fabric.DefaultHostnamePattern, cfg.HostnamePattern)
	assert.Equal(t, 40000, cfg.MinLinkSpeed)
	assert.Equal(t, 10.0, cfg.CableSlackPct)
	assert.Equal(t, "environment variables", cfg.String())
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
data_dir: /var/lib/rackfab
region: eu
datacenter: ams1
min_link_speed: 100000
workers: 8
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rackfab", cfg.DataDir)
	assert.Equal(t, 100000, cfg.MinLinkSpeed)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, path, cfg.ConfigFile)

	t.Setenv("RACKFAB_DATACENTER", "fra2")
	t.Setenv("RACKFAB_MIN_LINK_SPEED", "25000")
	cfg, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "eu", cfg.Region)
	assert.Equal(t, "fra2", cfg.Datacenter)
	assert.Equal(t, 25000, cfg.MinLinkSpeed)

	cfg, err = Load(path, &Config{Datacenter: "lon1", Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, "lon1", cfg.Datacenter)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 25000, cfg.MinLinkSpeed)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "p2p_pool: abc\nloopback_pool: def\n")
	t.Setenv("RACKFAB_CONFIG", path)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, fabric.PoolIDs{P2P: "abc", Loopback: "def"}, cfg.Pools())
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "workers: [1"), nil)
	assert.Error(t, err)

	t.Setenv("RACKFAB_WORKERS", "many")
	_, err = Load("", nil)
	assert.Error(t, err)
}

func TestLoad_Normalizes(t *testing.T) {
	clearEnv(t)
	t.Setenv("RACKFAB_STORAGE_BACKEND", "file")
	t.Setenv("RACKFAB_WORKERS", "0")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, 1, cfg.Workers)
}

func TestConfig_Settings(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("", &Config{Region: "eu", Datacenter: "ams1", CableSlackPct: 15})
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "eu", s.Location.Region)
	assert.Equal(t, "ams1", s.Location.Datacenter)
	assert.Equal(t, 15.0, s.CableSlackPct)
	assert.Equal(t, 40000, s.MinLinkSpeed)
}
