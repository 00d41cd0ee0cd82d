package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/tradesync")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("DATABASE_URL", "postgres://localhost/tradesync")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, 24*time.Hour, cfg.Scheduler.Interval())
	require.Equal(t, time.Hour, cfg.Scheduler.MisfireGrace())
	require.Equal(t, 25, cfg.Database.MaxOpenConns)
	require.InDelta(t, 10.0, cfg.Exchanges.HyperliquidDefaultLeverage, 1e-9)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
http:
  addr: ":9999"
scheduler:
  interval_secs: 43200
exchanges:
  blofin_base_url: "https://file.example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("DATABASE_URL", "postgres://localhost/tradesync")
	t.Setenv("BLOFIN_BASE_URL", "https://env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9999", cfg.HTTP.Addr)
	require.Equal(t, 12*time.Hour, cfg.Scheduler.Interval())
	// Environment wins over the file.
	require.Equal(t, "https://env.example.com", cfg.Exchanges.BlofinBaseURL)
}
