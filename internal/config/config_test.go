package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "escrow", cfg.Auction.EscrowAccount)
	require.Equal(t, "deed-registry", cfg.Auction.RegistryAddr)
	require.Equal(t, "sauda.events", cfg.NATS.SubjectPrefix)
	require.Equal(t, "migrations", cfg.Database.MigrationsDir)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sauda.yaml")
	body := `
debug: true
database:
  dsn: postgres://localhost/sauda
auction:
  escrow_account: vault
  throttle_burst: 5
  throttle_per_sec: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Debug)
	require.Equal(t, "postgres://localhost/sauda", cfg.Database.DSN)
	require.Equal(t, "vault", cfg.Auction.EscrowAccount)
	require.Equal(t, 5, cfg.Auction.ThrottleBurst)
	require.Equal(t, 2.5, cfg.Auction.ThrottlePerSec)
}

func TestValidateRejectsNegativeThrottle(t *testing.T) {
	cfg := &Config{Auction: AuctionConfig{
		EscrowAccount: "escrow",
		RegistryAddr:  "deed-registry",
		ThrottleBurst: -1,
	}}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresEscrowAccount(t *testing.T) {
	cfg := &Config{Auction: AuctionConfig{RegistryAddr: "deed-registry"}}
	require.Error(t, cfg.Validate())
}
