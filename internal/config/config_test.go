package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WATTEX_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, uint64(500), cfg.Market.FeeRateBps)
	assert.Equal(t, uint64(100), cfg.Market.MinOrderSize)
	assert.Equal(t, uint64(100000), cfg.Market.MaxPrice)
	assert.True(t, cfg.Market.Open)
	assert.Equal(t, []string{"grid-operator"}, cfg.Operators)
	assert.Equal(t, uint64(1000), cfg.Governance.MinProposalBalance)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WATTEX_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("WATTEX_MARKET_FEE_RATE_BPS", "250")
	t.Setenv("WATTEX_MARKET_ORDER_TTL", "15m")
	t.Setenv("WATTEX_MARKET_OPEN", "false")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), cfg.Market.FeeRateBps)
	assert.Equal(t, 15*time.Minute, cfg.Market.OrderTTL)
	assert.False(t, cfg.Market.Open)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wattex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
auth:
  jwt_secret: from-file
market:
  fee_sink: treasury
  operators: [treasury, ops]
governance:
  voting_period: 48h
`), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "treasury", cfg.Market.FeeSink)
	assert.Equal(t, []string{"treasury", "ops"}, cfg.Operators)
	assert.Equal(t, 48*time.Hour, cfg.Governance.VotingPeriod)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WATTEX_MARKET_FEE_RATE_BPS", "20000")
	_, err := Load(NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
	assert.Contains(t, err.Error(), "fee_rate_bps")

	_, err = Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
