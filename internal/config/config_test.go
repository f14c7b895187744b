package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndRequiredKey(t *testing.T) {
	_, err := Load("test", nil)
	require.ErrorContains(t, err, "jwt-key")

	cfg, err := Load("test", []string{"--jwt-key", "k"})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Empty(t, cfg.DSN)
	require.Equal(t, "trailence", cfg.JWTIssuer)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 60*time.Second, cfg.ChallengeTTL)
	require.Equal(t, 5, cfg.Limiter.MaxFails)
	require.Equal(t, 15*time.Minute, cfg.Limiter.Window)
	require.False(t, cfg.Dev)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "auth.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
addr: ":9000"
jwt-key: from-file
access-ttl: 5m
limiter:
  max-fails: 9
  block-for: 1h
`), 0o600))

	t.Setenv(EnvPrefix+"_CONFIG", file)
	t.Setenv(EnvPrefix+"_ACCESS_TTL", "7m")
	t.Setenv(EnvPrefix+"_LIMITER_MAX_FAILS", "3")

	cfg, err := Load("test", []string{"--addr", ":9100"})
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Addr, "flag beats file")
	require.Equal(t, "from-file", cfg.JWTKey)
	require.Equal(t, 7*time.Minute, cfg.AccessTTL, "env beats file")
	require.Equal(t, 3, cfg.Limiter.MaxFails)
	require.Equal(t, time.Hour, cfg.Limiter.BlockFor)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("test", []string{"--no-such-flag"})
	require.Error(t, err)

	_, err = Load("test", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--jwt-key", "k"})
	require.ErrorContains(t, err, "config read error")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Addr: ":1", JWTKey: "k", AccessTTL: time.Minute, MaxAccessTTL: time.Hour, ChallengeTTL: time.Minute}
		c.Limiter.MaxFails = 1
		return c
	}
	require.NoError(t, base().Validate())

	c := base()
	c.MaxAccessTTL = time.Second
	require.Error(t, c.Validate())

	c = base()
	c.TLSCert = "cert.pem"
	require.Error(t, c.Validate())

	c = base()
	c.ChallengeTTL = 0
	require.Error(t, c.Validate())

	c = base()
	c.Limiter.MaxFails = 0
	require.Error(t, c.Validate())
}
