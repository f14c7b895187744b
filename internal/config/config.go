// Package config loads server settings from defaults, an optional config
// file, TRAILENCE_AUTH_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TRAILENCE_AUTH_JWT_KEY.
const EnvPrefix = "TRAILENCE_AUTH"

// Config is the server configuration.
type Config struct {
	Addr    string `mapstructure:"addr"`
	OpsAddr string `mapstructure:"ops-addr"` // empty disables the gRPC ops listener
	DSN     string `mapstructure:"dsn"`      // empty selects the in-memory store

	JWTKey       string        `mapstructure:"jwt-key"`
	JWTIssuer    string        `mapstructure:"jwt-issuer"`
	AccessTTL    time.Duration `mapstructure:"access-ttl"`
	MaxAccessTTL time.Duration `mapstructure:"max-access-ttl"`
	ChallengeTTL time.Duration `mapstructure:"challenge-ttl"`

	Limiter struct {
		Window   time.Duration `mapstructure:"window"`
		MaxFails int           `mapstructure:"max-fails"`
		BlockFor time.Duration `mapstructure:"block-for"`
	} `mapstructure:"limiter"`

	TLSCert string `mapstructure:"tls-cert"`
	TLSKey  string `mapstructure:"tls-key"`

	Dev bool `mapstructure:"dev"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("ops-addr", "")
	v.SetDefault("dsn", "")
	v.SetDefault("jwt-key", "")
	v.SetDefault("jwt-issuer", "trailence")
	v.SetDefault("access-ttl", 15*time.Minute)
	v.SetDefault("max-access-ttl", 24*time.Hour)
	v.SetDefault("challenge-ttl", 60*time.Second)
	v.SetDefault("limiter.window", 15*time.Minute)
	v.SetDefault("limiter.max-fails", 5)
	v.SetDefault("limiter.block-for", 15*time.Minute)
	v.SetDefault("tls-cert", "")
	v.SetDefault("tls-key", "")
	v.SetDefault("dev", false)
}

// Flags declares the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("ops-addr", "", "gRPC health listen address (empty: disabled)")
	fs.String("dsn", "", "PostgreSQL DSN (empty: in-memory store)")
	fs.String("jwt-key", "", "HS256 signing key (required)")
	fs.String("jwt-issuer", "trailence", "token issuer claim")
	fs.Duration("access-ttl", 15*time.Minute, "default access token lifetime")
	fs.Duration("max-access-ttl", 24*time.Hour, "upper bound for a requested token lifetime")
	fs.Duration("challenge-ttl", 60*time.Second, "renewal challenge lifetime")
	fs.Duration("limiter.window", 15*time.Minute, "failed login counting window")
	fs.Int("limiter.max-fails", 5, "failed logins within the window before blocking")
	fs.Duration("limiter.block-for", 15*time.Minute, "block duration")
	fs.String("tls-cert", "", "TLS certificate (PEM)")
	fs.String("tls-key", "", "TLS private key (PEM)")
	fs.Bool("dev", false, "development logging and gRPC reflection")
	return fs
}

// Load parses args and resolves the configuration.
func Load(name string, args []string) (*Config, error) {
	fs := Flags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfgFile, _ := fs.GetString("config")
	if cfgFile == "" {
		cfgFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	// only flags given explicitly override file and env
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, bindErr
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTKey) == "" {
		return errors.New("jwt-key must be set")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr must not be empty")
	}
	if c.AccessTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("access-ttl and challenge-ttl must be positive")
	}
	if c.MaxAccessTTL < c.AccessTTL {
		return fmt.Errorf("max-access-ttl (%s) is shorter than access-ttl (%s)", c.MaxAccessTTL, c.AccessTTL)
	}
	if c.Limiter.MaxFails <= 0 {
		return errors.New("limiter.max-fails must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	return nil
}
