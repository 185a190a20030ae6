package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/b2js/blake2/blake2b"
)

const (
	formatHex       = "hex"
	formatMultihash = "multihash"
)

// Config holds every b2sum setting. Each field can come from a flag, a
// B2SUM_* environment variable or the config file, in that order of
// precedence.
type Config struct {
	Length   int    `mapstructure:"length"`
	Key      string `mapstructure:"key"`
	Salt     string `mapstructure:"salt"`
	Personal string `mapstructure:"personal"`

	String   string `mapstructure:"string"`
	Check    string `mapstructure:"check"`
	Output   string `mapstructure:"output"`
	Format   string `mapstructure:"format"`
	Jobs     int    `mapstructure:"jobs"`
	Progress bool   `mapstructure:"progress"`

	LogLevel string `mapstructure:"log-level"`
	LogJSON  bool   `mapstructure:"log-json"`

	// StringSet tells an explicit empty --string apart from no --string.
	StringSet bool `mapstructure:"-"`
}

// DefaultConfig returns the settings used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Length:   blake2b.Size,
		Format:   formatHex,
		LogLevel: "warn",
	}
}

func addFlags(flags *pflag.FlagSet, cfg Config) {
	flags.IntP("length", "l", cfg.Length, "digest length in bytes, 1 to 64")
	flags.StringP("key", "k", cfg.Key, "hex encoded key, up to 64 bytes")
	flags.String("salt", cfg.Salt, "hex encoded salt, up to 16 bytes")
	flags.String("personal", cfg.Personal, "hex encoded personalization, up to 16 bytes")
	flags.StringP("string", "s", cfg.String, "hash this string (UTF-8) instead of files")
	flags.StringP("check", "c", cfg.Check, "read digests from this list and verify them")
	flags.StringP("output", "o", cfg.Output, "write the digest list to this file instead of stdout")
	flags.String("format", cfg.Format, "digest encoding: hex or multihash")
	flags.IntP("jobs", "j", cfg.Jobs, "files hashed in parallel, 0 for one per CPU")
	flags.Bool("progress", cfg.Progress, "show a progress bar on stderr")
	flags.String("log-level", cfg.LogLevel, "logging level")
	flags.Bool("log-json", cfg.LogJSON, "log as JSON instead of plain text")
	flags.String("config", "", "load configuration from file")
}

// loadConfig merges flags, environment and the optional config file.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("B2SUM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StringSet = v.IsSet("string")
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Format {
	case formatHex, formatMultihash:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", c.Jobs)
	}
	if c.StringSet && c.Check != "" {
		return fmt.Errorf("--string and --check are mutually exclusive")
	}
	_, err := c.hasherConfig()
	return err
}

// hasherConfig decodes the hex parameters into a blake2b configuration.
func (c *Config) hasherConfig() (blake2b.Config, error) {
	key, err := hex.DecodeString(c.Key)
	if err != nil {
		return blake2b.Config{}, fmt.Errorf("decode key: %w", err)
	}
	salt, err := hex.DecodeString(c.Salt)
	if err != nil {
		return blake2b.Config{}, fmt.Errorf("decode salt: %w", err)
	}
	personal, err := hex.DecodeString(c.Personal)
	if err != nil {
		return blake2b.Config{}, fmt.Errorf("decode personalization: %w", err)
	}
	hc := blake2b.Config{
		Size:            c.Length,
		Key:             key,
		Salt:            salt,
		Personalization: personal,
	}
	if _, err := blake2b.NewWithConfig(&hc); err != nil {
		return blake2b.Config{}, err
	}
	return hc, nil
}
