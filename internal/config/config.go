// Package config loads scanbin settings from a TOML file, a .env file and
// SCANBIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/erazemk/scanbin/internal/barcode"
	"github.com/erazemk/scanbin/internal/tree"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "scanbin.toml"

// Config is the full runtime configuration.
type Config struct {
	DB   string `toml:"db" mapstructure:"db"`
	Addr string `toml:"addr" mapstructure:"addr"`
	Log  string `toml:"log" mapstructure:"log"`

	Barcode BarcodeConfig `toml:"barcode" mapstructure:"barcode"`
	Tree    TreeConfig    `toml:"tree" mapstructure:"tree"`
	Session SessionConfig `toml:"session" mapstructure:"session"`
	HTTP    HTTPConfig    `toml:"http" mapstructure:"http"`
	Photo   PhotoConfig   `toml:"photo" mapstructure:"photo"`
}

// BarcodeConfig holds the prefixes printed on labels.
type BarcodeConfig struct {
	InternalPrefix string `toml:"internal_prefix" mapstructure:"internal_prefix"`
	ActionPrefix   string `toml:"action_prefix" mapstructure:"action_prefix"`
}

// TreeConfig controls containment rules.
type TreeConfig struct {
	DeletePolicy string `toml:"delete_policy" mapstructure:"delete_policy"` // "cascade" or "block"
}

// SessionConfig controls where scan sessions live.
type SessionConfig struct {
	TTL           string `toml:"ttl" mapstructure:"ttl"`
	RedisAddr     string `toml:"redis_addr" mapstructure:"redis_addr"` // empty keeps sessions in memory
	RedisPassword string `toml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `toml:"redis_db" mapstructure:"redis_db"`
}

// TTLDuration returns the parsed session lifetime.
func (s SessionConfig) TTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.TTL)
	if err != nil {
		return 0, fmt.Errorf("session.ttl: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("session.ttl must be positive")
	}
	return d, nil
}

// HTTPConfig holds settings of the JSON API.
type HTTPConfig struct {
	CORSOrigins []string `toml:"cors_origins" mapstructure:"cors_origins"`
}

// PhotoConfig controls item photo normalization.
type PhotoConfig struct {
	MaxDimension int `toml:"max_dimension" mapstructure:"max_dimension"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB:   "scanbin.sqlite3",
		Addr: ":8080",
		Barcode: BarcodeConfig{
			InternalPrefix: "T=",
			ActionPrefix:   "V=",
		},
		Tree:    TreeConfig{DeletePolicy: string(tree.PolicyCascade)},
		Session: SessionConfig{TTL: "30m"},
		HTTP:    HTTPConfig{CORSOrigins: []string{}},
		Photo:   PhotoConfig{MaxDimension: 1024},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("db", d.DB)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("log", d.Log)
	v.SetDefault("barcode.internal_prefix", d.Barcode.InternalPrefix)
	v.SetDefault("barcode.action_prefix", d.Barcode.ActionPrefix)
	v.SetDefault("tree.delete_policy", d.Tree.DeletePolicy)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.redis_addr", d.Session.RedisAddr)
	v.SetDefault("session.redis_password", d.Session.RedisPassword)
	v.SetDefault("session.redis_db", d.Session.RedisDB)
	v.SetDefault("http.cors_origins", d.HTTP.CORSOrigins)
	v.SetDefault("photo.max_dimension", d.Photo.MaxDimension)
}

// Load reads the configuration. A missing file at path is not an error;
// defaults and environment variables still apply. Environment variables
// are named after the key: SCANBIN_DB, SCANBIN_BARCODE_INTERNAL_PREFIX, ...
func Load(path string) (*Config, error) {
	// Load .env file if exists
	godotenv.Load()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("SCANBIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.DB == "" {
		return errors.New("db must be set")
	}
	if _, err := barcode.NewClassifier(c.Barcode.InternalPrefix, c.Barcode.ActionPrefix); err != nil {
		return fmt.Errorf("barcode: %w", err)
	}
	if _, err := tree.ParseDeletePolicy(c.Tree.DeletePolicy); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	if _, err := c.Session.TTLDuration(); err != nil {
		return err
	}
	if c.Photo.MaxDimension <= 0 {
		return errors.New("photo.max_dimension must be positive")
	}
	return nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// Init writes cfg to a new file at path. It refuses to overwrite an
// existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
