// Package config loads the gateway's YAML configuration and applies
// environment and command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	redisx "github.com/anthonyacole/onvif-proxy/redis"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	DefaultPath          = "config/cameras.yaml"
	DefaultListenAddress = "0.0.0.0:8000"
	DefaultKeyPrefix     = "onvif-proxy:cameras"
	DefaultMaxInFlight   = 64
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Env    string         `yaml:"env"` // "dev" enables CORS and debug gin mode
	Proxy  Proxy          `yaml:"proxy"`
	Log    Log            `yaml:"log"`
	Redis  redisx.Options `yaml:"redis"` // empty address: cameras are kept in memory only
	Events events.Options `yaml:"events"`

	Cameras []camera.Endpoint `yaml:"cameras"`
}

type Proxy struct {
	ListenAddress string `yaml:"listen_address"`
	// BaseURL is what ONVIF clients use to reach the gateway. Detected from
	// the host's first global IPv4 address when empty.
	BaseURL string `yaml:"base_url"`
	// MaxInFlight bounds concurrently served requests.
	MaxInFlight int `yaml:"max_in_flight"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

func (c *Config) IsDev() bool { return c.Env == "dev" }

// Keys bound to environment variables (and, by the command, to flags).
const (
	KeyConfigPath    = "config_path"
	KeyBaseURL       = "base_url"
	KeyListenAddress = "listen_address"
	KeyRedisAddress  = "redis_address"
	KeyLogLevel      = "log_level"
	KeyEnv           = "env"
)

// NewViper returns a viper instance with every override key bound to its
// environment variable (the upper-cased key).
func NewViper() *viper.Viper {
	v := viper.New()
	for _, k := range []string{KeyConfigPath, KeyBaseURL, KeyListenAddress, KeyRedisAddress, KeyLogLevel, KeyEnv} {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
	v.SetDefault(KeyConfigPath, DefaultPath)
	return v
}

// Load reads the file named by v's config_path, applies v's overrides and
// defaults, and validates the result. A nil v means NewViper().
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	path := v.GetString(KeyConfigPath)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.applyOverrides(v)
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML strictly; unknown keys are errors.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) applyOverrides(v *viper.Viper) {
	set := func(dst *string, key string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	set(&c.Proxy.BaseURL, KeyBaseURL)
	set(&c.Proxy.ListenAddress, KeyListenAddress)
	set(&c.Redis.Address, KeyRedisAddress)
	set(&c.Log.Level, KeyLogLevel)
	set(&c.Env, KeyEnv)
}

func (c *Config) setDefaults() {
	if c.Proxy.ListenAddress == "" {
		c.Proxy.ListenAddress = DefaultListenAddress
	}
	c.Proxy.BaseURL = strings.TrimRight(c.Proxy.BaseURL, "/")
	if c.Proxy.MaxInFlight <= 0 {
		c.Proxy.MaxInFlight = DefaultMaxInFlight
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultKeyPrefix
	}
	def := events.DefaultOptions()
	if c.Events.PollInterval <= 0 {
		c.Events.PollInterval = def.PollInterval
	}
	if c.Events.Lifetime <= 0 {
		c.Events.Lifetime = def.Lifetime
	}
	if c.Events.CacheSize <= 0 {
		c.Events.CacheSize = def.CacheSize
	}
	if c.Events.SweepInterval <= 0 {
		c.Events.SweepInterval = def.SweepInterval
	}
	if c.Events.WaitStep <= 0 {
		c.Events.WaitStep = def.WaitStep
	}
	for i := range c.Cameras {
		c.Cameras[i] = c.Cameras[i].WithDefaults()
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Proxy.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("proxy.listen_address %q: %v", c.Proxy.ListenAddress, err))
	}
	if c.Proxy.BaseURL != "" && !strings.HasPrefix(c.Proxy.BaseURL, "http://") && !strings.HasPrefix(c.Proxy.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("proxy.base_url %q must start with http:// or https://", c.Proxy.BaseURL))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console|json", c.Log.Format))
	}

	seen := make(map[string]struct{}, len(c.Cameras))
	for i, cam := range c.Cameras {
		if err := registry.Validate(cam); err != nil {
			errs = append(errs, fmt.Errorf("cameras[%d]: %v", i, err))
			continue
		}
		if _, dup := seen[cam.ID]; dup {
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate id %q", i, cam.ID))
		}
		seen[cam.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ListenPort returns the port part of the listen address.
func (c *Config) ListenPort() string {
	_, port, err := net.SplitHostPort(c.Proxy.ListenAddress)
	if err != nil {
		return ""
	}
	return port
}
