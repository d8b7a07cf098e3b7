// Package config provides configuration management for trial licensing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (TRIAL_CACHE_DURATION, ...).
const EnvPrefix = "TRIAL"

const (
	DefaultTrialDays                 = 7
	DefaultTimeSourceTimeout         = time.Second
	DefaultSourceRotation            = time.Minute
	DefaultCacheDuration             = 30 * time.Minute
	DefaultSecondaryWriteProbability = 0.05
	DefaultRegistryValue             = "LicenseData"
)

// DefaultTimeSources are queried one at a time, rotating every
// SourceRotation.
var DefaultTimeSources = []string{
	"http://worldtimeapi.org/api/ip",
	"https://timeapi.io/api/Time/current/zone?timeZone=UTC",
	"https://www.timeapi.io/api/Time/current/zone?timeZone=UTC",
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid trial configuration")

// TrialConfig holds the trial guard configuration.
//
// The identity fields (app name, trial length, storage locations, salt) are
// fixed by the host in code. Neither the config file nor the environment
// can change them; only the operational settings below them are loaded.
type TrialConfig struct {
	AppName   string `yaml:"-" ignored:"true" validate:"required"`
	TrialDays int    `yaml:"-" ignored:"true" validate:"gte=1"`

	LicenseFile   string `yaml:"-" ignored:"true"`
	RegistryKey   string `yaml:"-" ignored:"true"`
	RegistryValue string `yaml:"-" ignored:"true"`
	Salt          string `yaml:"-" ignored:"true"`

	OnlineVerification bool `yaml:"online_verification" envconfig:"ONLINE_VERIFICATION"`

	TimeSources       []string      `yaml:"time_sources,omitempty" envconfig:"TIME_SOURCES" validate:"dive,url"`
	TimeSourceTimeout time.Duration `yaml:"time_source_timeout" envconfig:"TIME_SOURCE_TIMEOUT" validate:"gt=0"`
	SourceRotation    time.Duration `yaml:"source_rotation" envconfig:"SOURCE_ROTATION" validate:"gt=0"`
	MinFetchInterval  time.Duration `yaml:"min_fetch_interval,omitempty" envconfig:"MIN_FETCH_INTERVAL" validate:"gte=0"`

	CacheDuration             time.Duration `yaml:"cache_duration" envconfig:"CACHE_DURATION" validate:"gte=0"`
	SecondaryWriteProbability float64       `yaml:"secondary_write_probability" envconfig:"SECONDARY_WRITE_PROBABILITY" validate:"gte=0,lte=1"`

	Proxy ProxyConfig `yaml:"proxy,omitempty" envconfig:"PROXY"`
}

// ProxyConfig holds outbound proxy settings for time source requests.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty" envconfig:"HTTP" validate:"omitempty,url"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty" envconfig:"HTTPS" validate:"omitempty,url"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty" envconfig:"SOCKS5" validate:"omitempty,url"`
	NoProxy     string `yaml:"no_proxy,omitempty" envconfig:"NO_PROXY"`
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// Default returns the default configuration for appName with every derived
// field filled in.
func Default(appName string) *TrialConfig {
	cfg := &TrialConfig{
		AppName:                   appName,
		TrialDays:                 DefaultTrialDays,
		OnlineVerification:        true,
		TimeSourceTimeout:         DefaultTimeSourceTimeout,
		SourceRotation:            DefaultSourceRotation,
		CacheDuration:             DefaultCacheDuration,
		SecondaryWriteProbability: DefaultSecondaryWriteProbability,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills fields that derive from AppName and restores the
// default time source list when none is configured.
func (c *TrialConfig) ApplyDefaults() {
	if len(c.TimeSources) == 0 {
		c.TimeSources = append([]string(nil), DefaultTimeSources...)
	}
	if c.RegistryValue == "" {
		c.RegistryValue = DefaultRegistryValue
	}
	if c.AppName == "" {
		return
	}
	if c.LicenseFile == "" {
		c.LicenseFile = DefaultLicenseFile(c.AppName)
	}
	if c.RegistryKey == "" {
		c.RegistryKey = `Software\` + compactName(c.AppName)
	}
	if c.Salt == "" {
		c.Salt = c.AppName + "Salt"
	}
}

// Validate checks the configuration.
func (c *TrialConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Load reads the operational settings from path on top of base, applies
// TRIAL_* environment overrides and fills derived defaults. base carries the
// host's identity fields and is not modified; nil means Default(""). If the
// file does not exist base is used as is. The result is not validated.
func Load(path string, base *TrialConfig) (*TrialConfig, error) {
	if base == nil {
		base = Default("")
	}
	c := *base
	c.TimeSources = append([]string(nil), base.TimeSources...)
	cfg := &c

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes the configuration to path, creating directories as needed.
func (c *TrialConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// DefaultConfigDir returns the per-user config directory for appName.
func DefaultConfigDir(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config directory: %w", err)
	}
	return filepath.Join(dir, compactName(appName)), nil
}

// DefaultConfigPath returns <config dir>/trial.yml for appName.
func DefaultConfigPath(appName string) (string, error) {
	dir, err := DefaultConfigDir(appName)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "trial.yml"), nil
}

// DefaultLicenseFile returns ~/.<app name, lower case, spaces as
// underscores>_license. Without a home directory the file is relative to the
// working directory.
func DefaultLicenseFile(appName string) string {
	name := "." + strings.ReplaceAll(strings.ToLower(appName), " ", "_") + "_license"
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, name)
}

func compactName(appName string) string {
	return strings.ReplaceAll(appName, " ", "")
}
