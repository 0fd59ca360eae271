// Package config parses the client daemon's YAML configuration file:
// the key set of spec §6, typed and defaulted. Grounded on the
// teacher's general flags/config style (plain structs unmarshalled by
// a library, rather than a hand-rolled flag parser) and on
// gopkg.in/yaml.v2, the library the rest of the pack's serving tools
// use for structured config.
package config

import (
	"os"
	"time"

	"boxbackup.io/boxerrors"
	yaml "gopkg.in/yaml.v2"
)

// Location is one configured backup source: a local path and a list
// of glob-style exclude patterns, matching spec §6's BackupLocations
// subsections.
type Location struct {
	Path    string   `yaml:"Path"`
	Exclude []string `yaml:"Exclude"`
}

// Config is the parsed, defaulted form of a client daemon's config
// file.
type Config struct {
	StoreHostname   string `yaml:"StoreHostname"`
	AccountNumber   uint32 `yaml:"AccountNumber"`
	CertificateFile string `yaml:"CertificateFile"`
	PrivateKeyFile  string `yaml:"PrivateKeyFile"`
	TrustedCAsFile  string `yaml:"TrustedCAsFile"`
	KeysFile        string `yaml:"KeysFile"`
	DataDirectory   string `yaml:"DataDirectory"`
	CommandSocket   string `yaml:"CommandSocket"`
	NotifyScript    string `yaml:"NotifyScript"`
	SyncAllowScript string `yaml:"SyncAllowScript"`

	AutomaticBackup bool `yaml:"AutomaticBackup"`

	UpdateStoreIntervalSeconds   int `yaml:"UpdateStoreInterval"`
	MinimumFileAgeSeconds        int `yaml:"MinimumFileAge"`
	MaxUploadWaitSeconds         int `yaml:"MaxUploadWait"`
	MaxFileTimeInFutureSeconds   int `yaml:"MaxFileTimeInFuture"`
	FileTrackingSizeThreshold    int64 `yaml:"FileTrackingSizeThreshold"`
	DiffingUploadSizeThreshold   int64 `yaml:"DiffingUploadSizeThreshold"`
	MaximumDiffingTimeSeconds    int `yaml:"MaximumDiffingTime"`
	KeepAliveTimeSeconds         int `yaml:"KeepAliveTime"`

	ExtendedLogging    bool   `yaml:"ExtendedLogging"`
	StoreObjectInfoFile string `yaml:"StoreObjectInfoFile"`

	BackupLocations map[string]Location `yaml:"BackupLocations"`
}

// UpdateStoreInterval, MinimumFileAge, MaxUploadWait,
// MaxFileTimeInFuture, MaximumDiffingTime and KeepAliveTime expose the
// second-granularity config fields as time.Duration for callers that
// don't want to do the multiplication themselves.
func (c *Config) UpdateStoreInterval() time.Duration { return time.Duration(c.UpdateStoreIntervalSeconds) * time.Second }
func (c *Config) MinimumFileAge() time.Duration       { return time.Duration(c.MinimumFileAgeSeconds) * time.Second }
func (c *Config) MaxUploadWait() time.Duration        { return time.Duration(c.MaxUploadWaitSeconds) * time.Second }
func (c *Config) MaxFileTimeInFuture() time.Duration  { return time.Duration(c.MaxFileTimeInFutureSeconds) * time.Second }

// MaximumDiffingTime returns 0 (disabled) when the config value is 0
// or unset, rather than a zero-length timeout — matching the original
// source's treatment of a zero timer as inactive rather than "abort
// immediately" (see DESIGN.md).
func (c *Config) MaximumDiffingTime() time.Duration {
	if c.MaximumDiffingTimeSeconds <= 0 {
		return 0
	}
	return time.Duration(c.MaximumDiffingTimeSeconds) * time.Second
}

// KeepAliveTime returns 0 (disabled) when unset, matching
// "keep-alive default off (0 = disabled)".
func (c *Config) KeepAliveTime() time.Duration {
	if c.KeepAliveTimeSeconds <= 0 {
		return 0
	}
	return time.Duration(c.KeepAliveTimeSeconds) * time.Second
}

var requiredKeys = []struct {
	name string
	ok   func(*Config) bool
}{
	{"StoreHostname", func(c *Config) bool { return c.StoreHostname != "" }},
	{"AccountNumber", func(c *Config) bool { return c.AccountNumber != 0 }},
	{"KeysFile", func(c *Config) bool { return c.KeysFile != "" }},
	{"DataDirectory", func(c *Config) bool { return c.DataDirectory != "" }},
}

func defaults() Config {
	return Config{
		UpdateStoreIntervalSeconds: 3600,
		MinimumFileAgeSeconds:      3600,
		MaxUploadWaitSeconds:       3600 * 12,
		FileTrackingSizeThreshold:  4096,
		DiffingUploadSizeThreshold: 4096,
	}
}

// Load reads and parses path, returning typed, defaulted values.
// Unknown keys, missing required keys, and invalid values are all
// reported as boxerrors.Config.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Config, err)
	}

	cfg := defaults()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("parsing %s: %w", path, err))
	}

	for _, req := range requiredKeys {
		if !req.ok(&cfg) {
			return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("missing required key %s", req.name))
		}
	}
	if cfg.UpdateStoreIntervalSeconds < 0 || cfg.MinimumFileAgeSeconds < 0 ||
		cfg.MaxUploadWaitSeconds < 0 || cfg.MaximumDiffingTimeSeconds < 0 ||
		cfg.KeepAliveTimeSeconds < 0 {
		return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("negative duration in %s", path))
	}
	for name, loc := range cfg.BackupLocations {
		if loc.Path == "" {
			return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("backup location %q has no Path", name))
		}
	}
	return &cfg, nil
}
