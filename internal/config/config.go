package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

const (
	defaultFetchTimeout = 5 * time.Minute
	defaultFetchRetries = 3
	maxFetchRetries     = 10
)

// Config is the parsed keg.toml.
type Config struct {
	// Dirs is the global package config handed to every session (appdir, bindir, ...).
	Dirs    map[string]string `toml:"dirs"`
	Upgrade UpgradeConfig     `toml:"upgrade"`
	Fetch   FetchConfig       `toml:"fetch"`
	Metrics MetricsConfig     `toml:"metrics"`
}

// UpgradeConfig holds defaults for upgrade flags. Unset pointers defer to the flags.
type UpgradeConfig struct {
	Greedy      bool   `toml:"greedy"`
	Quarantine  *bool  `toml:"quarantine"`
	RequireSHA  *bool  `toml:"require_sha"`
	Binaries    *bool  `toml:"binaries"`
	ConfigMerge string `toml:"config_merge"`
}

// FetchConfig configures downloads.
type FetchConfig struct {
	Timeout    string `toml:"timeout"`
	Retries    *int   `toml:"retries"`
	S3Region   string `toml:"s3_region"`
	S3Endpoint string `toml:"s3_endpoint"`
}

// MetricsConfig configures the node_exporter textfile export.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// Default returns the config used when keg.toml does not exist.
func Default() *Config {
	return &Config{Dirs: map[string]string{}}
}

// Validate checks values and expands ~ in paths. source is used in error messages.
func (c *Config) Validate(source string) error {
	expanded := make(map[string]string, len(c.Dirs))
	for key, value := range c.Dirs {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf(messages.ConfigDirEmptyFmt, source, key)
		}
		path, err := expandPath(value)
		if err != nil {
			return fmt.Errorf(messages.ConfigDirInvalidFmt, source, key, err)
		}
		if !filepath.IsAbs(path) {
			return fmt.Errorf(messages.ConfigDirRelativeFmt, source, key, value)
		}
		expanded[key] = path
	}
	c.Dirs = expanded

	if _, err := upgrade.ParseMergePolicy(c.Upgrade.ConfigMerge); err != nil {
		return fmt.Errorf("%s: upgrade.config_merge: %w", source, err)
	}
	if c.Fetch.Timeout != "" {
		timeout, err := time.ParseDuration(c.Fetch.Timeout)
		if err != nil || timeout <= 0 {
			return fmt.Errorf(messages.ConfigFetchTimeoutInvalidFmt, source, c.Fetch.Timeout)
		}
	}
	if c.Fetch.Retries != nil && (*c.Fetch.Retries < 0 || *c.Fetch.Retries > maxFetchRetries) {
		return fmt.Errorf(messages.ConfigFetchRetriesRangeFmt, source, *c.Fetch.Retries, maxFetchRetries)
	}
	if c.Metrics.Textfile != "" {
		path, err := expandPath(c.Metrics.Textfile)
		if err != nil {
			return fmt.Errorf(messages.ConfigDirInvalidFmt, source, "metrics.textfile", err)
		}
		c.Metrics.Textfile = path
	}
	return nil
}

// GlobalConfig returns the [dirs] table as package config.
func (c *Config) GlobalConfig() upgrade.Config {
	return upgrade.Config(c.Dirs).Clone()
}

// MergePolicy returns the validated config_merge policy.
func (c *Config) MergePolicy() upgrade.MergePolicy {
	policy, err := upgrade.ParseMergePolicy(c.Upgrade.ConfigMerge)
	if err != nil {
		return upgrade.MergePreferGlobal
	}
	return policy
}

// FetchTimeout returns the per-download timeout.
func (c *Config) FetchTimeout() time.Duration {
	if c.Fetch.Timeout == "" {
		return defaultFetchTimeout
	}
	timeout, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil || timeout <= 0 {
		return defaultFetchTimeout
	}
	return timeout
}

// FetchRetries returns how many times a failed download is retried.
func (c *Config) FetchRetries() uint64 {
	if c.Fetch.Retries == nil {
		return defaultFetchRetries
	}
	return uint64(*c.Fetch.Retries)
}

func expandPath(value string) (string, error) {
	path, err := homedir.Expand(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}
