package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conn-castle/keg/internal/messages"
)

// Environment variables that relocate keg.
const (
	EnvPrefix = "KEG_PREFIX"
	EnvConfig = "KEG_CONFIG"
)

const (
	defaultPrefix  = "~/.keg"
	configFileName = "keg.toml"
)

// Paths holds the resolved prefix and config file location.
type Paths struct {
	Prefix     string
	ConfigPath string
}

// ResolvePaths picks the prefix from flag, then $KEG_PREFIX, then ~/.keg, and
// the config file from $KEG_CONFIG, then <prefix>/keg.toml.
func ResolvePaths(flag string, lookupEnv func(string) (string, bool)) (Paths, error) {
	raw := strings.TrimSpace(flag)
	if raw == "" {
		if value, ok := lookupEnv(EnvPrefix); ok && strings.TrimSpace(value) != "" {
			raw = value
		}
	}
	if raw == "" {
		raw = defaultPrefix
	}
	prefix, err := absPath(raw)
	if err != nil {
		return Paths{}, fmt.Errorf(messages.ConfigPrefixResolveFmt, raw, err)
	}

	configPath := filepath.Join(prefix, configFileName)
	if value, ok := lookupEnv(EnvConfig); ok && strings.TrimSpace(value) != "" {
		configPath, err = absPath(value)
		if err != nil {
			return Paths{}, fmt.Errorf(messages.ConfigPathResolveFmt, value, err)
		}
	}
	return Paths{Prefix: prefix, ConfigPath: configPath}, nil
}

func absPath(raw string) (string, error) {
	expanded, err := expandPath(raw)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
