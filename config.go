package diskit

import (
	envconfig "github.com/gobeaver/beaver-kit/config"
)

// Settings holds process level settings read from the environment. Disk
// parameters live in the configuration tree read by config.Resolver.
type Settings struct {
	// Disk returned by Manager.Default
	DefaultDisk string `env:"DISKIT_DEFAULT_DISK,default:local"`

	// Optional configuration file (yaml, toml, json, jsonc)
	ConfigFile string `env:"DISKIT_CONFIG_FILE"`

	// Logging
	LogLevel  string `env:"DISKIT_LOG_LEVEL,default:info"`
	LogFormat string `env:"DISKIT_LOG_FORMAT,default:text"`
}

// GetSettings returns settings loaded from environment
func GetSettings() (*Settings, error) {
	cfg := &Settings{}
	if err := envconfig.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetSettingsWithPrefix loads settings using a custom environment prefix
// instead of the default BEAVER_.
func GetSettingsWithPrefix(prefix string) (*Settings, error) {
	cfg := &Settings{}
	if err := envconfig.Load(cfg, envconfig.LoadOptions{Prefix: prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}
