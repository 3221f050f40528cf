// Package config resolves dotted configuration keys with default fallback.
//
// Keys are namespaced as filesystem.<disk>.<property>; a Resolver never
// fails a lookup, it returns the supplied default for anything unset.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tailscale/hujson"
)

// EnvPrefix is the prefix for environment overrides. The key
// filesystem.sftp.host is overridden by DISKIT_FILESYSTEM_SFTP_HOST.
const EnvPrefix = "DISKIT"

// Resolver reads a configuration value by dotted key, returning def when
// the key is absent.
type Resolver interface {
	Get(key string, def any) any
}

// Viper is a Resolver backed by a viper instance.
type Viper struct {
	v *viper.Viper
}

var _ Resolver = (*Viper)(nil)

// New returns an empty resolver that only honours environment overrides.
func New() *Viper {
	return NewViper(viper.New())
}

// NewViper wraps an existing viper instance. Environment overrides are
// enabled on it.
func NewViper(v *viper.Viper) *Viper {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Viper{v: v}
}

// FromMap builds a resolver from a nested map, for example
//
//	config.FromMap(map[string]any{
//		"filesystem": map[string]any{
//			"sftp": map[string]any{"host": "example.com"},
//		},
//	})
func FromMap(m map[string]any) *Viper {
	r := New()
	_ = r.v.MergeConfigMap(m) // never fails
	return r
}

// Load reads a configuration file. YAML, TOML and JSON are handled by
// viper; .jsonc and .hujson files are standardized to JSON first so they
// may carry comments and trailing commas.
func Load(path string) (*Viper, error) {
	v := viper.New()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonc", ".hujson":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		std, err := hujson.Standardize(raw)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewReader(std)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return NewViper(v), nil
}

// Get implements Resolver.
func (r *Viper) Get(key string, def any) any {
	if !r.v.IsSet(key) {
		return def
	}
	val := r.v.Get(key)
	if val == nil {
		return def
	}
	return val
}

// Set stores a value, mainly for programmatic wiring and tests.
func (r *Viper) Set(key string, value any) {
	r.v.Set(key, value)
}

// Key joins a namespace and property into a dotted key.
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + "." + strings.Join(parts, ".")
}
