package config

import (
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// String resolves key as a string.
func String(r Resolver, key, def string) string {
	s, err := cast.ToStringE(r.Get(key, def))
	if err != nil {
		return def
	}
	return s
}

// Int resolves key as an int.
func Int(r Resolver, key string, def int) int {
	i, err := cast.ToIntE(r.Get(key, def))
	if err != nil {
		return def
	}
	return i
}

// Bool resolves key as a bool. Strings such as "true", "1" and "yes" are
// accepted.
func Bool(r Resolver, key string, def bool) bool {
	switch v := r.Get(key, def).(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	b, err := cast.ToBoolE(r.Get(key, def))
	if err != nil {
		return def
	}
	return b
}

// Duration resolves key as a duration. Bare numbers are seconds, strings
// may use time.ParseDuration syntax ("90s", "1m30s").
func Duration(r Resolver, key string, def time.Duration) time.Duration {
	switch v := r.Get(key, def).(type) {
	case time.Duration:
		return v
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return def
		}
		return d
	case nil:
		return def
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
}

// FileMode resolves key as permission bits. Strings are parsed as octal
// ("0644", "755"); integers are taken as-is.
func FileMode(r Resolver, key string, def fs.FileMode) fs.FileMode {
	switch v := r.Get(key, def).(type) {
	case fs.FileMode:
		return v
	case string:
		m, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(v), "0o"), 8, 32)
		if err != nil {
			return def
		}
		return fs.FileMode(m).Perm()
	default:
		m, err := cast.ToUint32E(v)
		if err != nil {
			return def
		}
		return fs.FileMode(m).Perm()
	}
}
