package ftp

import (
	"log/slog"
	"time"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// DefaultNamespace is the configuration namespace read by New.
const DefaultNamespace = "filesystem.ftp"

// Extra keys of the connection descriptor.
const (
	keySSL                  = "ssl"
	keyUTF8                 = "utf8"
	keyPassive              = "passive"
	keySystemType           = "systemType"
	keyIgnorePassiveAddress = "ignorePassiveAddress"
	keyTimestamps           = "timestampsOnUnixListingsEnabled"
	keyRecurseManually      = "recurseManually"
)

// Defaults
const (
	DefaultUsername = "anonymous"
	DefaultRoot     = "/var/www/"
	DefaultPort     = 21
	DefaultTimeout  = 90 * time.Second
	DefaultMaxTries = 4
)

// Descriptor holds the resolved settings of an FTP disk.
type Descriptor struct {
	diskit.ConnectionDescriptor

	SSL                  bool   `key:"ssl"`
	UTF8                 bool   `key:"utf8"`
	Passive              bool   `key:"passive" validate:"eq=true"`
	SystemType           string `key:"systemType" validate:"omitempty,oneof=unix windows"`
	IgnorePassiveAddress bool   `key:"ignorePassiveAddress"`
	Timestamps           bool   `key:"timestampsOnUnixListingsEnabled"`
	RecurseManually      bool   `key:"recurseManually"`
}

// Binary reports whether files are transferred in image mode.
func (d Descriptor) Binary() bool {
	return d.TransferMode != "ascii"
}

// manualRecursion reports whether deep listings must walk directory by
// directory.
func (d Descriptor) manualRecursion() bool {
	return d.RecurseManually || d.SystemType == "windows"
}

func defaultConnection() diskit.ConnectionDescriptor {
	return diskit.ConnectionDescriptor{
		Port:         DefaultPort,
		Username:     DefaultUsername,
		Root:         DefaultRoot,
		Timeout:      DefaultTimeout,
		MaxTries:     DefaultMaxTries,
		TransferMode: "binary",
		Extra: map[string]any{
			keySSL:                  false,
			keyUTF8:                 false,
			keyPassive:              true,
			keySystemType:           "",
			keyIgnorePassiveAddress: false,
			keyTimestamps:           false,
			keyRecurseManually:      true,
		},
	}
}

type settings struct {
	namespace string
	disk      string
	logger    *slog.Logger
	dialer    Dialer
	overrides []func(*Descriptor)
}

// AdapterOption configures the FTP adapter. Options win over
// configuration values.
type AdapterOption func(*settings)

func override(fn func(*Descriptor)) AdapterOption {
	return func(s *settings) { s.overrides = append(s.overrides, fn) }
}

// WithNamespace reads configuration from another namespace.
func WithNamespace(namespace string) AdapterOption {
	return func(s *settings) { s.namespace = namespace }
}

// WithDisk sets the disk name reported in errors.
func WithDisk(disk string) AdapterOption {
	return func(s *settings) { s.disk = disk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(s *settings) { s.logger = logger }
}

// WithDialer replaces the function opening control connections.
func WithDialer(dialer Dialer) AdapterOption {
	return func(s *settings) { s.dialer = dialer }
}

// WithHost sets the server host.
func WithHost(host string) AdapterOption {
	return override(func(d *Descriptor) { d.Host = host })
}

// WithPort sets the server port.
func WithPort(port int) AdapterOption {
	return override(func(d *Descriptor) { d.Port = port })
}

// WithCredentials sets the login.
func WithCredentials(username, password string) AdapterOption {
	return override(func(d *Descriptor) {
		d.Username = username
		d.Credential = password
	})
}

// WithRoot sets the directory all paths are resolved against.
func WithRoot(root string) AdapterOption {
	return override(func(d *Descriptor) { d.Root = root })
}

// WithTimeout sets the connection timeout.
func WithTimeout(timeout time.Duration) AdapterOption {
	return override(func(d *Descriptor) { d.Timeout = timeout })
}

// WithMaxTries sets how often a dead connection is redialed.
func WithMaxTries(n int) AdapterOption {
	return override(func(d *Descriptor) { d.MaxTries = n })
}

// WithSSL enables explicit TLS.
func WithSSL(enabled bool) AdapterOption {
	return override(func(d *Descriptor) { d.SSL = enabled })
}

// WithRecurseManually forces deep listings to walk each directory.
func WithRecurseManually(enabled bool) AdapterOption {
	return override(func(d *Descriptor) { d.RecurseManually = enabled })
}

// WithTimestamps enables timestamps taken from directory listings.
func WithTimestamps(enabled bool) AdapterOption {
	return override(func(d *Descriptor) { d.Timestamps = enabled })
}

// WithSystemType declares the server system type.
func WithSystemType(systemType string) AdapterOption {
	return override(func(d *Descriptor) { d.SystemType = systemType })
}

func resolve(r config.Resolver, s settings) (Descriptor, error) {
	conn := diskit.ResolveConnection(r, s.namespace, defaultConnection())
	d := Descriptor{
		ConnectionDescriptor: conn,
		SSL:                  conn.ExtraBool(keySSL),
		UTF8:                 conn.ExtraBool(keyUTF8),
		Passive:              conn.ExtraBool(keyPassive),
		SystemType:           conn.ExtraString(keySystemType),
		IgnorePassiveAddress: conn.ExtraBool(keyIgnorePassiveAddress),
		Timestamps:           conn.ExtraBool(keyTimestamps),
		RecurseManually:      conn.ExtraBool(keyRecurseManually),
	}
	for _, o := range s.overrides {
		o(&d)
	}
	if d.TransferMode != "binary" && d.TransferMode != "ascii" {
		return Descriptor{}, &diskit.ConfigError{
			Disk:   s.disk,
			Key:    config.Key(s.namespace, "transferMode"),
			Reason: "must be one of [binary ascii] (got " + d.TransferMode + ")",
		}
	}
	if err := diskit.ValidateDescriptor(s.disk, s.namespace, d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
