package sftp

import (
	"log/slog"
	"time"

	"github.com/pkg/sftp"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// DefaultNamespace is the configuration namespace read by New.
const DefaultNamespace = "filesystem.sftp"

// Defaults
const (
	DefaultPort     = 22
	DefaultRoot     = "/"
	DefaultTimeout  = 10 * time.Second
	DefaultMaxTries = 4
)

// Descriptor holds the resolved settings of an SFTP disk.
type Descriptor struct {
	diskit.ConnectionDescriptor

	// PrivateKey is PEM data or the path of a key file.
	PrivateKey string `key:"privatekey"`
	Passphrase string `key:"passphrase"`
	UseAgent   bool   `key:"useagent"`

	// Fingerprint pins the host key, either "SHA256:..." or a legacy
	// MD5 hex digest.
	Fingerprint string `key:"fingerprint"`

	Visibility  diskit.Visibility      `key:"visibility.default" validate:"oneof=public private"`
	Permissions diskit.PermissionTable `key:"visibility"`
}

func defaultConnection() diskit.ConnectionDescriptor {
	return diskit.ConnectionDescriptor{
		Port:     DefaultPort,
		Root:     DefaultRoot,
		Timeout:  DefaultTimeout,
		MaxTries: DefaultMaxTries,
		Extra: map[string]any{
			"privatekey":  "",
			"passphrase":  "",
			"useagent":    false,
			"fingerprint": "",
		},
	}
}

type settings struct {
	namespace string
	disk      string
	logger    *slog.Logger
	dialer    Dialer
	client    *sftp.Client
	overrides []func(*Descriptor)
}

// AdapterOption configures the SFTP adapter. Options win over
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

// WithDialer replaces the function opening sessions.
func WithDialer(dialer Dialer) AdapterOption {
	return func(s *settings) { s.dialer = dialer }
}

// WithClient uses an established client for the first session.
func WithClient(client *sftp.Client) AdapterOption {
	return func(s *settings) { s.client = client }
}

// WithHost sets the server host.
func WithHost(host string) AdapterOption {
	return override(func(d *Descriptor) { d.Host = host })
}

// WithPort sets the server port.
func WithPort(port int) AdapterOption {
	return override(func(d *Descriptor) { d.Port = port })
}

// WithCredentials sets user name and password.
func WithCredentials(username, password string) AdapterOption {
	return override(func(d *Descriptor) {
		d.Username = username
		d.Credential = password
	})
}

// WithPrivateKey authenticates with a key given as PEM data or a file
// path.
func WithPrivateKey(key, passphrase string) AdapterOption {
	return override(func(d *Descriptor) {
		d.PrivateKey = key
		d.Passphrase = passphrase
	})
}

// WithAgent authenticates with the keys of the running ssh-agent.
func WithAgent(enabled bool) AdapterOption {
	return override(func(d *Descriptor) { d.UseAgent = enabled })
}

// WithFingerprint pins the host key.
func WithFingerprint(fingerprint string) AdapterOption {
	return override(func(d *Descriptor) { d.Fingerprint = fingerprint })
}

// WithRoot sets the directory all paths are resolved against.
func WithRoot(root string) AdapterOption {
	return override(func(d *Descriptor) { d.Root = root })
}

// WithTimeout sets the connection timeout.
func WithTimeout(timeout time.Duration) AdapterOption {
	return override(func(d *Descriptor) { d.Timeout = timeout })
}

// WithMaxTries sets how often a lost session is redialed.
func WithMaxTries(n int) AdapterOption {
	return override(func(d *Descriptor) { d.MaxTries = n })
}

// WithPermissions sets the visibility table.
func WithPermissions(table diskit.PermissionTable) AdapterOption {
	return override(func(d *Descriptor) { d.Permissions = table })
}

func resolve(r config.Resolver, s settings) (Descriptor, error) {
	conn := diskit.ResolveConnection(r, s.namespace, defaultConnection())
	d := Descriptor{
		ConnectionDescriptor: conn,
		PrivateKey:           conn.ExtraString("privatekey"),
		Passphrase:           conn.ExtraString("passphrase"),
		UseAgent:             conn.ExtraBool("useagent"),
		Fingerprint:          conn.ExtraString("fingerprint"),
		Visibility:           diskit.ParseVisibility(config.String(r, config.Key(s.namespace, "visibility", "default"), string(diskit.Public))),
		Permissions:          diskit.ResolvePermissions(r, s.namespace, diskit.DefaultPermissions),
	}
	for _, o := range s.overrides {
		o(&d)
	}

	if err := diskit.ValidateDescriptor(s.disk, s.namespace, d); err != nil {
		return Descriptor{}, err
	}
	if d.Username == "" {
		return Descriptor{}, &diskit.ConfigError{Disk: s.disk, Key: config.Key(s.namespace, "username"), Reason: "required value is missing"}
	}
	if d.Credential == "" && d.PrivateKey == "" && !d.UseAgent {
		return Descriptor{}, &diskit.ConfigError{Disk: s.disk, Key: config.Key(s.namespace, "password"), Reason: "no authentication method configured"}
	}
	return d, nil
}
