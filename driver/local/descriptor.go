package local

import (
	"log/slog"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// DefaultNamespace is the configuration namespace read by New.
const DefaultNamespace = "filesystem.local"

// WriteMode selects how file contents are written.
type WriteMode string

const (
	// LockExclusive takes an exclusive flock on the file while writing.
	LockExclusive WriteMode = "exclusive"
	// LockAtomic writes a temporary file and renames it into place.
	LockAtomic WriteMode = "atomic"
	// LockNone writes in place without locking.
	LockNone WriteMode = "none"
)

// LinkPolicy decides what listings do with symbolic links.
type LinkPolicy string

const (
	// DisallowLinks fails a listing that meets a symbolic link.
	DisallowLinks LinkPolicy = "disallow"
	// SkipLinks leaves symbolic links out of listings.
	SkipLinks LinkPolicy = "skip"
)

// Descriptor holds the resolved settings of a local disk.
type Descriptor struct {
	Root        string                 `key:"root" validate:"required"`
	Lock        WriteMode              `key:"lock" validate:"oneof=exclusive atomic none"`
	Links       LinkPolicy             `key:"links" validate:"oneof=disallow skip"`
	Visibility  diskit.Visibility      `key:"visibility.default" validate:"oneof=public private"`
	Permissions diskit.PermissionTable `key:"visibility"`
}

// Defaults
const (
	DefaultRoot = "/var/www"
)

type settings struct {
	namespace string
	disk      string
	logger    *slog.Logger
	overrides []func(*Descriptor)
}

// AdapterOption configures the local adapter. Options win over
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

// WithRoot sets the root directory.
func WithRoot(root string) AdapterOption {
	return override(func(d *Descriptor) { d.Root = root })
}

// WithWriteMode sets the write mode.
func WithWriteMode(mode WriteMode) AdapterOption {
	return override(func(d *Descriptor) { d.Lock = mode })
}

// WithLinks sets the symbolic link policy.
func WithLinks(policy LinkPolicy) AdapterOption {
	return override(func(d *Descriptor) { d.Links = policy })
}

// WithPermissions sets the visibility table.
func WithPermissions(table diskit.PermissionTable) AdapterOption {
	return override(func(d *Descriptor) { d.Permissions = table })
}

// WithDefaultVisibility sets the visibility used when a write names none.
func WithDefaultVisibility(v diskit.Visibility) AdapterOption {
	return override(func(d *Descriptor) { d.Visibility = v })
}

func resolve(r config.Resolver, s settings) (Descriptor, error) {
	key := func(parts ...string) string { return config.Key(s.namespace, parts...) }

	d := Descriptor{
		Root:        config.String(r, key("root"), DefaultRoot),
		Lock:        WriteMode(config.String(r, key("lock"), string(LockExclusive))),
		Links:       LinkPolicy(config.String(r, key("links"), string(DisallowLinks))),
		Visibility:  diskit.ParseVisibility(config.String(r, key("visibility", "default"), string(diskit.Public))),
		Permissions: diskit.ResolvePermissions(r, s.namespace, diskit.DefaultPermissions),
	}
	for _, o := range s.overrides {
		o(&d)
	}
	if err := diskit.ValidateDescriptor(s.disk, s.namespace, d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
