package diskit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gobeaver/diskit/config"
)

var (
	// ErrManagerClosed is returned by a Manager after Close.
	ErrManagerClosed = errors.New("manager is closed")
)

// Manager owns the disks of an application. It builds exactly one
// adapter per disk name on first use and hands out the same Filesystem
// afterwards.
//
// Locations of the form "disk://path" address a file on a named disk and
// may be copied or moved across disks:
//
//	m := diskit.NewManager(resolver)
//	defer m.Close()
//
//	err := m.Copy(ctx, "sftp://reports/q1.csv", "awsS3://archive/q1.csv")
type Manager struct {
	resolver    config.Resolver
	logger      *slog.Logger
	defaultDisk string
	fsOptions   []FilesystemOption

	mu     sync.Mutex
	disks  map[string]*Filesystem
	closed bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger handed to every adapter and facade.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDefaultDisk sets the disk returned by Default.
func WithDefaultDisk(disk string) ManagerOption {
	return func(m *Manager) {
		m.defaultDisk = disk
	}
}

// WithFilesystemOptions adds options applied to every Filesystem built by
// the manager.
func WithFilesystemOptions(options ...FilesystemOption) ManagerOption {
	return func(m *Manager) {
		m.fsOptions = append(m.fsOptions, options...)
	}
}

// NewManager creates a manager resolving disks from r.
func NewManager(r config.Resolver, options ...ManagerOption) *Manager {
	m := &Manager{
		resolver:    r,
		logger:      NoopLogger(),
		defaultDisk: "local",
		disks:       make(map[string]*Filesystem),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// NewManagerFromEnv builds a manager from Settings: the configuration
// file, the default disk and the logger.
func NewManagerFromEnv() (*Manager, error) {
	settings, err := GetSettings()
	if err != nil {
		return nil, err
	}

	var r config.Resolver = config.New()
	if settings.ConfigFile != "" {
		loaded, err := config.Load(settings.ConfigFile)
		if err != nil {
			return nil, err
		}
		r = loaded
	}

	return NewManager(r,
		WithDefaultDisk(settings.DefaultDisk),
		WithManagerLogger(NewLogger(settings.LogLevel, settings.LogFormat, nil)),
	), nil
}

// Disk returns the Filesystem of the named disk, building its adapter on
// first use. Disks configured with readOnly reject every write.
func (m *Manager) Disk(name string) (*Filesystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if fs, ok := m.disks[name]; ok {
		return fs, nil
	}

	adapter, err := CreateAdapter(name, m.resolver, m.logger)
	if err != nil {
		return nil, err
	}
	if config.Bool(m.resolver, config.Key(Namespace(name), "readOnly"), false) {
		adapter = NewReadOnly(adapter)
	}

	options := append([]FilesystemOption{WithLogger(m.logger.With("disk", name))}, m.fsOptions...)
	fs := New(adapter, options...)
	m.disks[name] = fs

	m.logger.Debug("disk ready", "disk", name, "adapter", fmt.Sprintf("%T", adapter))
	return fs, nil
}

// Default returns the default disk.
func (m *Manager) Default() (*Filesystem, error) {
	return m.Disk(m.defaultDisk)
}

// Disks returns the names of the disks built so far.
func (m *Manager) Disks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.disks))
	for name := range m.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every adapter. The manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, fs := range m.disks {
		if err := fs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.disks = nil
	return errors.Join(errs...)
}

// ParseLocation splits "disk://path" into its disk and path.
func ParseLocation(location string) (disk, path string, err error) {
	disk, path, ok := strings.Cut(location, "://")
	if !ok || disk == "" {
		return "", "", NewPathError("parse", "", location, ErrInvalidPath,
			errors.New(`location must look like "disk://path"`))
	}
	return disk, path, nil
}

func (m *Manager) resolve(location string) (*Filesystem, string, error) {
	disk, p, err := ParseLocation(location)
	if err != nil {
		return nil, "", err
	}
	fs, err := m.Disk(disk)
	if err != nil {
		return nil, "", err
	}
	return fs, p, nil
}

// ============================================================================
// Cross-Disk Operations
// ============================================================================

// Read reads a file addressed as "disk://path".
func (m *Manager) Read(ctx context.Context, location string) ([]byte, error) {
	fs, p, err := m.resolve(location)
	if err != nil {
		return nil, err
	}
	return fs.Read(ctx, p)
}

// Write writes a file addressed as "disk://path".
func (m *Manager) Write(ctx context.Context, location string, contents []byte, options ...Option) error {
	fs, p, err := m.resolve(location)
	if err != nil {
		return err
	}
	return fs.Write(ctx, p, contents, options...)
}

// Copy copies a file between locations. Within one disk the adapter's
// native copy is used; across disks the file is streamed and keeps its
// visibility unless options override it.
func (m *Manager) Copy(ctx context.Context, source, destination string, options ...Option) error {
	srcFS, src, err := m.resolve(source)
	if err != nil {
		return err
	}
	dstFS, dst, err := m.resolve(destination)
	if err != nil {
		return err
	}

	if srcFS == dstFS {
		return srcFS.Copy(ctx, src, dst, options...)
	}

	reader, err := srcFS.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer reader.Close()

	if v, err := srcFS.Visibility(ctx, src); err == nil && v.Valid() {
		options = append([]Option{WithVisibility(v)}, options...)
	}
	return dstFS.WriteStream(ctx, dst, reader, options...)
}

// Move moves a file between locations. Across disks it copies and then
// deletes the source.
func (m *Manager) Move(ctx context.Context, source, destination string, options ...Option) error {
	srcFS, src, err := m.resolve(source)
	if err != nil {
		return err
	}
	dstFS, dst, err := m.resolve(destination)
	if err != nil {
		return err
	}

	if srcFS == dstFS {
		return srcFS.Move(ctx, src, dst, options...)
	}
	if err := m.Copy(ctx, source, destination, options...); err != nil {
		return err
	}
	return srcFS.Delete(ctx, src)
}
