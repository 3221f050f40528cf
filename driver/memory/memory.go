// Package memory provides an in-memory diskit.Adapter. Nothing is
// persisted; the contents live as long as the adapter.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// DefaultNamespace is the configuration namespace read by New.
const DefaultNamespace = "filesystem.inmemory"

// Descriptor holds the resolved settings of a memory disk.
type Descriptor struct {
	// Visibility applied when a write does not specify one.
	Visibility diskit.Visibility `key:"visibility" validate:"oneof=public private"`

	// MaxSize limits the total stored bytes, 0 means unlimited.
	MaxSize int64 `key:"maxSize" validate:"min=0"`
}

type settings struct {
	namespace string
	disk      string
	logger    *slog.Logger
	overrides []func(*Descriptor)
}

// AdapterOption configures the memory adapter. Options win over
// configuration values.
type AdapterOption func(*settings)

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

// WithVisibility sets the default visibility.
func WithVisibility(v diskit.Visibility) AdapterOption {
	return func(s *settings) {
		s.overrides = append(s.overrides, func(d *Descriptor) { d.Visibility = v })
	}
}

// WithMaxSize limits the total stored bytes.
func WithMaxSize(n int64) AdapterOption {
	return func(s *settings) {
		s.overrides = append(s.overrides, func(d *Descriptor) { d.MaxSize = n })
	}
}

// memoryFile represents a file stored in memory
type memoryFile struct {
	content     []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
	visibility  diskit.Visibility
}

// memoryDir represents a directory in memory
type memoryDir struct {
	modTime    time.Time
	visibility diskit.Visibility
}

// Adapter is an in-memory implementation of diskit.Adapter. It is safe
// for concurrent use.
type Adapter struct {
	disk       string
	descriptor Descriptor
	logger     *slog.Logger

	mu    sync.RWMutex
	files map[string]*memoryFile
	dirs  map[string]*memoryDir
	size  int64
}

// New creates a memory adapter configured from r. A nil resolver uses
// the defaults.
func New(r config.Resolver, options ...AdapterOption) (*Adapter, error) {
	if r == nil {
		r = config.New()
	}
	s := settings{namespace: DefaultNamespace, disk: "inmemory", logger: diskit.NoopLogger()}
	for _, opt := range options {
		opt(&s)
	}

	d := Descriptor{
		Visibility: diskit.ParseVisibility(config.String(r, config.Key(s.namespace, "visibility"), string(diskit.Public))),
		MaxSize:    int64(config.Int(r, config.Key(s.namespace, "maxSize"), 0)),
	}
	for _, o := range s.overrides {
		o(&d)
	}
	if err := diskit.ValidateDescriptor(s.disk, s.namespace, d); err != nil {
		return nil, err
	}

	a := &Adapter{
		disk:       s.disk,
		descriptor: d,
		logger:     s.logger,
		files:      make(map[string]*memoryFile),
		dirs:       make(map[string]*memoryDir),
	}
	a.dirs[""] = &memoryDir{modTime: time.Now(), visibility: d.Visibility}
	return a, nil
}

// Descriptor returns the resolved settings.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

func (a *Adapter) Disk() string {
	return a.disk
}

// Close drops every stored file.
func (a *Adapter) Close() error {
	a.Clear()
	return nil
}

func (a *Adapter) pathErr(op, p string, kind error, cause error) error {
	return diskit.NewPathError(op, a.disk, p, kind, cause)
}

// ============================================================================
// Reading
// ============================================================================

func (a *Adapter) FileExists(ctx context.Context, p string) bool {
	if ctx.Err() != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.files[clean(p)]
	return ok
}

func (a *Adapter) DirectoryExists(ctx context.Context, p string) bool {
	if ctx.Err() != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.dirs[clean(p)]
	return ok
}

// withFile runs fn on the file at p under the read lock.
func (a *Adapter) withFile(ctx context.Context, op, p string, fn func(*memoryFile)) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr(op, p, diskit.ErrConnection, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	file, ok := a.files[clean(p)]
	if !ok {
		return a.pathErr(op, p, diskit.ErrNotFound, nil)
	}
	fn(file)
	return nil
}

// Read returns a copy of the stored content.
func (a *Adapter) Read(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := a.withFile(ctx, "read", p, func(f *memoryFile) { data = bytes.Clone(f.content) })
	return data, err
}

func (a *Adapter) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	var data []byte
	if err := a.withFile(ctx, "readstream", p, func(f *memoryFile) { data = bytes.Clone(f.content) }); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *Adapter) FileSize(ctx context.Context, p string) (int64, error) {
	var size int64
	err := a.withFile(ctx, "filesize", p, func(f *memoryFile) { size = int64(len(f.content)) })
	return size, err
}

func (a *Adapter) MimeType(ctx context.Context, p string) (string, error) {
	var mimeType string
	err := a.withFile(ctx, "mimetype", p, func(f *memoryFile) { mimeType = f.contentType })
	return mimeType, err
}

func (a *Adapter) LastModified(ctx context.Context, p string) (time.Time, error) {
	var modTime time.Time
	err := a.withFile(ctx, "lastmodified", p, func(f *memoryFile) { modTime = f.modTime })
	return modTime, err
}

// Visibility reports the visibility of a file or directory.
func (a *Adapter) Visibility(ctx context.Context, p string) (diskit.Visibility, error) {
	if err := ctx.Err(); err != nil {
		return diskit.Unknown, a.pathErr("visibility", p, diskit.ErrUnableToRetrieveMetadata, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	p = clean(p)
	if file, ok := a.files[p]; ok {
		return file.visibility, nil
	}
	if dir, ok := a.dirs[p]; ok {
		return dir.visibility, nil
	}
	return diskit.Unknown, a.pathErr("visibility", p, diskit.ErrNotFound, nil)
}

// ListContents lists a snapshot taken when iteration starts, sorted by
// path.
func (a *Adapter) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[diskit.Entry, error] {
	return func(yield func(diskit.Entry, error) bool) {
		entries, err := a.snapshot(ctx, clean(p), deep)
		if err != nil {
			yield(diskit.Entry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (a *Adapter) snapshot(ctx context.Context, dir string, deep bool) ([]diskit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, a.pathErr("listcontents", dir, diskit.ErrConnection, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.dirs[dir]; !ok {
		return nil, a.pathErr("listcontents", dir, diskit.ErrNotFound, nil)
	}

	var entries []diskit.Entry
	for p, d := range a.dirs {
		if p != "" && isBelow(p, dir, deep) {
			entries = append(entries, diskit.Entry{
				Path:         p,
				Type:         diskit.EntryDirectory,
				LastModified: d.modTime,
				Visibility:   d.visibility,
			})
		}
	}
	for p, f := range a.files {
		if isBelow(p, dir, deep) {
			entries = append(entries, diskit.Entry{
				Path:         p,
				Type:         diskit.EntryFile,
				Size:         int64(len(f.content)),
				LastModified: f.modTime,
				Visibility:   f.visibility,
				MimeType:     f.contentType,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ============================================================================
// Writing
// ============================================================================

func (a *Adapter) Write(ctx context.Context, p string, contents []byte, options ...diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("write", p, diskit.ErrWrite, err)
	}
	p = clean(p)
	opts := diskit.ApplyOptions(options)
	data := bytes.Clone(contents)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, isDir := a.dirs[p]; isDir {
		return a.pathErr("write", p, diskit.ErrWrite, fmt.Errorf("%s is a directory", p))
	}

	newSize := a.size + int64(len(data))
	if existing, exists := a.files[p]; exists {
		newSize -= int64(len(existing.content))
	}
	if a.descriptor.MaxSize > 0 && newSize > a.descriptor.MaxSize {
		return a.pathErr("write", p, diskit.ErrWrite,
			fmt.Errorf("storage limit of %d bytes exceeded", a.descriptor.MaxSize))
	}

	if err := a.ensureDirs(path.Dir(p), opts.ForParents(a.descriptor.Visibility)); err != nil {
		return a.pathErr("write", p, diskit.ErrWrite, err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = diskit.DetectMimeType(p, data)
	}

	a.files[p] = &memoryFile{
		content:     data,
		contentType: contentType,
		metadata:    maps.Clone(opts.Metadata),
		modTime:     time.Now(),
		visibility:  opts.ForFile(a.descriptor.Visibility),
	}
	a.size = newSize
	return nil
}

func (a *Adapter) WriteStream(ctx context.Context, p string, r io.Reader, options ...diskit.Option) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return a.pathErr("writestream", p, diskit.ErrWrite, err)
	}
	return a.Write(ctx, p, data, options...)
}

// Append implements diskit.Appender.
func (a *Adapter) Append(ctx context.Context, p string, contents []byte) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("append", p, diskit.ErrWrite, err)
	}
	p = clean(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	file, ok := a.files[p]
	if !ok {
		return a.pathErr("append", p, diskit.ErrNotFound, nil)
	}
	if a.descriptor.MaxSize > 0 && a.size+int64(len(contents)) > a.descriptor.MaxSize {
		return a.pathErr("append", p, diskit.ErrWrite,
			fmt.Errorf("storage limit of %d bytes exceeded", a.descriptor.MaxSize))
	}
	file.content = append(file.content, contents...)
	file.modTime = time.Now()
	a.size += int64(len(contents))
	return nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("delete", p, diskit.ErrWrite, err)
	}
	p = clean(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	if file, ok := a.files[p]; ok {
		a.size -= int64(len(file.content))
		delete(a.files, p)
	}
	return nil
}

// DeleteDirectory removes a directory and everything below it. Deleting
// the root empties the adapter.
func (a *Adapter) DeleteDirectory(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("deletedirectory", p, diskit.ErrWrite, err)
	}
	p = clean(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	for fp, file := range a.files {
		if isBelow(fp, p, true) {
			a.size -= int64(len(file.content))
			delete(a.files, fp)
		}
	}
	for dp := range a.dirs {
		if dp != "" && (dp == p || isBelow(dp, p, true)) {
			delete(a.dirs, dp)
		}
	}
	return nil
}

func (a *Adapter) CreateDirectory(ctx context.Context, p string, options ...diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("createdirectory", p, diskit.ErrWrite, err)
	}
	p = clean(p)
	opts := diskit.ApplyOptions(options)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureDirs(path.Dir(p), opts.ForParents(a.descriptor.Visibility)); err != nil {
		return a.pathErr("createdirectory", p, diskit.ErrWrite, err)
	}
	if err := a.ensureDirs(p, opts.ForDirectory(a.descriptor.Visibility)); err != nil {
		return a.pathErr("createdirectory", p, diskit.ErrWrite, err)
	}
	return nil
}

func (a *Adapter) Copy(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("copy", source, diskit.ErrWrite, err)
	}
	source, destination = clean(source), clean(destination)
	opts := diskit.ApplyOptions(options)

	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.files[source]
	if !ok {
		return a.pathErr("copy", source, diskit.ErrNotFound, nil)
	}
	if source == destination {
		return nil
	}
	if _, isDir := a.dirs[destination]; isDir {
		return a.pathErr("copy", destination, diskit.ErrWrite, fmt.Errorf("%s is a directory", destination))
	}
	if err := a.ensureDirs(path.Dir(destination), opts.ForParents(a.descriptor.Visibility)); err != nil {
		return a.pathErr("copy", destination, diskit.ErrWrite, err)
	}

	if existing, ok := a.files[destination]; ok {
		a.size -= int64(len(existing.content))
	}
	a.files[destination] = &memoryFile{
		content:     bytes.Clone(src.content),
		contentType: src.contentType,
		metadata:    maps.Clone(src.metadata),
		modTime:     time.Now(),
		visibility:  opts.ForFile(src.visibility),
	}
	a.size += int64(len(src.content))
	return nil
}

func (a *Adapter) Move(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if clean(source) == clean(destination) {
		if !a.FileExists(ctx, source) {
			return a.pathErr("move", source, diskit.ErrNotFound, nil)
		}
		return nil
	}
	if err := a.Copy(ctx, source, destination, options...); err != nil {
		return err
	}
	return a.Delete(ctx, source)
}

func (a *Adapter) SetVisibility(ctx context.Context, p string, visibility diskit.Visibility) error {
	if err := ctx.Err(); err != nil {
		return a.pathErr("setvisibility", p, diskit.ErrUnableToSetVisibility, err)
	}
	p = clean(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	if file, ok := a.files[p]; ok {
		file.visibility = visibility
		return nil
	}
	if dir, ok := a.dirs[p]; ok {
		dir.visibility = visibility
		return nil
	}
	return a.pathErr("setvisibility", p, diskit.ErrUnableToSetVisibility, diskit.ErrNotFound)
}

// Checksum implements diskit.Checksummer.
func (a *Adapter) Checksum(ctx context.Context, p string, algorithm diskit.ChecksumAlgorithm) (string, error) {
	data, err := a.Read(ctx, p)
	if err != nil {
		return "", err
	}
	sum, err := diskit.CalculateChecksum(bytes.NewReader(data), algorithm)
	if err != nil {
		return "", a.pathErr("checksum", p, diskit.ErrUnableToRetrieveMetadata, err)
	}
	return sum, nil
}

// ============================================================================
// Helpers
// ============================================================================

// Clear removes all files and directories except the root.
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.files = make(map[string]*memoryFile)
	root := a.dirs[""]
	a.dirs = map[string]*memoryDir{"": root}
	a.size = 0
}

// Size returns the total stored bytes.
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// FileCount returns the number of stored files.
func (a *Adapter) FileCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// ensureDirs creates dir and its missing parents. Caller holds a.mu.
func (a *Adapter) ensureDirs(dir string, visibility diskit.Visibility) error {
	dir = clean(dir)
	if dir == "" {
		return nil
	}
	if _, ok := a.dirs[dir]; ok {
		return nil
	}
	if _, ok := a.files[dir]; ok {
		return fmt.Errorf("%s is a file", dir)
	}
	if err := a.ensureDirs(path.Dir(dir), visibility); err != nil {
		return err
	}
	a.dirs[dir] = &memoryDir{modTime: time.Now(), visibility: visibility}
	return nil
}

func clean(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// isBelow reports whether p lies inside dir; only direct children unless
// deep.
func isBelow(p, dir string, deep bool) bool {
	rel := p
	if dir != "" {
		var ok bool
		rel, ok = strings.CutPrefix(p, dir+"/")
		if !ok {
			return false
		}
	}
	if rel == "" {
		return false
	}
	return deep || !strings.Contains(rel, "/")
}

var (
	_ diskit.Adapter     = (*Adapter)(nil)
	_ diskit.Appender    = (*Adapter)(nil)
	_ diskit.Checksummer = (*Adapter)(nil)
)
