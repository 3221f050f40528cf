package diskit

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Filesystem is the facade application code talks to. It owns one
// Adapter, normalizes every path before handing it over, and adds
// utility operations that behave the same on every backend.
type Filesystem struct {
	adapter    Adapter
	normalizer PathNormalizer
	logger     *slog.Logger
	httpClient *http.Client
	strategies []ContentsStrategy
	locks      keyedMutex
}

// FilesystemOption configures a Filesystem.
type FilesystemOption func(*Filesystem)

// WithPathNormalizer replaces the default WhitespacePathNormalizer.
func WithPathNormalizer(n PathNormalizer) FilesystemOption {
	return func(f *Filesystem) {
		f.normalizer = n
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) FilesystemOption {
	return func(f *Filesystem) {
		f.logger = logger
	}
}

// WithHTTPClient sets the client used by the ExternalFetch strategy.
func WithHTTPClient(client *http.Client) FilesystemOption {
	return func(f *Filesystem) {
		f.httpClient = client
	}
}

// WithContentsStrategies replaces the GetContents fallback chain.
func WithContentsStrategies(strategies ...ContentsStrategy) FilesystemOption {
	return func(f *Filesystem) {
		f.strategies = strategies
	}
}

// New wraps adapter in a Filesystem.
func New(adapter Adapter, options ...FilesystemOption) *Filesystem {
	f := &Filesystem{
		adapter:    adapter,
		normalizer: WhitespacePathNormalizer{},
		logger:     NoopLogger(),
		httpClient: &http.Client{Timeout: ContentsTimeout},
		strategies: DefaultContentsStrategies(),
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Adapter returns the wrapped adapter.
func (f *Filesystem) Adapter() Adapter {
	return f.adapter
}

// Disk returns the backend identifier of the wrapped adapter.
func (f *Filesystem) Disk() string {
	return f.adapter.Disk()
}

// Close closes the wrapped adapter.
func (f *Filesystem) Close() error {
	return f.adapter.Close()
}

// NormalizePath normalizes p with the configured PathNormalizer.
func (f *Filesystem) NormalizePath(p string) (string, error) {
	return f.normalize("normalize", p)
}

// RemoveTrailingSlash strips trailing separators from s.
func (f *Filesystem) RemoveTrailingSlash(s string) string {
	return RemoveTrailingSlash(s)
}

// AddTrailingSlash makes s end in exactly one separator.
func (f *Filesystem) AddTrailingSlash(s string) string {
	return AddTrailingSlash(s)
}

func (f *Filesystem) normalize(op, p string) (string, error) {
	np, err := f.normalizer.NormalizePath(p)
	if err == nil {
		return np, nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return "", &PathError{Op: op, Disk: f.Disk(), Path: p, Err: pe.Err}
	}
	return "", NewPathError(op, f.Disk(), p, ErrInvalidPath, err)
}

// normalizeFile is normalize for operations that need a file path; the
// root is rejected.
func (f *Filesystem) normalizeFile(op, p string) (string, error) {
	np, err := f.normalize(op, p)
	if err != nil {
		return "", err
	}
	if np == "" {
		return "", NewPathError(op, f.Disk(), p, ErrInvalidPath, errors.New("path denotes the root"))
	}
	return np, nil
}

// ============================================================================
// Adapter Operations
// ============================================================================

// FileExists reports whether p is a file. Invalid paths report false.
func (f *Filesystem) FileExists(ctx context.Context, p string) bool {
	np, err := f.normalize("fileexists", p)
	if err != nil {
		return false
	}
	return f.adapter.FileExists(ctx, np)
}

// DirectoryExists reports whether p is a directory. Invalid paths report
// false.
func (f *Filesystem) DirectoryExists(ctx context.Context, p string) bool {
	np, err := f.normalize("directoryexists", p)
	if err != nil {
		return false
	}
	return f.adapter.DirectoryExists(ctx, np)
}

// Has reports whether p is a file or a directory.
func (f *Filesystem) Has(ctx context.Context, p string) bool {
	np, err := f.normalize("has", p)
	if err != nil {
		return false
	}
	return f.adapter.FileExists(ctx, np) || f.adapter.DirectoryExists(ctx, np)
}

func (f *Filesystem) Read(ctx context.Context, p string) ([]byte, error) {
	np, err := f.normalizeFile("read", p)
	if err != nil {
		return nil, err
	}
	return f.adapter.Read(ctx, np)
}

func (f *Filesystem) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	np, err := f.normalizeFile("readstream", p)
	if err != nil {
		return nil, err
	}
	return f.adapter.ReadStream(ctx, np)
}

func (f *Filesystem) Write(ctx context.Context, p string, contents []byte, options ...Option) error {
	np, err := f.normalizeFile("write", p)
	if err != nil {
		return err
	}
	return f.adapter.Write(ctx, np, contents, options...)
}

func (f *Filesystem) WriteStream(ctx context.Context, p string, r io.Reader, options ...Option) error {
	np, err := f.normalizeFile("writestream", p)
	if err != nil {
		return err
	}
	return f.adapter.WriteStream(ctx, np, r, options...)
}

func (f *Filesystem) Delete(ctx context.Context, p string) error {
	np, err := f.normalizeFile("delete", p)
	if err != nil {
		return err
	}
	return f.adapter.Delete(ctx, np)
}

func (f *Filesystem) DeleteDirectory(ctx context.Context, p string) error {
	np, err := f.normalize("deletedirectory", p)
	if err != nil {
		return err
	}
	return f.adapter.DeleteDirectory(ctx, np)
}

func (f *Filesystem) CreateDirectory(ctx context.Context, p string, options ...Option) error {
	np, err := f.normalize("createdirectory", p)
	if err != nil {
		return err
	}
	return f.adapter.CreateDirectory(ctx, np, options...)
}

func (f *Filesystem) Move(ctx context.Context, source, destination string, options ...Option) error {
	src, err := f.normalizeFile("move", source)
	if err != nil {
		return err
	}
	dst, err := f.normalizeFile("move", destination)
	if err != nil {
		return err
	}
	return f.adapter.Move(ctx, src, dst, options...)
}

func (f *Filesystem) Copy(ctx context.Context, source, destination string, options ...Option) error {
	src, err := f.normalizeFile("copy", source)
	if err != nil {
		return err
	}
	dst, err := f.normalizeFile("copy", destination)
	if err != nil {
		return err
	}
	return f.adapter.Copy(ctx, src, dst, options...)
}

// ListContents lazily lists the entries below p.
func (f *Filesystem) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[Entry, error] {
	np, err := f.normalize("listcontents", p)
	if err != nil {
		return func(yield func(Entry, error) bool) {
			yield(Entry{}, err)
		}
	}
	return f.adapter.ListContents(ctx, np, deep)
}

func (f *Filesystem) FileSize(ctx context.Context, p string) (int64, error) {
	np, err := f.normalizeFile("filesize", p)
	if err != nil {
		return 0, err
	}
	return f.adapter.FileSize(ctx, np)
}

func (f *Filesystem) MimeType(ctx context.Context, p string) (string, error) {
	np, err := f.normalizeFile("mimetype", p)
	if err != nil {
		return "", err
	}
	return f.adapter.MimeType(ctx, np)
}

func (f *Filesystem) LastModified(ctx context.Context, p string) (time.Time, error) {
	np, err := f.normalizeFile("lastmodified", p)
	if err != nil {
		return time.Time{}, err
	}
	return f.adapter.LastModified(ctx, np)
}

func (f *Filesystem) Visibility(ctx context.Context, p string) (Visibility, error) {
	np, err := f.normalize("visibility", p)
	if err != nil {
		return Unknown, err
	}
	return f.adapter.Visibility(ctx, np)
}

func (f *Filesystem) SetVisibility(ctx context.Context, p string, visibility Visibility) error {
	np, err := f.normalize("setvisibility", p)
	if err != nil {
		return err
	}
	if !visibility.Valid() {
		return NewPathError("setvisibility", f.Disk(), np, ErrUnableToSetVisibility,
			errors.New("visibility must be public or private"))
	}
	return f.adapter.SetVisibility(ctx, np, visibility)
}

// ============================================================================
// Utility Operations
// ============================================================================

// Exists reports whether p is a file or directory. With throwOnMissing a
// missing path is reported as an ErrNotFound error instead of false.
func (f *Filesystem) Exists(ctx context.Context, p string, throwOnMissing bool) (bool, error) {
	np, err := f.normalize("exists", p)
	if err != nil {
		return false, err
	}
	if f.adapter.FileExists(ctx, np) || f.adapter.DirectoryExists(ctx, np) {
		return true, nil
	}
	if throwOnMissing {
		return false, NewPathError("exists", f.Disk(), np, ErrNotFound, nil)
	}
	return false, nil
}

// keyedMutex serializes facade writers per path.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
