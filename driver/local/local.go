// Package local provides a diskit.Adapter over a directory of the local
// filesystem.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/atomic"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// Adapter provides a local filesystem implementation of diskit.Adapter.
//
// Visibility is stored as POSIX mode bits from the configured permission
// table. Writes take an exclusive flock unless the write mode says
// otherwise. The adapter is safe for concurrent use; concurrent writers
// to one path are ordered by the lock.
type Adapter struct {
	disk       string
	root       string
	descriptor Descriptor
	converter  *diskit.PortableVisibilityConverter
	logger     *slog.Logger
}

// New creates a local adapter configured from r and creates the root
// directory when missing. A nil resolver uses the defaults.
func New(r config.Resolver, options ...AdapterOption) (*Adapter, error) {
	if r == nil {
		r = config.New()
	}
	s := settings{namespace: DefaultNamespace, disk: "local", logger: diskit.NoopLogger()}
	for _, opt := range options {
		opt(&s)
	}

	d, err := resolve(r, s)
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(d.Root)
	if err != nil {
		return nil, &diskit.ConfigError{Disk: s.disk, Key: config.Key(s.namespace, "root"), Reason: err.Error()}
	}

	a := &Adapter{
		disk:       s.disk,
		root:       absRoot,
		descriptor: d,
		converter:  diskit.NewPortableVisibilityConverter(d.Permissions, d.Visibility),
		logger:     s.logger,
	}
	if err := a.ensureDirectory(absRoot, d.Permissions.DirPublic); err != nil {
		return nil, diskit.NewPathError("createdirectory", s.disk, "", diskit.ErrDirectoryNotWritable, err)
	}
	return a, nil
}

// Descriptor returns the resolved settings.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

// Root returns the absolute root directory.
func (a *Adapter) Root() string {
	return a.root
}

func (a *Adapter) Disk() string {
	return a.disk
}

func (a *Adapter) Close() error {
	return nil
}

// fullPath maps p into the root. Paths escaping the root are rejected.
func (a *Adapter) fullPath(op, p string) (string, error) {
	full := filepath.Join(a.root, filepath.FromSlash(p))
	if !isPathUnderRoot(a.root, full) {
		return "", diskit.NewPathError(op, a.disk, p, diskit.ErrInvalidPath, errors.New("path escapes root"))
	}
	return full, nil
}

func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mapOSError classifies an os error; kind is used when nothing more
// specific applies.
func (a *Adapter) mapOSError(op, p string, err error, kind error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return diskit.NewPathError(op, a.disk, p, diskit.ErrAccessDenied, err)
	default:
		return diskit.NewPathError(op, a.disk, p, kind, err)
	}
}

// ============================================================================
// Reading
// ============================================================================

func (a *Adapter) FileExists(ctx context.Context, p string) bool {
	full, err := a.fullPath("fileexists", p)
	if err != nil || ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

func (a *Adapter) DirectoryExists(ctx context.Context, p string) bool {
	full, err := a.fullPath("directoryexists", p)
	if err != nil || ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir()
}

// statFile stats p and requires a regular file.
func (a *Adapter) statFile(ctx context.Context, op, p string) (string, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, diskit.NewPathError(op, a.disk, p, nil, err)
	}
	full, err := a.fullPath(op, p)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", nil, a.mapOSError(op, p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	if info.IsDir() {
		return "", nil, diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, errors.New("is a directory"))
	}
	return full, info, nil
}

func (a *Adapter) Read(ctx context.Context, p string) ([]byte, error) {
	full, _, err := a.statFile(ctx, "read", p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, a.mapOSError("read", p, err, nil)
	}
	return data, nil
}

func (a *Adapter) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	full, _, err := a.statFile(ctx, "readstream", p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, a.mapOSError("readstream", p, err, nil)
	}
	return f, nil
}

func (a *Adapter) FileSize(ctx context.Context, p string) (int64, error) {
	_, info, err := a.statFile(ctx, "filesize", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (a *Adapter) LastModified(ctx context.Context, p string) (time.Time, error) {
	_, info, err := a.statFile(ctx, "lastmodified", p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (a *Adapter) MimeType(ctx context.Context, p string) (string, error) {
	full, _, err := a.statFile(ctx, "mimetype", p)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return "", a.mapOSError("mimetype", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	defer f.Close()

	mimeType, err := diskit.DetectMimeTypeReader(p, f)
	if err != nil {
		return "", diskit.NewPathError("mimetype", a.disk, p, diskit.ErrUnableToRetrieveMetadata, err)
	}
	return mimeType, nil
}

// Visibility classifies the mode bits of a file or directory. Modes
// outside the permission table are diskit.Unknown.
func (a *Adapter) Visibility(ctx context.Context, p string) (diskit.Visibility, error) {
	if err := ctx.Err(); err != nil {
		return diskit.Unknown, diskit.NewPathError("visibility", a.disk, p, diskit.ErrUnableToRetrieveMetadata, err)
	}
	full, err := a.fullPath("visibility", p)
	if err != nil {
		return diskit.Unknown, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return diskit.Unknown, a.mapOSError("visibility", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	if info.IsDir() {
		return a.converter.InverseForDirectory(info.Mode()), nil
	}
	return a.converter.InverseForFile(info.Mode()), nil
}

// ListContents walks the directory lazily. Deep listings descend in
// lexical order.
func (a *Adapter) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[diskit.Entry, error] {
	return func(yield func(diskit.Entry, error) bool) {
		full, err := a.fullPath("listcontents", p)
		if err != nil {
			yield(diskit.Entry{}, err)
			return
		}
		info, err := os.Stat(full)
		if err != nil || !info.IsDir() {
			if err == nil {
				err = errors.New("not a directory")
			}
			yield(diskit.Entry{}, diskit.NewPathError("listcontents", a.disk, p, diskit.ErrNotFound, err))
			return
		}

		if deep {
			a.walk(ctx, full, yield)
			return
		}

		dirEntries, err := os.ReadDir(full)
		if err != nil {
			yield(diskit.Entry{}, a.mapOSError("listcontents", p, err, diskit.ErrAccessDenied))
			return
		}
		for _, de := range dirEntries {
			entry, skip, err := a.entry(ctx, filepath.Join(full, de.Name()), de)
			if skip {
				continue
			}
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

func (a *Adapter) walk(ctx context.Context, full string, yield func(diskit.Entry, error) bool) {
	_ = filepath.WalkDir(full, func(path string, de fs.DirEntry, err error) error {
		if path == full && err == nil {
			return nil
		}
		if err != nil {
			yield(diskit.Entry{}, a.mapOSError("listcontents", a.relative(path), err, diskit.ErrAccessDenied))
			return filepath.SkipAll
		}
		entry, skip, err := a.entry(ctx, path, de)
		if skip {
			return nil
		}
		if !yield(entry, err) || err != nil {
			return filepath.SkipAll
		}
		return nil
	})
}

// entry converts a directory entry. skip reports links dropped by the
// link policy.
func (a *Adapter) entry(ctx context.Context, full string, de fs.DirEntry) (diskit.Entry, bool, error) {
	rel := a.relative(full)
	if err := ctx.Err(); err != nil {
		return diskit.Entry{}, false, diskit.NewPathError("listcontents", a.disk, rel, nil, err)
	}

	if de.Type()&fs.ModeSymlink != 0 {
		if a.descriptor.Links == SkipLinks {
			return diskit.Entry{}, true, nil
		}
		return diskit.Entry{}, false, diskit.NewPathError("listcontents", a.disk, rel, diskit.ErrSymbolicLink, nil)
	}

	info, err := de.Info()
	if err != nil {
		return diskit.Entry{}, false, a.mapOSError("listcontents", rel, err, diskit.ErrUnableToRetrieveMetadata)
	}

	if info.IsDir() {
		return diskit.Entry{
			Path:         rel,
			Type:         diskit.EntryDirectory,
			LastModified: info.ModTime(),
			Visibility:   a.converter.InverseForDirectory(info.Mode()),
		}, false, nil
	}
	return diskit.Entry{
		Path:         rel,
		Type:         diskit.EntryFile,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Visibility:   a.converter.InverseForFile(info.Mode()),
	}, false, nil
}

func (a *Adapter) relative(full string) string {
	rel, err := filepath.Rel(a.root, full)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// ============================================================================
// Writing
// ============================================================================

func (a *Adapter) Write(ctx context.Context, p string, contents []byte, options ...diskit.Option) error {
	return a.write(ctx, "write", p, bytes.NewReader(contents), options)
}

func (a *Adapter) WriteStream(ctx context.Context, p string, r io.Reader, options ...diskit.Option) error {
	return a.write(ctx, "writestream", p, r, options)
}

func (a *Adapter) write(ctx context.Context, op, p string, r io.Reader, options []diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError(op, a.disk, p, diskit.ErrWrite, err)
	}
	full, err := a.fullPath(op, p)
	if err != nil {
		return err
	}
	opts := diskit.ApplyOptions(options)

	dirMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))
	if err := a.ensureDirectory(filepath.Dir(full), dirMode); err != nil {
		return a.mapOSError(op, p, err, diskit.ErrWrite)
	}

	mode := a.fileMode(opts)
	switch a.descriptor.Lock {
	case LockAtomic:
		err = atomic.WriteFile(full, r)
	case LockNone:
		err = writePlain(full, r, mode)
	default:
		err = writeLocked(ctx, full, r, mode)
	}
	if err != nil {
		return a.mapOSError(op, p, err, diskit.ErrWrite)
	}

	if err := os.Chmod(full, mode); err != nil {
		return a.mapOSError(op, p, err, diskit.ErrWrite)
	}
	return nil
}

func (a *Adapter) fileMode(opts diskit.Options) fs.FileMode {
	if opts.Permissions != 0 {
		return opts.Permissions
	}
	return a.converter.ForFile(opts.ForFile(a.descriptor.Visibility))
}

// writeLocked writes under an exclusive flock. The file is truncated
// only once the lock is held.
func writeLocked(ctx context.Context, full string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(ctx, f); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := replaceContents(f, r); err != nil {
		_ = unlockFile(f)
		return err
	}
	if err := unlockFile(f); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return f.Close()
}

func replaceContents(f *os.File, r io.Reader) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := io.Copy(f, r)
	return err
}

func writePlain(full string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

// Append implements diskit.Appender. The file must exist.
func (a *Adapter) Append(ctx context.Context, p string, contents []byte) error {
	full, err := a.fullPath("append", p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return a.mapOSError("append", p, err, diskit.ErrWrite)
	}
	defer f.Close()

	if err := lockFile(ctx, f); err != nil {
		return diskit.NewPathError("append", a.disk, p, diskit.ErrWrite, fmt.Errorf("lock: %w", err))
	}
	defer unlockFile(f)

	if _, err := f.Write(contents); err != nil {
		return a.mapOSError("append", p, err, diskit.ErrWrite)
	}
	return nil
}

// Delete removes a file. Missing files are ignored.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError("delete", a.disk, p, diskit.ErrWrite, err)
	}
	full, err := a.fullPath("delete", p)
	if err != nil {
		return err
	}

	info, err := os.Lstat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return a.mapOSError("delete", p, err, diskit.ErrWrite)
	}
	if info.IsDir() {
		return diskit.NewPathError("delete", a.disk, p, diskit.ErrWrite, errors.New("is a directory"))
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return a.mapOSError("delete", p, err, diskit.ErrWrite)
	}
	return nil
}

// DeleteDirectory removes a directory recursively. Missing directories
// are ignored; the root itself is emptied but kept.
func (a *Adapter) DeleteDirectory(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError("deletedirectory", a.disk, p, diskit.ErrWrite, err)
	}
	full, err := a.fullPath("deletedirectory", p)
	if err != nil {
		return err
	}

	info, err := os.Lstat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return a.mapOSError("deletedirectory", p, err, diskit.ErrWrite)
	}
	if !info.IsDir() {
		return diskit.NewPathError("deletedirectory", a.disk, p, diskit.ErrWrite, errors.New("not a directory"))
	}

	if full == a.root {
		entries, err := os.ReadDir(full)
		if err != nil {
			return a.mapOSError("deletedirectory", p, err, diskit.ErrWrite)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(full, e.Name())); err != nil {
				return a.mapOSError("deletedirectory", p, err, diskit.ErrWrite)
			}
		}
		return nil
	}

	if err := os.RemoveAll(full); err != nil {
		return a.mapOSError("deletedirectory", p, err, diskit.ErrWrite)
	}
	return nil
}

func (a *Adapter) CreateDirectory(ctx context.Context, p string, options ...diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError("createdirectory", a.disk, p, diskit.ErrDirectoryNotWritable, err)
	}
	full, err := a.fullPath("createdirectory", p)
	if err != nil {
		return err
	}
	opts := diskit.ApplyOptions(options)

	parentMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))
	if err := a.ensureDirectory(filepath.Dir(full), parentMode); err != nil {
		return a.mapOSError("createdirectory", p, err, diskit.ErrDirectoryNotWritable)
	}

	mode := opts.Permissions
	if mode == 0 {
		mode = a.converter.ForDirectory(opts.ForDirectory(a.converter.DefaultForDirectories()))
	}
	if err := a.ensureDirectory(full, mode); err != nil {
		return a.mapOSError("createdirectory", p, err, diskit.ErrDirectoryNotWritable)
	}
	return nil
}

// ensureDirectory creates full and its missing parents with mode. Modes
// are set explicitly so the umask does not apply.
func (a *Adapter) ensureDirectory(full string, mode fs.FileMode) error {
	info, err := os.Stat(full)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s: %w", full, syscall.ENOTDIR)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if parent := filepath.Dir(full); parent != full {
		if err := a.ensureDirectory(parent, mode); err != nil {
			return err
		}
	}
	if err := os.Mkdir(full, mode); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return os.Chmod(full, mode)
}

func (a *Adapter) Copy(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError("copy", a.disk, source, diskit.ErrWrite, err)
	}
	srcFull, info, err := a.statFile(ctx, "copy", source)
	if err != nil {
		return err
	}
	dstFull, err := a.fullPath("copy", destination)
	if err != nil {
		return err
	}
	if srcFull == dstFull {
		return nil
	}
	opts := diskit.ApplyOptions(options)

	src, err := os.Open(srcFull)
	if err != nil {
		return a.mapOSError("copy", source, err, diskit.ErrWrite)
	}
	defer src.Close()

	if !opts.Visibility.Valid() && opts.Permissions == 0 {
		options = append(options, diskit.WithPermissions(info.Mode().Perm()))
	}
	return a.write(ctx, "copy", destination, src, options)
}

// Move renames the file, falling back to copy and delete across devices.
func (a *Adapter) Move(ctx context.Context, source, destination string, options ...diskit.Option) error {
	srcFull, _, err := a.statFile(ctx, "move", source)
	if err != nil {
		return err
	}
	dstFull, err := a.fullPath("move", destination)
	if err != nil {
		return err
	}
	if srcFull == dstFull {
		return nil
	}
	opts := diskit.ApplyOptions(options)

	dirMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))
	if err := a.ensureDirectory(filepath.Dir(dstFull), dirMode); err != nil {
		return a.mapOSError("move", destination, err, diskit.ErrWrite)
	}

	if err := os.Rename(srcFull, dstFull); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return a.mapOSError("move", destination, err, diskit.ErrWrite)
		}
		a.logger.Debug("rename across devices, copying", "source", source, "destination", destination)
		if err := a.Copy(ctx, source, destination, options...); err != nil {
			return err
		}
		return a.Delete(ctx, source)
	}

	if opts.Visibility.Valid() {
		return a.SetVisibility(ctx, destination, opts.Visibility)
	}
	return nil
}

func (a *Adapter) SetVisibility(ctx context.Context, p string, visibility diskit.Visibility) error {
	if err := ctx.Err(); err != nil {
		return diskit.NewPathError("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, err)
	}
	full, err := a.fullPath("setvisibility", p)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return diskit.NewPathError("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, err)
	}

	mode := a.converter.ForFile(visibility)
	if info.IsDir() {
		mode = a.converter.ForDirectory(visibility)
	}
	if err := os.Chmod(full, mode); err != nil {
		return diskit.NewPathError("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, err)
	}
	return nil
}

var (
	_ diskit.Adapter  = (*Adapter)(nil)
	_ diskit.Appender = (*Adapter)(nil)
)
