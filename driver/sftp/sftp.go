// Package sftp provides a diskit.Adapter over an SFTP server.
package sftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/time/rate"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// Adapter provides an SFTP implementation of diskit.Adapter.
//
// The session is opened lazily and shared; the sftp client multiplexes
// concurrent requests. A lost session is redialed up to maxtries times.
type Adapter struct {
	disk       string
	descriptor Descriptor
	converter  *diskit.PortableVisibilityConverter
	dialer     Dialer
	logger     *slog.Logger
	redial     *rate.Limiter

	mu      sync.Mutex
	session *Session
	closed  bool
}

// New creates an SFTP adapter configured from r.
func New(r config.Resolver, options ...AdapterOption) (*Adapter, error) {
	if r == nil {
		r = config.New()
	}
	s := settings{namespace: DefaultNamespace, disk: "sftp", logger: diskit.NoopLogger(), dialer: Dial}
	for _, opt := range options {
		opt(&s)
	}

	d, err := resolve(r, s)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		disk:       s.disk,
		descriptor: d,
		converter:  diskit.NewPortableVisibilityConverter(d.Permissions, d.Visibility),
		dialer:     s.dialer,
		logger:     s.logger,
		redial:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	if s.client != nil {
		a.session = &Session{Client: s.client}
	}
	if d.Fingerprint == "" {
		a.logger.Warn("host key not pinned, accepting any key", "addr", d.Address())
	}
	return a, nil
}

// Descriptor returns the resolved settings.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

func (a *Adapter) Disk() string {
	return a.disk
}

// Close closes the session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.session == nil {
		return nil
	}
	err := a.session.Close()
	a.session = nil
	if err != nil {
		return diskit.NewPathError("close", a.disk, "", diskit.ErrConnection, err)
	}
	return nil
}

// client returns the live client, dialing when there is none.
func (a *Adapter) client(ctx context.Context, attempt int) (*sftp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errors.New("adapter closed")
	}
	if a.session != nil {
		return a.session.Client, nil
	}
	if attempt > 1 {
		if err := a.redial.Wait(ctx); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("connecting", "addr", a.descriptor.Address(), "attempt", attempt)
	session, err := a.dialer(ctx, a.descriptor)
	if err != nil {
		return nil, err
	}
	a.session = session
	return session.Client, nil
}

// drop forgets the session of c after it failed.
func (a *Adapter) drop(c *sftp.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil && a.session.Client == c {
		_ = a.session.Close()
		a.session = nil
	}
}

// do runs fn with a live client, redialing when the session is lost.
// Errors returned by fn pass through unchanged.
func (a *Adapter) do(ctx context.Context, op, p string, fn func(*sftp.Client) error) error {
	var lastErr error
	for attempt := 1; attempt <= a.descriptor.MaxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
		}

		c, err := a.client(ctx, attempt)
		if err != nil {
			if !isConnectionError(err) {
				return a.mapDialError(op, p, err)
			}
			a.logger.Warn("connect failed", "addr", a.descriptor.Address(), "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		err = fn(c)
		if err == nil || !isConnectionError(err) {
			return err
		}
		a.logger.Warn("session lost", "op", op, "path", p, "attempt", attempt, "error", err)
		a.drop(c)
		lastErr = err
	}
	return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, lastErr)
}

func isConnectionError(err error) bool {
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (a *Adapter) mapDialError(op, p string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return diskit.NewPathError(op, a.disk, p, diskit.ErrAccessDenied, err)
	}
	return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
}

// mapSFTPError classifies err; kind applies when nothing more specific
// does.
func (a *Adapter) mapSFTPError(op, p string, err, kind error) error {
	var pe *diskit.PathError
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return diskit.NewPathError(op, a.disk, p, diskit.ErrAccessDenied, err)
	case isConnectionError(err):
		return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
	default:
		return diskit.NewPathError(op, a.disk, p, kind, err)
	}
}

// remote maps p into the configured root.
func (a *Adapter) remote(p string) string {
	return path.Join("/", a.descriptor.Root, p)
}

func (a *Adapter) stat(ctx context.Context, op, p string) (fs.FileInfo, error) {
	var info fs.FileInfo
	err := a.do(ctx, op, p, func(c *sftp.Client) error {
		var err error
		info, err = c.Stat(a.remote(p))
		return err
	})
	return info, err
}

func (a *Adapter) statFile(ctx context.Context, op, p string) (fs.FileInfo, error) {
	info, err := a.stat(ctx, op, p)
	if err != nil {
		return nil, a.mapSFTPError(op, p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	if info.IsDir() {
		return nil, diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, errors.New("is a directory"))
	}
	return info, nil
}

// ============================================================================
// Reading
// ============================================================================

func (a *Adapter) FileExists(ctx context.Context, p string) bool {
	info, err := a.stat(ctx, "fileexists", p)
	return err == nil && info.Mode().IsRegular()
}

func (a *Adapter) DirectoryExists(ctx context.Context, p string) bool {
	info, err := a.stat(ctx, "directoryexists", p)
	return err == nil && info.IsDir()
}

func (a *Adapter) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := a.ReadStream(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, a.mapSFTPError("read", p, err, nil)
	}
	return data, nil
}

func (a *Adapter) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if _, err := a.statFile(ctx, "read", p); err != nil {
		return nil, err
	}
	var f *sftp.File
	err := a.do(ctx, "read", p, func(c *sftp.Client) error {
		var err error
		f, err = c.Open(a.remote(p))
		return err
	})
	if err != nil {
		return nil, a.mapSFTPError("read", p, err, nil)
	}
	return f, nil
}

func (a *Adapter) FileSize(ctx context.Context, p string) (int64, error) {
	info, err := a.statFile(ctx, "filesize", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (a *Adapter) LastModified(ctx context.Context, p string) (time.Time, error) {
	info, err := a.statFile(ctx, "lastmodified", p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (a *Adapter) MimeType(ctx context.Context, p string) (string, error) {
	rc, err := a.ReadStream(ctx, p)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	mimeType, err := diskit.DetectMimeTypeReader(p, rc)
	if err != nil {
		return "", a.mapSFTPError("mimetype", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return mimeType, nil
}

func (a *Adapter) Visibility(ctx context.Context, p string) (diskit.Visibility, error) {
	info, err := a.stat(ctx, "visibility", p)
	if err != nil {
		return diskit.Unknown, a.mapSFTPError("visibility", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	if info.IsDir() {
		return a.converter.InverseForDirectory(info.Mode()), nil
	}
	return a.converter.InverseForFile(info.Mode()), nil
}

// ListContents reads each directory when iteration reaches it.
func (a *Adapter) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[diskit.Entry, error] {
	return func(yield func(diskit.Entry, error) bool) {
		info, err := a.stat(ctx, "listcontents", p)
		if err != nil || !info.IsDir() {
			if err == nil {
				err = errors.New("not a directory")
			}
			yield(diskit.Entry{}, diskit.NewPathError("listcontents", a.disk, p, diskit.ErrNotFound, err))
			return
		}
		a.listDir(ctx, p, deep, yield)
	}
}

func (a *Adapter) listDir(ctx context.Context, dir string, deep bool, yield func(diskit.Entry, error) bool) bool {
	var infos []fs.FileInfo
	err := a.do(ctx, "listcontents", dir, func(c *sftp.Client) error {
		var err error
		infos, err = c.ReadDir(a.remote(dir))
		return err
	})
	if err != nil {
		return yield(diskit.Entry{}, a.mapSFTPError("listcontents", dir, err, diskit.ErrUnableToRetrieveMetadata))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		entry := a.entry(path.Join(dir, info.Name()), info)
		if !yield(entry, nil) {
			return false
		}
		if deep && entry.IsDir() {
			if !a.listDir(ctx, entry.Path, true, yield) {
				return false
			}
		}
	}
	return true
}

func (a *Adapter) entry(p string, info fs.FileInfo) diskit.Entry {
	if info.IsDir() {
		return diskit.Entry{
			Path:         p,
			Type:         diskit.EntryDirectory,
			LastModified: info.ModTime(),
			Visibility:   a.converter.InverseForDirectory(info.Mode()),
		}
	}
	return diskit.Entry{
		Path:         p,
		Type:         diskit.EntryFile,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Visibility:   a.converter.InverseForFile(info.Mode()),
	}
}

// ============================================================================
// Writing
// ============================================================================

func (a *Adapter) Write(ctx context.Context, p string, contents []byte, options ...diskit.Option) error {
	return a.write(ctx, "write", p, func() io.Reader { return bytes.NewReader(contents) }, options)
}

// WriteStream uploads r. A stream cannot be rewound, so a session lost
// mid-upload is not retried.
func (a *Adapter) WriteStream(ctx context.Context, p string, r io.Reader, options ...diskit.Option) error {
	used := false
	return a.write(ctx, "writestream", p, func() io.Reader {
		if used {
			return errReader{errors.New("stream already consumed by a failed attempt")}
		}
		used = true
		return r
	}, options)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func (a *Adapter) write(ctx context.Context, op, p string, body func() io.Reader, options []diskit.Option) error {
	opts := diskit.ApplyOptions(options)
	mode := opts.Permissions
	if mode == 0 {
		mode = a.converter.ForFile(opts.ForFile(a.descriptor.Visibility))
	}
	dirMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))

	err := a.do(ctx, op, p, func(c *sftp.Client) error {
		if err := a.ensureDirectory(c, path.Dir(a.remote(p)), dirMode); err != nil {
			return err
		}
		f, err := c.OpenFile(a.remote(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, body()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return c.Chmod(a.remote(p), mode)
	})
	if err != nil {
		return a.mapSFTPError(op, p, err, diskit.ErrWrite)
	}
	return nil
}

// Append implements diskit.Appender. The file must exist.
func (a *Adapter) Append(ctx context.Context, p string, contents []byte) error {
	info, err := a.statFile(ctx, "append", p)
	if err != nil {
		return err
	}
	err = a.do(ctx, "append", p, func(c *sftp.Client) error {
		f, err := c.OpenFile(a.remote(p), os.O_WRONLY)
		if err != nil {
			return err
		}
		if _, err := f.Seek(info.Size(), io.SeekStart); err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(contents); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return a.mapSFTPError("append", p, err, diskit.ErrWrite)
	}
	return nil
}

// ensureDirectory creates full and its missing parents, setting mode on
// each directory it creates.
func (a *Adapter) ensureDirectory(c *sftp.Client, full string, mode fs.FileMode) error {
	info, err := c.Stat(full)
	if err == nil {
		if !info.IsDir() {
			return diskit.NewPathError("createdirectory", a.disk, full, diskit.ErrDirectoryNotWritable, errors.New("not a directory"))
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if parent := path.Dir(full); parent != full {
		if err := a.ensureDirectory(c, parent, mode); err != nil {
			return err
		}
	}
	if err := c.Mkdir(full); err != nil {
		if info, serr := c.Stat(full); serr == nil && info.IsDir() {
			return nil
		}
		return err
	}
	return c.Chmod(full, mode)
}

// Delete removes a file. Missing files are ignored.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	err := a.do(ctx, "delete", p, func(c *sftp.Client) error {
		info, err := c.Stat(a.remote(p))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			return diskit.NewPathError("delete", a.disk, p, diskit.ErrWrite, errors.New("is a directory"))
		}
		return c.Remove(a.remote(p))
	})
	if err != nil {
		return a.mapSFTPError("delete", p, err, diskit.ErrWrite)
	}
	return nil
}

// DeleteDirectory removes a directory recursively. Missing directories
// are ignored; deleting the root empties it.
func (a *Adapter) DeleteDirectory(ctx context.Context, p string) error {
	err := a.do(ctx, "deletedirectory", p, func(c *sftp.Client) error {
		full := a.remote(p)
		info, err := c.Stat(full)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return diskit.NewPathError("deletedirectory", a.disk, p, diskit.ErrWrite, errors.New("not a directory"))
		}
		if full != a.remote("") {
			return c.RemoveAll(full)
		}

		children, err := c.ReadDir(full)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := c.RemoveAll(path.Join(full, child.Name())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return a.mapSFTPError("deletedirectory", p, err, diskit.ErrWrite)
	}
	return nil
}

func (a *Adapter) CreateDirectory(ctx context.Context, p string, options ...diskit.Option) error {
	opts := diskit.ApplyOptions(options)
	mode := opts.Permissions
	if mode == 0 {
		mode = a.converter.ForDirectory(opts.ForDirectory(a.converter.DefaultForDirectories()))
	}
	parentMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))

	err := a.do(ctx, "createdirectory", p, func(c *sftp.Client) error {
		full := a.remote(p)
		if err := a.ensureDirectory(c, path.Dir(full), parentMode); err != nil {
			return err
		}
		return a.ensureDirectory(c, full, mode)
	})
	if err != nil {
		return a.mapSFTPError("createdirectory", p, err, diskit.ErrDirectoryNotWritable)
	}
	return nil
}

// Move renames the file, replacing the destination. Servers without the
// posix-rename extension get a remove followed by a plain rename.
func (a *Adapter) Move(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if _, err := a.statFile(ctx, "move", source); err != nil {
		return err
	}
	if source == destination {
		return nil
	}
	opts := diskit.ApplyOptions(options)
	dirMode := a.converter.ForDirectory(opts.ForParents(a.converter.DefaultForDirectories()))

	err := a.do(ctx, "move", source, func(c *sftp.Client) error {
		src, dst := a.remote(source), a.remote(destination)
		if err := a.ensureDirectory(c, path.Dir(dst), dirMode); err != nil {
			return err
		}
		if err := c.PosixRename(src, dst); err == nil {
			return nil
		}
		if err := c.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return c.Rename(src, dst)
	})
	if err != nil {
		return a.mapSFTPError("move", source, err, diskit.ErrWrite)
	}
	if opts.Visibility.Valid() {
		return a.SetVisibility(ctx, destination, opts.Visibility)
	}
	return nil
}

// Copy downloads the source and uploads it again with the source mode.
func (a *Adapter) Copy(ctx context.Context, source, destination string, options ...diskit.Option) error {
	info, err := a.statFile(ctx, "copy", source)
	if err != nil {
		return err
	}
	if source == destination {
		return nil
	}
	data, err := a.Read(ctx, source)
	if err != nil {
		return err
	}
	opts := diskit.ApplyOptions(options)
	if !opts.Visibility.Valid() && opts.Permissions == 0 {
		options = append(options, diskit.WithPermissions(info.Mode().Perm()))
	}
	return a.write(ctx, "copy", destination, func() io.Reader { return bytes.NewReader(data) }, options)
}

func (a *Adapter) SetVisibility(ctx context.Context, p string, visibility diskit.Visibility) error {
	err := a.do(ctx, "setvisibility", p, func(c *sftp.Client) error {
		full := a.remote(p)
		info, err := c.Stat(full)
		if err != nil {
			return err
		}
		mode := a.converter.ForFile(visibility)
		if info.IsDir() {
			mode = a.converter.ForDirectory(visibility)
		}
		return c.Chmod(full, mode)
	})
	if err != nil {
		return diskit.WrapPathErr("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, err)
	}
	return nil
}

var (
	_ diskit.Adapter  = (*Adapter)(nil)
	_ diskit.Appender = (*Adapter)(nil)
)
