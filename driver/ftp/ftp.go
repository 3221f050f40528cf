// Package ftp provides a diskit.Adapter over an FTP server.
//
// One control connection is opened lazily and shared by every operation;
// calls are serialized on it. A connection that dies is redialed up to
// maxtries times.
package ftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/time/rate"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

const (
	statusServiceNotAvailable = 421
	statusNotLoggedIn         = 530
	statusNeedAccount         = 532
	statusFileUnavailable     = 550
	statusFileNameNotAllowed  = 553
)

// Adapter provides an FTP implementation of diskit.Adapter
type Adapter struct {
	disk       string
	descriptor Descriptor
	dialer     Dialer
	logger     *slog.Logger
	redial     *rate.Limiter

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// New creates an FTP adapter configured from r. No connection is made
// until the first operation.
func New(r config.Resolver, options ...AdapterOption) (*Adapter, error) {
	if r == nil {
		r = config.New()
	}
	s := settings{namespace: DefaultNamespace, disk: "ftp", logger: diskit.NoopLogger(), dialer: Dial}
	for _, opt := range options {
		opt(&s)
	}

	d, err := resolve(r, s)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		disk:       s.disk,
		descriptor: d,
		dialer:     s.dialer,
		logger:     s.logger,
		redial:     rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}, nil
}

// Descriptor returns the resolved settings.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

func (a *Adapter) Disk() string {
	return a.disk
}

// Close quits the control connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.conn == nil {
		return nil
	}
	err := a.conn.Quit()
	a.conn = nil
	if err != nil && !isConnectionError(err) {
		return diskit.NewPathError("close", a.disk, "", diskit.ErrConnection, err)
	}
	return nil
}

// do runs fn on a live connection, redialing when the connection turns
// out to be dead. Errors returned by fn are passed through unchanged.
func (a *Adapter) do(ctx context.Context, op, p string, fn func(Conn) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, errors.New("adapter closed"))
	}

	var lastErr error
	for attempt := 1; attempt <= a.descriptor.MaxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
		}

		if a.conn == nil {
			if attempt > 1 {
				if err := a.redial.Wait(ctx); err != nil {
					return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
				}
			}
			a.logger.Debug("connecting", "addr", a.descriptor.Address(), "attempt", attempt)
			conn, err := a.dialer(ctx, a.descriptor)
			if err != nil {
				if !isConnectionError(err) {
					return a.mapFTPError("connect", "", err, diskit.ErrConnection)
				}
				a.logger.Warn("connect failed", "addr", a.descriptor.Address(), "attempt", attempt, "error", err)
				lastErr = err
				continue
			}
			a.conn = conn
		}

		err := fn(a.conn)
		if err == nil || !isConnectionError(err) {
			return err
		}
		a.logger.Warn("connection lost", "op", op, "path", p, "attempt", attempt, "error", err)
		_ = a.conn.Quit()
		a.conn = nil
		lastErr = err
	}
	return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, lastErr)
}

// isConnectionError reports whether err means the control connection is
// gone.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == statusServiceNotAvailable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// mapFTPError classifies a server reply. A 550 reply means the file is
// missing unless the operation was a write.
func (a *Adapter) mapFTPError(op, p string, err, kind error) error {
	var pe *diskit.PathError
	if errors.As(err, &pe) {
		return err
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case statusNotLoggedIn, statusNeedAccount, statusFileNameNotAllowed:
			return diskit.NewPathError(op, a.disk, p, diskit.ErrAccessDenied, err)
		case statusFileUnavailable:
			if kind != diskit.ErrWrite && kind != diskit.ErrDirectoryNotWritable {
				return diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, err)
			}
		}
	}
	if isConnectionError(err) {
		return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
	}
	return diskit.NewPathError(op, a.disk, p, kind, err)
}

// remote maps p into the configured root.
func (a *Adapter) remote(p string) string {
	full := path.Join(a.descriptor.Root, p)
	if full == "" {
		return "."
	}
	return full
}

// stat finds p in the listing of its parent. A nil entry means p does
// not exist.
func (a *Adapter) stat(c Conn, p string) (*ftp.Entry, error) {
	if p == "" {
		return &ftp.Entry{Name: ".", Type: ftp.EntryTypeFolder}, nil
	}
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	entries, err := c.List(a.remote(dir))
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == statusFileUnavailable {
			return nil, nil
		}
		return nil, err
	}
	name := path.Base(p)
	for _, e := range entries {
		if path.Base(e.Name) == name {
			return e, nil
		}
	}
	return nil, nil
}

func (a *Adapter) exists(ctx context.Context, op, p string, entryType ftp.EntryType) bool {
	found := false
	err := a.do(ctx, op, p, func(c Conn) error {
		e, err := a.stat(c, p)
		if err != nil {
			return err
		}
		found = e != nil && (e.Type == entryType || (entryType == ftp.EntryTypeFile && e.Type == ftp.EntryTypeLink))
		return nil
	})
	if err != nil {
		a.logger.Debug("existence check failed", "op", op, "path", p, "error", err)
	}
	return found
}

// ============================================================================
// Reading
// ============================================================================

func (a *Adapter) FileExists(ctx context.Context, p string) bool {
	return a.exists(ctx, "fileexists", p, ftp.EntryTypeFile)
}

func (a *Adapter) DirectoryExists(ctx context.Context, p string) bool {
	return a.exists(ctx, "directoryexists", p, ftp.EntryTypeFolder)
}

func (a *Adapter) Read(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := a.do(ctx, "read", p, func(c Conn) error {
		rc, err := c.Retr(a.remote(p))
		if err != nil {
			return err
		}
		data, err = io.ReadAll(rc)
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err != nil {
		return nil, a.mapFTPError("read", p, err, nil)
	}
	return data, nil
}

// ReadStream reads the whole file before returning. The control
// connection cannot serve other commands while a transfer is open.
func (a *Adapter) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	data, err := a.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *Adapter) FileSize(ctx context.Context, p string) (int64, error) {
	var size int64
	err := a.do(ctx, "filesize", p, func(c Conn) error {
		var err error
		size, err = c.FileSize(a.remote(p))
		return err
	})
	if err != nil {
		return 0, a.mapFTPError("filesize", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return size, nil
}

func (a *Adapter) MimeType(ctx context.Context, p string) (string, error) {
	data, err := a.Read(ctx, p)
	if err != nil {
		var pe *diskit.PathError
		if errors.As(err, &pe) {
			pe.Op = "mimetype"
		}
		return "", err
	}
	return diskit.DetectMimeType(p, data), nil
}

// LastModified asks the server with MDTM. When listing timestamps are
// enabled, the listing is used if MDTM fails.
func (a *Adapter) LastModified(ctx context.Context, p string) (time.Time, error) {
	var modTime time.Time
	err := a.do(ctx, "lastmodified", p, func(c Conn) error {
		t, err := c.GetTime(a.remote(p))
		if err == nil {
			modTime = t
			return nil
		}
		if !a.descriptor.Timestamps || isConnectionError(err) {
			return err
		}
		e, serr := a.stat(c, p)
		if serr != nil {
			return serr
		}
		if e == nil || e.Type == ftp.EntryTypeFolder {
			return diskit.NewPathError("lastmodified", a.disk, p, diskit.ErrNotFound, err)
		}
		modTime = e.Time
		return nil
	})
	if err != nil {
		return time.Time{}, a.mapFTPError("lastmodified", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return modTime, nil
}

// Visibility is not available: the protocol exposes no portable way to
// read permissions.
func (a *Adapter) Visibility(ctx context.Context, p string) (diskit.Visibility, error) {
	return diskit.Unknown, diskit.NewPathError("visibility", a.disk, p, diskit.ErrUnableToRetrieveMetadata, diskit.ErrNotSupported)
}

// ListContents lists directory by directory. Each directory is fetched
// when iteration reaches it.
func (a *Adapter) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[diskit.Entry, error] {
	return func(yield func(diskit.Entry, error) bool) {
		if p != "" && !a.DirectoryExists(ctx, p) {
			yield(diskit.Entry{}, diskit.NewPathError("listcontents", a.disk, p, diskit.ErrNotFound, nil))
			return
		}

		if deep && !a.descriptor.manualRecursion() {
			if entries, ok, err := a.walk(ctx, p); ok {
				if err != nil {
					yield(diskit.Entry{}, err)
					return
				}
				for _, e := range entries {
					if !yield(e, nil) {
						return
					}
				}
				return
			}
		}
		a.listDir(ctx, p, deep, yield)
	}
}

// listDir yields the entries of dir, descending into subdirectories when
// deep is set. It returns false once the consumer stops.
func (a *Adapter) listDir(ctx context.Context, dir string, deep bool, yield func(diskit.Entry, error) bool) bool {
	var raw []*ftp.Entry
	err := a.do(ctx, "listcontents", dir, func(c Conn) error {
		var err error
		raw, err = c.List(a.remote(dir))
		return err
	})
	if err != nil {
		return yield(diskit.Entry{}, a.mapFTPError("listcontents", dir, err, diskit.ErrUnableToRetrieveMetadata))
	}

	entries := make([]diskit.Entry, 0, len(raw))
	for _, e := range raw {
		if entry, ok := a.entry(dir, e); ok {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	for _, entry := range entries {
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

// walk lists a tree with the connection's own walker. ok is false when
// the connection cannot walk.
func (a *Adapter) walk(ctx context.Context, dir string) ([]diskit.Entry, bool, error) {
	var entries []diskit.Entry
	supported := false
	err := a.do(ctx, "listcontents", dir, func(c Conn) error {
		w, ok := c.(walker)
		if !ok {
			return nil
		}
		supported = true
		entries = entries[:0]

		root := a.remote(dir)
		tree := w.Walk(root)
		for tree.Next() {
			if tree.Path() == root {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(tree.Path(), root), "/")
			if entry, ok := a.entry(path.Dir(path.Join(dir, rel)), tree.Stat()); ok {
				entries = append(entries, entry)
			}
		}
		return tree.Err()
	})
	if err != nil {
		return nil, supported, a.mapFTPError("listcontents", dir, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return entries, supported, nil
}

// entry converts a listing line of dir. Self and parent references are
// dropped.
func (a *Adapter) entry(dir string, e *ftp.Entry) (diskit.Entry, bool) {
	name := path.Base(e.Name)
	if name == "." || name == ".." || name == "/" {
		return diskit.Entry{}, false
	}
	if dir == "." {
		dir = ""
	}

	entry := diskit.Entry{
		Path:       path.Join(dir, name),
		Visibility: diskit.Unknown,
	}
	if a.descriptor.Timestamps {
		entry.LastModified = e.Time
	}
	if e.Type == ftp.EntryTypeFolder {
		entry.Type = diskit.EntryDirectory
		return entry, true
	}
	entry.Type = diskit.EntryFile
	entry.Size = int64(e.Size)
	return entry, true
}

// ============================================================================
// Writing
// ============================================================================

// Write stores contents. Visibility options are ignored because the
// protocol has no portable chmod.
func (a *Adapter) Write(ctx context.Context, p string, contents []byte, options ...diskit.Option) error {
	return a.write(ctx, "write", p, func() (io.Reader, error) {
		return bytes.NewReader(contents), nil
	})
}

// WriteStream uploads r. A stream cannot be rewound, so a connection lost
// mid-upload is not retried.
func (a *Adapter) WriteStream(ctx context.Context, p string, r io.Reader, options ...diskit.Option) error {
	used := false
	return a.write(ctx, "writestream", p, func() (io.Reader, error) {
		if used {
			return nil, errStreamConsumed
		}
		used = true
		return r, nil
	})
}

var errStreamConsumed = errors.New("stream already consumed by a failed attempt")

func (a *Adapter) write(ctx context.Context, op, p string, body func() (io.Reader, error)) error {
	err := a.do(ctx, op, p, func(c Conn) error {
		if err := a.ensureDirectory(c, parent(p)); err != nil {
			return err
		}
		r, err := body()
		if err != nil {
			return err
		}
		return c.Stor(a.remote(p), r)
	})
	if err != nil {
		return a.mapFTPError(op, p, err, diskit.ErrWrite)
	}
	return nil
}

// Append implements diskit.Appender with APPE. The file must exist.
func (a *Adapter) Append(ctx context.Context, p string, contents []byte) error {
	err := a.do(ctx, "append", p, func(c Conn) error {
		e, err := a.stat(c, p)
		if err != nil {
			return err
		}
		if e == nil || e.Type == ftp.EntryTypeFolder {
			return diskit.NewPathError("append", a.disk, p, diskit.ErrNotFound, nil)
		}
		return c.Append(a.remote(p), bytes.NewReader(contents))
	})
	if err != nil {
		return a.mapFTPError("append", p, err, diskit.ErrWrite)
	}
	return nil
}

// ensureDirectory creates dir and its missing parents.
func (a *Adapter) ensureDirectory(c Conn, dir string) error {
	if dir == "" {
		return nil
	}
	if e, err := a.stat(c, dir); err != nil {
		return err
	} else if e != nil {
		if e.Type != ftp.EntryTypeFolder {
			return diskit.NewPathError("createdirectory", a.disk, dir, diskit.ErrDirectoryNotWritable, errors.New("not a directory"))
		}
		return nil
	}

	if err := a.ensureDirectory(c, parent(dir)); err != nil {
		return err
	}
	if err := c.MakeDir(a.remote(dir)); err != nil {
		if isConnectionError(err) {
			return err
		}
		// Another client may have created it in between.
		if e, serr := a.stat(c, dir); serr == nil && e != nil && e.Type == ftp.EntryTypeFolder {
			return nil
		}
		return diskit.NewPathError("createdirectory", a.disk, dir, diskit.ErrDirectoryNotWritable, err)
	}
	return nil
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Delete removes a file. Missing files are ignored.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	err := a.do(ctx, "delete", p, func(c Conn) error {
		e, err := a.stat(c, p)
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		if e.Type == ftp.EntryTypeFolder {
			return diskit.NewPathError("delete", a.disk, p, diskit.ErrWrite, errors.New("is a directory"))
		}
		return c.Delete(a.remote(p))
	})
	if err != nil {
		return a.mapFTPError("delete", p, err, diskit.ErrWrite)
	}
	return nil
}

// DeleteDirectory removes a directory recursively. Missing directories
// are ignored; deleting the root empties it.
func (a *Adapter) DeleteDirectory(ctx context.Context, p string) error {
	err := a.do(ctx, "deletedirectory", p, func(c Conn) error {
		if p != "" {
			e, err := a.stat(c, p)
			if err != nil {
				return err
			}
			if e == nil {
				return nil
			}
			if e.Type != ftp.EntryTypeFolder {
				return diskit.NewPathError("deletedirectory", a.disk, p, diskit.ErrWrite, errors.New("not a directory"))
			}
			return c.RemoveDirRecur(a.remote(p))
		}

		entries, err := c.List(a.remote(""))
		if err != nil {
			return err
		}
		for _, e := range entries {
			name := path.Base(e.Name)
			if name == "." || name == ".." {
				continue
			}
			if e.Type == ftp.EntryTypeFolder {
				err = c.RemoveDirRecur(a.remote(name))
			} else {
				err = c.Delete(a.remote(name))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return a.mapFTPError("deletedirectory", p, err, diskit.ErrWrite)
	}
	return nil
}

func (a *Adapter) CreateDirectory(ctx context.Context, p string, options ...diskit.Option) error {
	err := a.do(ctx, "createdirectory", p, func(c Conn) error {
		return a.ensureDirectory(c, p)
	})
	if err != nil {
		return a.mapFTPError("createdirectory", p, err, diskit.ErrDirectoryNotWritable)
	}
	return nil
}

func (a *Adapter) Move(ctx context.Context, source, destination string, options ...diskit.Option) error {
	err := a.do(ctx, "move", source, func(c Conn) error {
		e, err := a.stat(c, source)
		if err != nil {
			return err
		}
		if e == nil || e.Type == ftp.EntryTypeFolder {
			return diskit.NewPathError("move", a.disk, source, diskit.ErrNotFound, nil)
		}
		if source == destination {
			return nil
		}
		if err := a.ensureDirectory(c, parent(destination)); err != nil {
			return err
		}
		if err := c.Rename(a.remote(source), a.remote(destination)); err != nil {
			return diskit.NewPathError("move", a.disk, destination, diskit.ErrWrite, err)
		}
		return nil
	})
	if err != nil {
		return a.mapFTPError("move", source, err, diskit.ErrWrite)
	}
	return nil
}

// Copy downloads the source and uploads it again.
func (a *Adapter) Copy(ctx context.Context, source, destination string, options ...diskit.Option) error {
	data, err := a.Read(ctx, source)
	if err != nil {
		return err
	}
	if source == destination {
		return nil
	}
	return a.Write(ctx, destination, data, options...)
}

// SetVisibility is not supported.
func (a *Adapter) SetVisibility(ctx context.Context, p string, visibility diskit.Visibility) error {
	return diskit.NewPathError("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, diskit.ErrNotSupported)
}

var (
	_ diskit.Adapter  = (*Adapter)(nil)
	_ diskit.Appender = (*Adapter)(nil)
	_ walker          = serverConn{}
)
