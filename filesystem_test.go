package diskit_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/driver/memory"
)

func newFilesystem(t *testing.T, options ...diskit.FilesystemOption) (*diskit.Filesystem, *memory.Adapter) {
	t.Helper()
	adapter, err := memory.New(nil)
	require.NoError(t, err)
	return diskit.New(adapter, options...), adapter
}

// plainAdapter hides the optional capabilities of the adapter it wraps.
type plainAdapter struct {
	diskit.Adapter
}

func writeFiles(t *testing.T, fs *diskit.Filesystem, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, fs.Write(context.Background(), p, []byte(p)))
	}
}

func TestFilesystemNormalizesPaths(t *testing.T) {
	ctx := context.Background()
	fs, adapter := newFilesystem(t)

	require.NoError(t, fs.Write(ctx, `/docs//notes\today.txt`, []byte("hi")))
	assert.True(t, adapter.FileExists(ctx, "docs/notes/today.txt"))

	data, err := fs.Read(ctx, "./docs/notes/../notes/today.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	np, err := fs.NormalizePath(`a\b\..\c`)
	require.NoError(t, err)
	assert.Equal(t, "a/c", np)

	assert.Equal(t, "docs", fs.RemoveTrailingSlash("docs//"))
	assert.Equal(t, "docs/", fs.AddTrailingSlash("docs"))
}

func TestFilesystemRejectsInvalidPaths(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)

	_, err := fs.Read(ctx, "../etc/passwd")
	require.ErrorIs(t, err, diskit.ErrInvalidPath)
	var pe *diskit.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "read", pe.Op)
	assert.Equal(t, "inmemory", pe.Disk)
	assert.Equal(t, "../etc/passwd", pe.Path)

	assert.ErrorIs(t, fs.Write(ctx, "a\x00b", nil), diskit.ErrInvalidPath)
	assert.ErrorIs(t, fs.Write(ctx, "/", []byte("x")), diskit.ErrInvalidPath, "root is not a file")
	assert.ErrorIs(t, fs.Copy(ctx, "a.txt", "../b.txt"), diskit.ErrInvalidPath)
	assert.False(t, fs.FileExists(ctx, "../x"))
	assert.False(t, fs.Has(ctx, "../x"))

	var seen int
	for _, err := range fs.ListContents(ctx, "../x", true) {
		seen++
		assert.ErrorIs(t, err, diskit.ErrInvalidPath)
	}
	assert.Equal(t, 1, seen)
}

func TestFilesystemOperations(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)

	require.NoError(t, fs.Write(ctx, "a.txt", []byte("hello"), diskit.WithVisibility(diskit.Private)))
	assert.True(t, fs.Has(ctx, "a.txt"))
	assert.False(t, fs.DirectoryExists(ctx, "a.txt"))

	size, err := fs.FileSize(ctx, "a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	mt, err := fs.MimeType(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mt)

	v, err := fs.Visibility(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, diskit.Private, v)

	err = fs.SetVisibility(ctx, "a.txt", diskit.Unknown)
	assert.ErrorIs(t, err, diskit.ErrUnableToSetVisibility)

	require.NoError(t, fs.Copy(ctx, "a.txt", "b/c.txt"))
	require.NoError(t, fs.Move(ctx, "b/c.txt", "d.txt"))
	assert.False(t, fs.FileExists(ctx, "b/c.txt"))

	rc, err := fs.ReadStream(ctx, "d.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, fs.Delete(ctx, "d.txt"))
	_, err = fs.LastModified(ctx, "d.txt")
	assert.True(t, diskit.IsNotFound(err))
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)
	writeFiles(t, fs, "dir/file.txt")

	for _, p := range []string{"dir", "dir/file.txt", "/dir/"} {
		ok, err := fs.Exists(ctx, p, true)
		require.NoError(t, err, p)
		assert.True(t, ok, p)
	}

	ok, err := fs.Exists(ctx, "missing", false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fs.Exists(ctx, "missing", true)
	assert.False(t, ok)
	assert.True(t, diskit.IsNotFound(err), "got %v", err)
}

func TestMkdir(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)

	err := fs.Mkdir(ctx, "a/b", 0, false)
	assert.ErrorIs(t, err, diskit.ErrDirectoryNotWritable)
	assert.False(t, fs.DirectoryExists(ctx, "a"))

	require.NoError(t, fs.Mkdir(ctx, "a/b", 0, true))
	assert.True(t, fs.DirectoryExists(ctx, "a/b"))
	require.NoError(t, fs.Mkdir(ctx, "a/b", 0, false), "existing directory")
	require.NoError(t, fs.Mkdir(ctx, "a/c", 0, false), "parent exists")

	require.NoError(t, fs.Mkdir(ctx, "secret", 0o700, false))
	v, err := fs.Visibility(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, diskit.Private, v)

	assert.ErrorIs(t, fs.Mkdir(ctx, "  ", 0, true), diskit.ErrInvalidPath)
}

func TestRmdir(t *testing.T) {
	ctx := context.Background()
	fs, adapter := newFilesystem(t)
	writeFiles(t, fs, "keep.txt", "tree/a.txt", "tree/sub/b.txt", "tree/sub/deeper/c.txt")
	require.NoError(t, fs.CreateDirectory(ctx, "tree/empty"))

	require.NoError(t, fs.Rmdir(ctx, "tree"))
	assert.False(t, fs.DirectoryExists(ctx, "tree"))
	assert.True(t, fs.FileExists(ctx, "keep.txt"))
	assert.Equal(t, 1, adapter.FileCount())

	require.NoError(t, fs.Rmdir(ctx, "tree"), "missing directory")
	require.NoError(t, fs.Rmdir(ctx, "keep.txt"), "file is not a directory")
	assert.True(t, fs.FileExists(ctx, "keep.txt"))

	writeFiles(t, fs, "x/y.txt")
	require.NoError(t, fs.Rmdir(ctx, "/"))
	assert.Equal(t, 0, adapter.FileCount())
	assert.True(t, fs.DirectoryExists(ctx, ""), "root survives")
}

func TestDirectoryListing(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)
	writeFiles(t, fs, "b.txt", "a.txt", "sub/c.txt", "other/d.txt", "sub/nested/e.txt")

	files, err := fs.DirectoryListing(ctx, "", diskit.IncludeFiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)

	dirs, err := fs.DirectoryListing(ctx, "", diskit.IncludeDirectories)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "sub"}, dirs)

	files, err = fs.DirectoryListing(ctx, "sub/", diskit.IncludeFiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, files)

	_, err = fs.DirectoryListing(ctx, "nope", diskit.IncludeFiles)
	assert.True(t, diskit.IsNotFound(err))
}

func TestAppendPrependUpdate(t *testing.T) {
	ctx := context.Background()

	for name, wrap := range map[string]func(diskit.Adapter) diskit.Adapter{
		"native":  func(a diskit.Adapter) diskit.Adapter { return a },
		"rewrite": func(a diskit.Adapter) diskit.Adapter { return plainAdapter{a} },
	} {
		t.Run(name, func(t *testing.T) {
			adapter, err := memory.New(nil)
			require.NoError(t, err)
			fs := diskit.New(wrap(adapter))

			for _, op := range []func(context.Context, string, []byte) (bool, error){fs.Append, fs.Prepend, fs.Update} {
				ok, err := op(ctx, "missing.txt", []byte("x"))
				require.NoError(t, err)
				assert.False(t, ok)
			}
			assert.False(t, fs.FileExists(ctx, "missing.txt"), "nothing created")

			require.NoError(t, fs.Write(ctx, "log.txt", []byte("middle"), diskit.WithVisibility(diskit.Private)))

			ok, err := fs.Append(ctx, "log.txt", []byte("-end"))
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = fs.Prepend(ctx, "log.txt", []byte("start-"))
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := fs.Read(ctx, "log.txt")
			require.NoError(t, err)
			assert.Equal(t, "start-middle-end", string(data))

			ok, err = fs.Update(ctx, "log.txt", []byte("replaced"))
			require.NoError(t, err)
			assert.True(t, ok)
			data, err = fs.Read(ctx, "log.txt")
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(data))

			v, err := fs.Visibility(ctx, "log.txt")
			require.NoError(t, err)
			assert.Equal(t, diskit.Private, v, "rewrites keep the visibility")
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	adapter, err := memory.New(nil)
	require.NoError(t, err)
	fs := diskit.New(plainAdapter{adapter})
	require.NoError(t, fs.Write(ctx, "counter", nil))

	const writers = 25
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := fs.Append(ctx, "counter", []byte("x"))
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	size, err := fs.FileSize(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, writers, size, "no append may be lost")
}

func TestChecksum(t *testing.T) {
	ctx := context.Background()
	adapter, err := memory.New(nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Write(ctx, "f.txt", []byte("hello")))

	native, err := diskit.New(adapter).Checksum(ctx, "f.txt", diskit.ChecksumSHA256)
	require.NoError(t, err)
	streamed, err := diskit.New(plainAdapter{adapter}).Checksum(ctx, "f.txt", diskit.ChecksumSHA256)
	require.NoError(t, err)

	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", streamed)
	assert.Equal(t, native, streamed)

	_, err = diskit.New(plainAdapter{adapter}).Checksum(ctx, "missing", diskit.ChecksumMD5)
	assert.True(t, diskit.IsNotFound(err))
}

func TestGlob(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFilesystem(t)
	writeFiles(t, fs, "a.txt", "b.log", "docs/c.txt", "docs/deep/d.txt", "docs/e.md")

	paths := func(entries []diskit.Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Path)
		}
		return out
	}

	tests := []struct {
		dir, pattern string
		want         []string
	}{
		{"", "*.txt", []string{"a.txt"}},
		{"", "**.txt", []string{"a.txt", "docs/c.txt", "docs/deep/d.txt"}},
		{"docs", "*.{txt,md}", []string{"docs/c.txt", "docs/e.md"}},
		{"docs", "deep/?.txt", []string{"docs/deep/d.txt"}},
		{"", "*.csv", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.dir+"/"+tt.pattern, func(t *testing.T) {
			got, err := fs.Glob(ctx, tt.dir, tt.pattern)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, paths(got)); diff != "" {
				t.Errorf("Glob() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := fs.Glob(ctx, "", "[")
	assert.ErrorIs(t, err, diskit.ErrInvalidPath)
}

func TestGetContents(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remote.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote body"))
	}))
	defer srv.Close()

	fs, _ := newFilesystem(t, diskit.WithHTTPClient(srv.Client()))
	writeFiles(t, fs, "local.txt")
	require.NoError(t, fs.Write(ctx, "empty.txt", nil))

	data, err := fs.GetContents(ctx, "local.txt")
	require.NoError(t, err)
	assert.Equal(t, "local.txt", string(data))

	data, err = fs.GetContents(ctx, srv.URL+"/remote.txt")
	require.NoError(t, err)
	assert.Equal(t, "remote body", string(data))

	for _, location := range []string{"empty.txt", "missing.txt", srv.URL + "/gone.txt"} {
		_, err = fs.GetContents(ctx, location)
		assert.ErrorIs(t, err, diskit.ErrContentsUnavailable, location)
	}
	_, err = fs.GetContents(ctx, "missing.txt")
	assert.ErrorContains(t, err, "contextual-read")
	assert.ErrorContains(t, err, "stream-read")
	assert.True(t, diskit.IsNotFound(err), "strategy failures stay in the chain")
}

func TestGetContentsCustomStrategies(t *testing.T) {
	ctx := context.Background()
	var calls []string
	failing := diskit.ContentsStrategy{
		Name: "failing",
		Fetch: func(context.Context, *diskit.Filesystem, string) ([]byte, error) {
			calls = append(calls, "failing")
			return nil, errors.New("boom")
		},
	}
	fallback := diskit.ContentsStrategy{
		Name: "fallback",
		Fetch: func(_ context.Context, _ *diskit.Filesystem, location string) ([]byte, error) {
			calls = append(calls, "fallback")
			return []byte("from " + location), nil
		},
	}

	fs, _ := newFilesystem(t, diskit.WithContentsStrategies(failing, fallback))
	data, err := fs.GetContents(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "from anything", string(data))
	assert.Equal(t, []string{"failing", "fallback"}, calls)
}

func TestReadOnlyAdapter(t *testing.T) {
	ctx := context.Background()
	adapter, err := memory.New(nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Write(ctx, "f.txt", []byte("data")))

	ro := diskit.NewReadOnly(adapter)
	fs := diskit.New(ro)

	data, err := fs.Read(ctx, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	checks := map[string]error{
		"write":           fs.Write(ctx, "g.txt", []byte("x")),
		"writestream":     fs.WriteStream(ctx, "g.txt", nil),
		"delete":          fs.Delete(ctx, "f.txt"),
		"deletedirectory": fs.DeleteDirectory(ctx, ""),
		"createdirectory": fs.CreateDirectory(ctx, "d"),
		"move":            fs.Move(ctx, "f.txt", "g.txt"),
		"copy":            fs.Copy(ctx, "f.txt", "g.txt"),
		"setvisibility":   fs.SetVisibility(ctx, "f.txt", diskit.Private),
	}
	for op, err := range checks {
		assert.ErrorIs(t, err, diskit.ErrReadOnly, op)
	}
	ok, err := fs.Append(ctx, "f.txt", []byte("x"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, diskit.ErrReadOnly, "append falls back to a rejected rewrite")

	assert.True(t, adapter.FileExists(ctx, "f.txt"))
	assert.Same(t, adapter, ro.Unwrap())
}
