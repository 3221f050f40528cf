package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

func newAdapter(t *testing.T, options ...AdapterOption) *Adapter {
	t.Helper()
	a, err := New(nil, options...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func collect(t *testing.T, a *Adapter, dir string, deep bool) []diskit.Entry {
	t.Helper()
	var entries []diskit.Entry
	for e, err := range a.ListContents(context.Background(), dir, deep) {
		if err != nil {
			t.Fatalf("ListContents(%q) error = %v", dir, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNew(t *testing.T) {
	t.Run("creates adapter with default config", func(t *testing.T) {
		a := newAdapter(t)
		if a.Descriptor().Visibility != diskit.Public {
			t.Errorf("expected default visibility public, got %s", a.Descriptor().Visibility)
		}
		if a.Disk() != "inmemory" {
			t.Errorf("expected disk inmemory, got %s", a.Disk())
		}
	})

	t.Run("reads visibility from configuration", func(t *testing.T) {
		r := config.FromMap(map[string]any{
			"filesystem": map[string]any{"inmemory": map[string]any{"visibility": "private"}},
		})
		a, err := New(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Descriptor().Visibility != diskit.Private {
			t.Errorf("expected private, got %s", a.Descriptor().Visibility)
		}
	})

	t.Run("option wins over configuration", func(t *testing.T) {
		r := config.FromMap(map[string]any{
			"filesystem": map[string]any{"inmemory": map[string]any{"visibility": "private"}},
		})
		a, err := New(r, WithVisibility(diskit.Public))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Descriptor().Visibility != diskit.Public {
			t.Errorf("expected public, got %s", a.Descriptor().Visibility)
		}
	})

	t.Run("rejects invalid visibility", func(t *testing.T) {
		r := config.FromMap(map[string]any{
			"filesystem": map[string]any{"inmemory": map[string]any{"visibility": "world"}},
		})
		_, err := New(r)
		if !diskit.IsConfiguration(err) {
			t.Fatalf("expected configuration error, got %v", err)
		}
		var ce *diskit.ConfigError
		if !errors.As(err, &ce) || ce.Key != "filesystem.inmemory.visibility" {
			t.Errorf("expected key filesystem.inmemory.visibility, got %v", err)
		}
	})
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips content", func(t *testing.T) {
		a := newAdapter(t)
		if err := a.Write(ctx, "test.txt", []byte("hello world")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := a.Read(ctx, "test.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != "hello world" {
			t.Errorf("expected 'hello world', got '%s'", got)
		}
		if a.Size() != int64(len("hello world")) {
			t.Errorf("expected size=%d, got %d", len("hello world"), a.Size())
		}
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "test.txt", []byte("first"))
		a.Write(ctx, "test.txt", []byte("second!"))

		got, _ := a.Read(ctx, "test.txt")
		if string(got) != "second!" {
			t.Errorf("expected 'second!', got '%s'", got)
		}
		if a.Size() != 7 {
			t.Errorf("expected size=7, got %d", a.Size())
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "a/b/c.txt", []byte("x"))

		for _, dir := range []string{"a", "a/b"} {
			if !a.DirectoryExists(ctx, dir) {
				t.Errorf("expected directory %s to exist", dir)
			}
		}
	})

	t.Run("stream round trip", func(t *testing.T) {
		a := newAdapter(t)
		if err := a.WriteStream(ctx, "s.txt", strings.NewReader("streamed")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc, err := a.ReadStream(ctx, "s.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "streamed" {
			t.Errorf("expected 'streamed', got '%s'", got)
		}
	})

	t.Run("read of missing file is not found", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Read(ctx, "missing.txt")
		if !diskit.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		var pe *diskit.PathError
		if !errors.As(err, &pe) || pe.Disk != "inmemory" || pe.Path != "missing.txt" {
			t.Errorf("expected path error carrying disk and path, got %v", err)
		}
	})

	t.Run("respects max size limit", func(t *testing.T) {
		a := newAdapter(t, WithMaxSize(10))
		err := a.Write(ctx, "large.txt", []byte("this is too large"))
		if !errors.Is(err, diskit.ErrWrite) {
			t.Fatalf("expected write error, got %v", err)
		}
	})

	t.Run("cannot write over a directory", func(t *testing.T) {
		a := newAdapter(t)
		a.CreateDirectory(ctx, "dir")
		if err := a.Write(ctx, "dir", []byte("x")); !errors.Is(err, diskit.ErrWrite) {
			t.Fatalf("expected write error, got %v", err)
		}
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	a.Write(ctx, "file.txt", []byte("content"))

	for i := 0; i < 2; i++ {
		if err := a.Delete(ctx, "file.txt"); err != nil {
			t.Fatalf("delete #%d: unexpected error: %v", i+1, err)
		}
	}
	if a.FileExists(ctx, "file.txt") {
		t.Error("expected file to be gone")
	}
	if a.Size() != 0 {
		t.Errorf("expected size=0, got %d", a.Size())
	}
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()

	t.Run("create is idempotent", func(t *testing.T) {
		a := newAdapter(t)
		for i := 0; i < 2; i++ {
			if err := a.CreateDirectory(ctx, "x/y/z"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if !a.DirectoryExists(ctx, "x/y") {
			t.Error("expected intermediate directory")
		}
	})

	t.Run("delete removes descendants", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "dir/a.txt", []byte("a"))
		a.Write(ctx, "dir/sub/b.txt", []byte("b"))
		a.Write(ctx, "dirx/c.txt", []byte("c"))

		if err := a.DeleteDirectory(ctx, "dir"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.DirectoryExists(ctx, "dir") || a.FileExists(ctx, "dir/sub/b.txt") {
			t.Error("expected dir and descendants to be gone")
		}
		if !a.FileExists(ctx, "dirx/c.txt") {
			t.Error("sibling with common prefix must survive")
		}
		if err := a.DeleteDirectory(ctx, "dir"); err != nil {
			t.Errorf("second delete: unexpected error: %v", err)
		}
	})

	t.Run("cannot create directory below a file", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "file", []byte("x"))
		if err := a.CreateDirectory(ctx, "file/sub"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestListContents(t *testing.T) {
	ctx := context.Background()

	t.Run("shallow listing", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "dir/file1.txt", []byte("content1"))
		a.Write(ctx, "dir/file2.txt", []byte("content2"))
		a.Write(ctx, "dir/subdir/deep.txt", []byte("deep"))

		entries := collect(t, a, "dir", false)
		expected := []string{"dir/file1.txt", "dir/file2.txt", "dir/subdir"}
		if len(entries) != len(expected) {
			t.Fatalf("expected %d entries, got %d", len(expected), len(entries))
		}
		for i, p := range expected {
			if entries[i].Path != p {
				t.Errorf("expected entry[%d]=%s, got %s", i, p, entries[i].Path)
			}
		}
		if !entries[2].IsDir() || entries[0].Size != 8 {
			t.Errorf("unexpected entry attributes: %+v", entries)
		}
	})

	t.Run("deep listing", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "a/b/c.txt", []byte("c"))
		a.Write(ctx, "top.txt", []byte("t"))

		entries := collect(t, a, "", true)
		if len(entries) != 4 {
			t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
		}
	})

	t.Run("missing directory yields not found", func(t *testing.T) {
		a := newAdapter(t)
		for _, err := range a.ListContents(ctx, "nonexistent", false) {
			if !diskit.IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		}
	})

	t.Run("stops when consumer stops", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "1.txt", []byte("1"))
		a.Write(ctx, "2.txt", []byte("2"))

		n := 0
		for range a.ListContents(ctx, "", false) {
			n++
			break
		}
		if n != 1 {
			t.Errorf("expected iteration to stop after 1, got %d", n)
		}
	})
}

func TestMoveCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("copy keeps source visibility", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "src.txt", []byte("data"), diskit.WithVisibility(diskit.Private))

		if err := a.Copy(ctx, "src.txt", "copies/dst.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := a.Visibility(ctx, "copies/dst.txt")
		if v != diskit.Private {
			t.Errorf("expected private, got %s", v)
		}
		if !a.FileExists(ctx, "src.txt") {
			t.Error("source must remain after copy")
		}
	})

	t.Run("copy does not share metadata", func(t *testing.T) {
		a := newAdapter(t)
		meta := map[string]string{"owner": "alice"}
		a.Write(ctx, "src.txt", []byte("data"), diskit.WithMetadata(meta))
		meta["owner"] = "mallory"

		if err := a.Copy(ctx, "src.txt", "dst.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a.files["dst.txt"].metadata["owner"] = "bob"

		if got := a.files["src.txt"].metadata["owner"]; got != "alice" {
			t.Errorf("source metadata owner = %q, want alice", got)
		}
		if got := a.files["dst.txt"].metadata["owner"]; got != "bob" {
			t.Errorf("copy metadata owner = %q, want bob", got)
		}
	})

	t.Run("move removes source", func(t *testing.T) {
		a := newAdapter(t)
		a.Write(ctx, "src.txt", []byte("data"))

		if err := a.Move(ctx, "src.txt", "dst.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.FileExists(ctx, "src.txt") {
			t.Error("expected source to be gone")
		}
		got, _ := a.Read(ctx, "dst.txt")
		if string(got) != "data" {
			t.Errorf("expected 'data', got '%s'", got)
		}
	})

	t.Run("missing source is not found", func(t *testing.T) {
		a := newAdapter(t)
		if err := a.Move(ctx, "nope", "dst"); !diskit.IsNotFound(err) {
			t.Errorf("move: expected not found, got %v", err)
		}
		if err := a.Copy(ctx, "nope", "dst"); !diskit.IsNotFound(err) {
			t.Errorf("copy: expected not found, got %v", err)
		}
	})
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	a.Write(ctx, "f.txt", []byte("x"))
	a.CreateDirectory(ctx, "d")

	for _, p := range []string{"f.txt", "d"} {
		for _, level := range []diskit.Visibility{diskit.Private, diskit.Public} {
			if err := a.SetVisibility(ctx, p, level); err != nil {
				t.Fatalf("SetVisibility(%s, %s) error = %v", p, level, err)
			}
			got, err := a.Visibility(ctx, p)
			if err != nil {
				t.Fatalf("Visibility(%s) error = %v", p, err)
			}
			if got != level {
				t.Errorf("Visibility(%s) = %s, want %s", p, got, level)
			}
		}
	}

	err := a.SetVisibility(ctx, "missing", diskit.Public)
	if !errors.Is(err, diskit.ErrUnableToSetVisibility) {
		t.Errorf("expected unable to set visibility, got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	before := time.Now()
	a.Write(ctx, "doc.json", []byte(`{"a":1}`))
	after := time.Now()

	mod, err := a.LastModified(ctx, "doc.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod.Before(before) || mod.After(after) {
		t.Error("expected modification time between before and after write")
	}

	mt, _ := a.MimeType(ctx, "doc.json")
	if mt != "application/json" {
		t.Errorf("expected application/json, got %s", mt)
	}

	size, _ := a.FileSize(ctx, "doc.json")
	if size != 7 {
		t.Errorf("expected size 7, got %d", size)
	}

	if _, err := a.FileSize(ctx, "missing"); !diskit.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAppendAndChecksum(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	if err := a.Append(ctx, "ghost.txt", []byte("x")); !diskit.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	a.Write(ctx, "log.txt", []byte("a"))
	if err := a.Append(ctx, "log.txt", []byte("b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := a.Read(ctx, "log.txt")
	if string(got) != "ab" {
		t.Errorf("expected 'ab', got '%s'", got)
	}

	sum, err := a.Checksum(ctx, "log.txt", diskit.ChecksumSHA256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sha256("ab")
	if sum != "fb8e20fc2e4c3f248c60c39bd652f3c1347298bb977b8b4d5903b85055620603" {
		t.Errorf("unexpected checksum %s", sum)
	}
}

func TestConcurrency(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	a.Write(ctx, "shared.txt", []byte("initial"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.Read(ctx, "shared.txt")
		}()
		go func() {
			defer wg.Done()
			a.Write(ctx, "shared.txt", []byte("updated"))
		}()
	}
	wg.Wait()

	got, _ := a.Read(ctx, "shared.txt")
	if string(got) != "updated" {
		t.Errorf("expected 'updated', got '%s'", got)
	}
}

func TestCloseDropsContents(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	a.Write(ctx, "f.txt", []byte("x"))

	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.FileCount() != 0 {
		t.Errorf("expected no files, got %d", a.FileCount())
	}
	if !a.DirectoryExists(ctx, "") {
		t.Error("root must survive Close")
	}
}
