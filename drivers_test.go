package diskit_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
	_ "github.com/gobeaver/diskit/driver/local"
	_ "github.com/gobeaver/diskit/driver/memory"
)

// contractDisks builds one adapter per driver that can run without a
// server, each through the driver registry.
func contractDisks(t *testing.T) map[string]diskit.Adapter {
	t.Helper()
	r := config.FromMap(map[string]any{
		"filesystem": map[string]any{
			"mem":    map[string]any{"driver": "inmemory"},
			"disk":   map[string]any{"driver": "local", "root": t.TempDir()},
			"atomic": map[string]any{"driver": "local", "root": t.TempDir(), "lock": "atomic"},
		},
	})

	disks := make(map[string]diskit.Adapter)
	for _, name := range []string{"mem", "disk", "atomic"} {
		a, err := diskit.CreateAdapter(name, r, nil)
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = a.Close() })
		disks[name] = a
	}
	return disks
}

func TestAdapterContract(t *testing.T) {
	for name, adapter := range contractDisks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fs := diskit.New(adapter)

			t.Run("round trip", func(t *testing.T) {
				samples := map[string][]byte{
					"empty.bin":       {},
					"text/hello.txt":  []byte("hello"),
					"bin/zeros.bin":   make([]byte, 4096),
					"bin/all.bin":     allBytes(),
					"deep/a/b/c/d.md": []byte("# nested"),
				}
				for p, c := range samples {
					require.NoError(t, fs.Write(ctx, p, c), p)
					got, err := fs.Read(ctx, p)
					require.NoError(t, err, p)
					assert.True(t, bytes.Equal(c, got), "content of %s changed", p)

					require.NoError(t, fs.WriteStream(ctx, p, bytes.NewReader(c)), p)
					got, err = fs.Read(ctx, p)
					require.NoError(t, err, p)
					assert.True(t, bytes.Equal(c, got), "streamed content of %s changed", p)
				}
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				require.NoError(t, fs.Write(ctx, "gone.txt", []byte("x")))
				require.NoError(t, fs.Delete(ctx, "gone.txt"))
				require.NoError(t, fs.Delete(ctx, "gone.txt"))
				assert.False(t, fs.FileExists(ctx, "gone.txt"))
				require.NoError(t, fs.DeleteDirectory(ctx, "never/created"))
			})

			t.Run("create directory is idempotent", func(t *testing.T) {
				require.NoError(t, fs.CreateDirectory(ctx, "made/twice"))
				require.NoError(t, fs.CreateDirectory(ctx, "made/twice"))
				assert.True(t, fs.DirectoryExists(ctx, "made/twice"))
				assert.True(t, fs.DirectoryExists(ctx, "made"))
			})

			t.Run("visibility round trip", func(t *testing.T) {
				require.NoError(t, fs.Write(ctx, "vis/file.txt", []byte("x")))
				for _, p := range []string{"vis/file.txt", "vis"} {
					for _, level := range []diskit.Visibility{diskit.Private, diskit.Public} {
						require.NoError(t, fs.SetVisibility(ctx, p, level))
						got, err := fs.Visibility(ctx, p)
						require.NoError(t, err)
						assert.Equal(t, level, got, "%s set to %s", p, level)
					}
				}
			})

			t.Run("missing file", func(t *testing.T) {
				_, err := fs.Read(ctx, "missing.txt")
				assert.True(t, diskit.IsNotFound(err), "got %v", err)

				var pe *diskit.PathError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, name, pe.Disk)
				assert.Equal(t, "missing.txt", pe.Path)

				ok, err := fs.Append(ctx, "ghost.txt", []byte("x"))
				require.NoError(t, err)
				assert.False(t, ok)
				assert.False(t, fs.FileExists(ctx, "ghost.txt"))

				assert.True(t, diskit.IsNotFound(fs.Move(ctx, "ghost.txt", "ghost.txt")), "move onto itself")
				assert.True(t, diskit.IsNotFound(fs.Copy(ctx, "ghost.txt", "ghost.txt")), "copy onto itself")
			})

			t.Run("listing", func(t *testing.T) {
				require.NoError(t, fs.Write(ctx, "list/one.txt", []byte("1")))
				require.NoError(t, fs.Write(ctx, "list/sub/two.txt", []byte("22")))

				var shallow, deep []string
				for e, err := range fs.ListContents(ctx, "list", false) {
					require.NoError(t, err)
					shallow = append(shallow, e.Path)
				}
				for e, err := range fs.ListContents(ctx, "list", true) {
					require.NoError(t, err)
					deep = append(deep, e.Path)
				}
				assert.ElementsMatch(t, []string{"list/one.txt", "list/sub"}, shallow)
				assert.ElementsMatch(t, []string{"list/one.txt", "list/sub", "list/sub/two.txt"}, deep)

				n := 0
				for range fs.ListContents(ctx, "list", true) {
					n++
					break
				}
				assert.Equal(t, 1, n)

				for _, err := range fs.ListContents(ctx, "absent", true) {
					assert.True(t, diskit.IsNotFound(err), "got %v", err)
				}
			})
		})
	}
}

func TestTrailingSlashProperty(t *testing.T) {
	for _, s := range []string{"", "/", "a", "a/", "a//", `a\`, "a/b/", "/a/b", "//"} {
		assert.Equal(t, diskit.AddTrailingSlash(s), diskit.AddTrailingSlash(diskit.RemoveTrailingSlash(s)), "%q", s)
	}
}

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
