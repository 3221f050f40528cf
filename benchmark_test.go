package diskit_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/driver/local"
	"github.com/gobeaver/diskit/driver/memory"
)

func BenchmarkFilesystem(b *testing.B) {
	content := []byte(strings.Repeat("Hello, World! ", 100)) // ~1.4KB of content

	memAdapter, err := memory.New(nil)
	if err != nil {
		b.Fatalf("memory.New() error = %v", err)
	}
	adapters := map[string]diskit.Adapter{"memory": memAdapter}
	for _, mode := range []local.WriteMode{local.LockExclusive, local.LockAtomic, local.LockNone} {
		a, err := local.New(nil, local.WithRoot(b.TempDir()), local.WithWriteMode(mode))
		if err != nil {
			b.Fatalf("local.New() error = %v", err)
		}
		adapters["local_"+string(mode)] = a
	}

	for name, adapter := range adapters {
		b.Run(name, func(b *testing.B) {
			fs := diskit.New(adapter)
			ctx := context.Background()

			b.Run("write", func(b *testing.B) {
				for b.Loop() {
					if err := fs.Write(ctx, "bench/file.txt", content); err != nil {
						b.Fatalf("Write failed: %v", err)
					}
				}
			})

			_ = fs.Write(ctx, "bench/file.txt", content)

			b.Run("read", func(b *testing.B) {
				for b.Loop() {
					if _, err := fs.Read(ctx, "bench/file.txt"); err != nil {
						b.Fatalf("Read failed: %v", err)
					}
				}
			})

			b.Run("fileexists", func(b *testing.B) {
				for b.Loop() {
					if !fs.FileExists(ctx, "bench/file.txt") {
						b.Fatal("FileExists = false")
					}
				}
			})

			b.Run("append", func(b *testing.B) {
				for b.Loop() {
					if _, err := fs.Append(ctx, "bench/file.txt", []byte("x")); err != nil {
						b.Fatalf("Append failed: %v", err)
					}
				}
			})

			_ = fs.DeleteDirectory(ctx, "bench")
		})
	}
}

func BenchmarkListContents(b *testing.B) {
	adapter, err := memory.New(nil)
	if err != nil {
		b.Fatalf("memory.New() error = %v", err)
	}
	fs := diskit.New(adapter)
	ctx := context.Background()
	for i := range 500 {
		_ = fs.Write(ctx, "dir"+strconv.Itoa(i%10)+"/file"+strconv.Itoa(i)+".txt", []byte("x"))
	}

	for b.Loop() {
		n := 0
		for _, err := range fs.ListContents(ctx, "", true) {
			if err != nil {
				b.Fatal(err)
			}
			n++
		}
		if n != 510 {
			b.Fatalf("listed %d entries, want 510", n)
		}
	}
}

func BenchmarkNormalizePath(b *testing.B) {
	var n diskit.WhitespacePathNormalizer
	for b.Loop() {
		if _, err := n.NormalizePath(`/uploads\2024//01/./reports/../report.csv`); err != nil {
			b.Fatal(err)
		}
	}
}
