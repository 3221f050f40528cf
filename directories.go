package diskit

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// Include selects which kind of entry DirectoryListing returns.
type Include int

const (
	// IncludeDirectories lists only directories.
	IncludeDirectories Include = iota
	// IncludeFiles lists only files.
	IncludeFiles
)

func (i Include) matches(e Entry) bool {
	if i == IncludeFiles {
		return e.IsFile()
	}
	return e.IsDir()
}

// Mkdir creates the directory p. Without recursive the parent must
// already exist. An existing directory is not an error. perm is applied
// as exact mode bits on POSIX backends; zero uses the disk's configured
// directory visibility.
func (f *Filesystem) Mkdir(ctx context.Context, p string, perm fs.FileMode, recursive bool) error {
	if isBlank(p) {
		return NewPathError("mkdir", f.Disk(), p, ErrInvalidPath, fmt.Errorf("path is empty"))
	}
	np, err := f.normalize("mkdir", p)
	if err != nil {
		return err
	}
	if np == "" || f.adapter.DirectoryExists(ctx, np) {
		return nil
	}

	if !recursive {
		if parent := path.Dir(np); parent != "." && !f.adapter.DirectoryExists(ctx, parent) {
			return NewPathError("mkdir", f.Disk(), np, ErrDirectoryNotWritable,
				fmt.Errorf("parent %q does not exist", parent))
		}
	}

	var options []Option
	if perm != 0 {
		options = append(options, WithPermissions(perm))
	}
	if err := f.adapter.CreateDirectory(ctx, np, options...); err != nil {
		return NewPathError("mkdir", f.Disk(), np, ErrDirectoryNotWritable, err)
	}
	return nil
}

// Rmdir removes the directory p, deleting files before the directories
// containing them. A path that is not a directory is a no-op. Rmdir of
// the root empties it but keeps the root itself.
func (f *Filesystem) Rmdir(ctx context.Context, p string) error {
	np, err := f.normalize("rmdir", p)
	if err != nil {
		return err
	}
	if !f.adapter.DirectoryExists(ctx, np) {
		return nil
	}
	return f.rmdir(ctx, np)
}

func (f *Filesystem) rmdir(ctx context.Context, dir string) error {
	var files, dirs []string
	for entry, err := range f.adapter.ListContents(ctx, dir, false) {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			dirs = append(dirs, entry.Path)
		} else {
			files = append(files, entry.Path)
		}
	}

	for _, file := range files {
		if err := f.adapter.Delete(ctx, file); err != nil {
			return err
		}
	}
	for _, sub := range dirs {
		if err := f.rmdir(ctx, sub); err != nil {
			return err
		}
	}

	if dir == "" {
		return nil
	}
	return f.adapter.DeleteDirectory(ctx, dir)
}

// DirectoryListing returns the sorted names of the immediate children of
// p that match include.
func (f *Filesystem) DirectoryListing(ctx context.Context, p string, include Include) ([]string, error) {
	np, err := f.normalize("directorylisting", p)
	if err != nil {
		return nil, err
	}

	var names []string
	for entry, err := range f.adapter.ListContents(ctx, np, false) {
		if err != nil {
			return nil, err
		}
		name := path.Base(entry.Path)
		if name == "." || name == ".." || !include.matches(entry) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
