package diskit

import (
	"io/fs"
	"testing"
)

func TestParseVisibility(t *testing.T) {
	tests := map[string]Visibility{
		"public":    Public,
		" Private ": Private,
		"PUBLIC":    Public,
		"":          Unknown,
		"world":     Unknown,
	}
	for in, want := range tests {
		if got := ParseVisibility(in); got != want {
			t.Errorf("ParseVisibility(%q) = %q, want %q", in, got, want)
		}
	}
	if Unknown.Valid() {
		t.Error("Unknown.Valid() = true")
	}
}

func TestVisibilityFromPermissions(t *testing.T) {
	tests := []struct {
		perm fs.FileMode
		want Visibility
	}{
		{0o644, Public},
		{0o640, Public},
		{0o604, Public},
		{0o600, Private},
		{0o700, Private},
		{0o711, Private},
	}
	for _, tt := range tests {
		if got := VisibilityFromPermissions(tt.perm); got != tt.want {
			t.Errorf("VisibilityFromPermissions(%o) = %q, want %q", tt.perm, got, tt.want)
		}
	}
}

func TestPortableVisibilityConverter(t *testing.T) {
	c := NewPortableVisibilityConverter(DefaultPermissions, Private)

	if got := c.ForFile(Public); got != 0o644 {
		t.Errorf("ForFile(Public) = %o", got)
	}
	if got := c.ForFile(Private); got != 0o600 {
		t.Errorf("ForFile(Private) = %o", got)
	}
	if got := c.ForDirectory(Public); got != 0o755 {
		t.Errorf("ForDirectory(Public) = %o", got)
	}
	if got := c.ForDirectory(Private); got != 0o700 {
		t.Errorf("ForDirectory(Private) = %o", got)
	}

	for _, v := range []Visibility{Public, Private} {
		if got := c.InverseForFile(c.ForFile(v)); got != v {
			t.Errorf("file round trip of %q = %q", v, got)
		}
		if got := c.InverseForDirectory(c.ForDirectory(v)); got != v {
			t.Errorf("directory round trip of %q = %q", v, got)
		}
	}

	if got := c.InverseForFile(0o640); got != Unknown {
		t.Errorf("InverseForFile(0640) = %q, want unknown", got)
	}
	if got := c.InverseForFile(fs.ModeDir | 0o644); got != Public {
		t.Errorf("InverseForFile ignores type bits: got %q", got)
	}
	if got := c.InverseForDirectory(0o750); got != Unknown {
		t.Errorf("InverseForDirectory(0750) = %q, want unknown", got)
	}

	if got := c.DefaultForDirectories(); got != Private {
		t.Errorf("DefaultForDirectories() = %q", got)
	}
	if got := NewPortableVisibilityConverter(DefaultPermissions, Unknown).DefaultForDirectories(); got != Public {
		t.Errorf("invalid directory default = %q, want public", got)
	}
}

func TestOptionsVisibility(t *testing.T) {
	tests := []struct {
		name                      string
		options                   []Option
		file, parents, directory Visibility
	}{
		{
			name: "defaults", file: Public, parents: Public, directory: Public,
		},
		{
			name:    "explicit visibility",
			options: []Option{WithVisibility(Private)},
			file:    Private, parents: Public, directory: Private,
		},
		{
			name:    "permissions",
			options: []Option{WithPermissions(0o600)},
			file:    Private, parents: Public, directory: Private,
		},
		{
			name:    "directory visibility",
			options: []Option{WithVisibility(Public), WithDirectoryVisibility(Private)},
			file:    Public, parents: Private, directory: Private,
		},
		{
			name:    "visibility wins over permissions",
			options: []Option{WithPermissions(0o600), WithVisibility(Public)},
			file:    Public, parents: Public, directory: Public,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ApplyOptions(tt.options)
			if got := o.ForFile(Public); got != tt.file {
				t.Errorf("ForFile() = %q, want %q", got, tt.file)
			}
			if got := o.ForParents(Public); got != tt.parents {
				t.Errorf("ForParents() = %q, want %q", got, tt.parents)
			}
			if got := o.ForDirectory(Public); got != tt.directory {
				t.Errorf("ForDirectory() = %q, want %q", got, tt.directory)
			}
		})
	}

	if got := ApplyOptions([]Option{WithPermissions(fs.ModeDir | 0o750)}).Permissions; got != 0o750 {
		t.Errorf("WithPermissions kept type bits: %v", got)
	}
}
