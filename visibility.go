package diskit

import (
	"io/fs"
	"strings"
)

// Visibility is the abstract access level of a file or directory.
type Visibility string

const (
	// Public means readable by anyone the backend exposes files to.
	Public Visibility = "public"

	// Private means readable only by the owner or authenticated callers.
	Private Visibility = "private"

	// Unknown is reported for backend permissions that match neither
	// configured level.
	Unknown Visibility = "unknown"
)

// Valid reports whether v is Public or Private.
func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

// ParseVisibility classifies a visibility token. Anything other than
// "public" or "private" is Unknown.
func ParseVisibility(s string) Visibility {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case Public:
		return Public
	case Private:
		return Private
	default:
		return Unknown
	}
}

// VisibilityFromPermissions classifies raw mode bits: anything readable by
// group or others is public.
func VisibilityFromPermissions(perm fs.FileMode) Visibility {
	if perm.Perm()&0o044 != 0 {
		return Public
	}
	return Private
}

// PermissionTable maps each visibility level to POSIX mode bits for files
// and directories.
type PermissionTable struct {
	FilePublic  fs.FileMode `key:"visibility.file.public" validate:"nefield=FilePrivate"`
	FilePrivate fs.FileMode `key:"visibility.file.private"`
	DirPublic   fs.FileMode `key:"visibility.dir.public" validate:"nefield=DirPrivate"`
	DirPrivate  fs.FileMode `key:"visibility.dir.private"`
}

// DefaultPermissions is the table used when nothing is configured.
var DefaultPermissions = PermissionTable{
	FilePublic:  0o644,
	FilePrivate: 0o600,
	DirPublic:   0o755,
	DirPrivate:  0o700,
}

// PortableVisibilityConverter converts between visibility levels and the
// mode bits of a PermissionTable.
type PortableVisibilityConverter struct {
	table      PermissionTable
	defaultDir Visibility
}

// NewPortableVisibilityConverter returns a converter for table. Directories
// created without an explicit visibility get defaultForDirectories.
func NewPortableVisibilityConverter(table PermissionTable, defaultForDirectories Visibility) *PortableVisibilityConverter {
	if !defaultForDirectories.Valid() {
		defaultForDirectories = Public
	}
	return &PortableVisibilityConverter{table: table, defaultDir: defaultForDirectories}
}

func (c *PortableVisibilityConverter) ForFile(v Visibility) fs.FileMode {
	if v == Private {
		return c.table.FilePrivate
	}
	return c.table.FilePublic
}

func (c *PortableVisibilityConverter) ForDirectory(v Visibility) fs.FileMode {
	if v == Private {
		return c.table.DirPrivate
	}
	return c.table.DirPublic
}

// InverseForFile classifies file mode bits. Modes outside the table are
// Unknown.
func (c *PortableVisibilityConverter) InverseForFile(mode fs.FileMode) Visibility {
	switch mode.Perm() {
	case c.table.FilePublic:
		return Public
	case c.table.FilePrivate:
		return Private
	default:
		return Unknown
	}
}

// InverseForDirectory classifies directory mode bits. Modes outside the
// table are Unknown.
func (c *PortableVisibilityConverter) InverseForDirectory(mode fs.FileMode) Visibility {
	switch mode.Perm() {
	case c.table.DirPublic:
		return Public
	case c.table.DirPrivate:
		return Private
	default:
		return Unknown
	}
}

// DefaultForDirectories returns the visibility of implicitly created
// directories.
func (c *PortableVisibilityConverter) DefaultForDirectories() Visibility {
	return c.defaultDir
}

// Table returns the underlying permission table.
func (c *PortableVisibilityConverter) Table() PermissionTable {
	return c.table
}
