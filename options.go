package diskit

import "io/fs"

// Option represents a write option
type Option func(*Options)

// Options contains the options accepted by write operations
type Options struct {
	// Visibility of the written file, or of the directory for
	// CreateDirectory.
	Visibility Visibility

	// DirectoryVisibility applies to directories created implicitly.
	DirectoryVisibility Visibility

	// Permissions are exact mode bits for POSIX backends. Other backends
	// derive a visibility from them.
	Permissions fs.FileMode

	// ContentType overrides mime detection where the backend stores it.
	ContentType string

	// Metadata is stored as user metadata where the backend supports it.
	Metadata map[string]string
}

// ApplyOptions folds options into an Options value.
func ApplyOptions(options []Option) Options {
	var o Options
	for _, opt := range options {
		opt(&o)
	}
	return o
}

// ForFile returns the visibility to apply to a written file.
func (o Options) ForFile(def Visibility) Visibility {
	switch {
	case o.Visibility.Valid():
		return o.Visibility
	case o.Permissions != 0:
		return VisibilityFromPermissions(o.Permissions)
	default:
		return def
	}
}

// ForParents returns the visibility for directories created on the way
// to a written file.
func (o Options) ForParents(def Visibility) Visibility {
	if o.DirectoryVisibility.Valid() {
		return o.DirectoryVisibility
	}
	return def
}

// ForDirectory returns the visibility for an explicitly created directory.
func (o Options) ForDirectory(def Visibility) Visibility {
	if o.DirectoryVisibility.Valid() {
		return o.DirectoryVisibility
	}
	return o.ForFile(def)
}

// WithVisibility sets the visibility
func WithVisibility(visibility Visibility) Option {
	return func(o *Options) {
		o.Visibility = visibility
	}
}

// WithDirectoryVisibility sets the visibility of implicitly created
// directories
func WithDirectoryVisibility(visibility Visibility) Option {
	return func(o *Options) {
		o.DirectoryVisibility = visibility
	}
}

// WithPermissions sets exact permission bits
func WithPermissions(perm fs.FileMode) Option {
	return func(o *Options) {
		o.Permissions = perm.Perm()
	}
}

// WithContentType sets the content type of the file
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithMetadata sets additional metadata for the file
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}
