package diskit

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an adapter or the facade wraps one
// of these, so callers can test with errors.Is.
var (
	ErrNotFound                 = errors.New("not found")
	ErrAccessDenied             = errors.New("access denied")
	ErrWrite                    = errors.New("unable to write")
	ErrDirectoryNotWritable     = errors.New("directory not writable")
	ErrInvalidPath              = errors.New("invalid path")
	ErrConnection               = errors.New("connection failed")
	ErrConfiguration            = errors.New("invalid configuration")
	ErrUnableToRetrieveMetadata = errors.New("unable to retrieve metadata")
	ErrUnableToSetVisibility    = errors.New("unable to set visibility")
	ErrNotSupported             = errors.New("operation not supported")
	ErrSymbolicLink             = errors.New("symbolic link encountered")
	ErrReadOnly                 = errors.New("disk is read-only")
	ErrContentsUnavailable      = errors.New("contents unavailable")
)

// PathError records an error together with the operation, disk and path
// that caused it.
type PathError struct {
	Op   string
	Disk string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	if e.Disk == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s://%s: %v", e.Op, e.Disk, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError builds a PathError of the given kind. A non-nil cause is
// kept in the chain next to kind.
func NewPathError(op, disk, path string, kind, cause error) *PathError {
	return &PathError{Op: op, Disk: disk, Path: path, Err: joinKind(kind, cause)}
}

// WrapPathErr wraps err in a PathError unless it already is one. Errors
// that carry no known kind are classified as kind.
func WrapPathErr(op, disk, path string, kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	if hasKind(err) {
		return &PathError{Op: op, Disk: disk, Path: path, Err: err}
	}
	return NewPathError(op, disk, path, kind, err)
}

func joinKind(kind, cause error) error {
	switch {
	case cause == nil:
		return kind
	case kind == nil, errors.Is(cause, kind):
		return cause
	default:
		return fmt.Errorf("%w: %w", kind, cause)
	}
}

var kinds = []error{
	ErrNotFound, ErrAccessDenied, ErrWrite, ErrDirectoryNotWritable,
	ErrInvalidPath, ErrConnection, ErrConfiguration,
	ErrUnableToRetrieveMetadata, ErrUnableToSetVisibility,
	ErrNotSupported, ErrSymbolicLink, ErrReadOnly, ErrContentsUnavailable,
}

func hasKind(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Disk   string
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure %s: %s: %s", e.Disk, e.Key, e.Reason)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// IsNotFound reports whether err indicates a missing file or directory.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err indicates a permission rejection.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsConnection reports whether err is a transport failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
