package diskit

import (
	"context"
	"io"
	"iter"
	"time"
)

// EntryType distinguishes files from directories in a listing.
type EntryType int

const (
	// EntryFile is a regular file (or object).
	EntryFile EntryType = iota
	// EntryDirectory is a directory, prefix or directory marker.
	EntryDirectory
)

func (t EntryType) String() string {
	if t == EntryDirectory {
		return "dir"
	}
	return "file"
}

// Entry describes a single item produced by ListContents. Optional
// attributes are left at their zero value when the backend did not
// report them during listing.
type Entry struct {
	// Path relative to the adapter root, without leading slash.
	Path string

	Type EntryType

	// Size in bytes, zero for directories.
	Size int64

	LastModified time.Time

	// Visibility is empty when the listing did not carry it.
	Visibility Visibility

	MimeType string
}

// IsFile reports whether the entry is a file.
func (e Entry) IsFile() bool { return e.Type == EntryFile }

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == EntryDirectory }

// ============================================================================
// Adapter Contract
// ============================================================================

// Reader provides the read side of the adapter contract.
//
// Paths handed to an adapter are already normalized by the Filesystem
// facade: relative to the adapter root, forward slashes, no "..".
type Reader interface {
	// FileExists reports whether path is an existing file. Backend errors
	// collapse to false.
	FileExists(ctx context.Context, path string) bool

	// DirectoryExists reports whether path is an existing directory.
	// Backend errors collapse to false.
	DirectoryExists(ctx context.Context, path string) bool

	// Read returns the full content of a file.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadStream opens a single-pass reader. The caller must close it.
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	// ListContents lazily yields the entries below path. Every call
	// starts a fresh listing. A missing path yields a single ErrNotFound.
	ListContents(ctx context.Context, path string, deep bool) iter.Seq2[Entry, error]

	FileSize(ctx context.Context, path string) (int64, error)
	MimeType(ctx context.Context, path string) (string, error)
	LastModified(ctx context.Context, path string) (time.Time, error)
	Visibility(ctx context.Context, path string) (Visibility, error)
}

// Writer provides the write side of the adapter contract.
type Writer interface {
	// Write stores contents at path, creating parent directories and
	// replacing any existing file.
	Write(ctx context.Context, path string, contents []byte, options ...Option) error

	// WriteStream stores everything read from r at path.
	WriteStream(ctx context.Context, path string, r io.Reader, options ...Option) error

	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error

	// DeleteDirectory removes a directory and all its descendants.
	// Deleting a missing directory is not an error.
	DeleteDirectory(ctx context.Context, path string) error

	// CreateDirectory creates path and any missing parents. Creating an
	// existing directory is not an error.
	CreateDirectory(ctx context.Context, path string, options ...Option) error

	Move(ctx context.Context, source, destination string, options ...Option) error
	Copy(ctx context.Context, source, destination string, options ...Option) error

	SetVisibility(ctx context.Context, path string, visibility Visibility) error
}

// Adapter is a storage backend implementing the full contract.
type Adapter interface {
	Reader
	Writer

	// Disk returns the backend identifier reported in errors.
	Disk() string

	// Close releases connections held by the adapter.
	Close() error
}

// ============================================================================
// Optional Capabilities
// ============================================================================

// Appender is implemented by adapters that can append to a file natively
// under an exclusive lock. The file must exist.
type Appender interface {
	Append(ctx context.Context, path string, contents []byte) error
}

// Checksummer is implemented by adapters that can compute a checksum
// without streaming the file through the caller.
type Checksummer interface {
	Checksum(ctx context.Context, path string, algorithm ChecksumAlgorithm) (string, error)
}

// ChecksumAlgorithm names a supported checksum algorithm.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	ChecksumCRC32  ChecksumAlgorithm = "crc32"
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)
