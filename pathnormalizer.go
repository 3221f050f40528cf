package diskit

import (
	"errors"
	"strings"
	"unicode"
)

// PathNormalizer turns a caller supplied path into the form adapters
// expect: relative to the disk root, forward slashes, no "." or ".."
// segments.
type PathNormalizer interface {
	NormalizePath(path string) (string, error)
}

// WhitespacePathNormalizer is the default PathNormalizer. It rejects
// control characters and any ".." that would climb above the root.
type WhitespacePathNormalizer struct{}

var _ PathNormalizer = WhitespacePathNormalizer{}

func (WhitespacePathNormalizer) NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")

	if strings.ContainsFunc(p, unicode.IsControl) {
		return "", NewPathError("normalize", "", p, ErrInvalidPath, errCorruptedPath)
	}

	parts := make([]string, 0, strings.Count(p, "/")+1)
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return "", NewPathError("normalize", "", p, ErrInvalidPath, errPathTraversal)
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "/"), nil
}

var (
	errCorruptedPath = errors.New("path contains control characters")
	errPathTraversal = errors.New("path traverses above the root")
)

// RemoveTrailingSlash strips every trailing forward or back slash.
func RemoveTrailingSlash(s string) string {
	return strings.TrimRight(s, `/\`)
}

// AddTrailingSlash ensures s ends with exactly one forward slash.
func AddTrailingSlash(s string) string {
	return RemoveTrailingSlash(s) + "/"
}
