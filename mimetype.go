package diskit

import (
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeSniffLen is how many leading bytes are inspected when the extension
// does not identify a file.
const MimeSniffLen = 3072

const octetStream = "application/octet-stream"

// Extensions whose types are commonly missing or wrong in system tables.
var extensionToMIME = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".js":   "text/javascript",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
}

// DetectMimeType determines the mime type of a file from its name, then
// from its leading bytes. Parameters such as charset are dropped.
func DetectMimeType(name string, head []byte) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extensionToMIME[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); ext != "" && t != "" {
		return stripParams(t)
	}
	if len(head) == 0 {
		return octetStream
	}
	if len(head) > MimeSniffLen {
		head = head[:MimeSniffLen]
	}
	return stripParams(mimetype.Detect(head).String())
}

// DetectMimeTypeReader reads at most MimeSniffLen bytes from r and
// detects the mime type of name.
func DetectMimeTypeReader(name string, r io.Reader) (string, error) {
	head, err := io.ReadAll(io.LimitReader(r, MimeSniffLen))
	if err != nil {
		return "", err
	}
	return DetectMimeType(name, head), nil
}

func stripParams(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.TrimSpace(t)
}
