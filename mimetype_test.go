package diskit

import (
	"strings"
	"testing"
)

func TestDetectMimeType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name string
		file string
		head []byte
		want string
	}{
		{"table extension", "notes.txt", nil, "text/plain"},
		{"extension case", "DATA.JSON", nil, "application/json"},
		{"system table strips params", "index.html", nil, "text/html"},
		{"extension wins over content", "image.txt", png, "text/plain"},
		{"sniffed", "upload", png, "image/png"},
		{"sniffed text", "README", []byte("just some words"), "text/plain"},
		{"nothing known", "blob", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMimeType(tt.file, tt.head); got != tt.want {
				t.Errorf("DetectMimeType(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestDetectMimeTypeReader(t *testing.T) {
	got, err := DetectMimeTypeReader("report", strings.NewReader("%PDF-1.7\n"+strings.Repeat("x", 2*MimeSniffLen)))
	if err != nil {
		t.Fatalf("DetectMimeTypeReader() error = %v", err)
	}
	if got != "application/pdf" {
		t.Errorf("DetectMimeTypeReader() = %q, want application/pdf", got)
	}
}
