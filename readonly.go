package diskit

import (
	"context"
	"io"
)

// ReadOnlyAdapter wraps an Adapter and rejects every write with
// ErrReadOnly. Reads pass through.
type ReadOnlyAdapter struct {
	Adapter
}

// NewReadOnly wraps a in a ReadOnlyAdapter.
func NewReadOnly(a Adapter) *ReadOnlyAdapter {
	return &ReadOnlyAdapter{Adapter: a}
}

func (r *ReadOnlyAdapter) reject(op, path string) error {
	return NewPathError(op, r.Disk(), path, ErrReadOnly, nil)
}

func (r *ReadOnlyAdapter) Write(_ context.Context, path string, _ []byte, _ ...Option) error {
	return r.reject("write", path)
}

func (r *ReadOnlyAdapter) WriteStream(_ context.Context, path string, _ io.Reader, _ ...Option) error {
	return r.reject("writestream", path)
}

func (r *ReadOnlyAdapter) Delete(_ context.Context, path string) error {
	return r.reject("delete", path)
}

func (r *ReadOnlyAdapter) DeleteDirectory(_ context.Context, path string) error {
	return r.reject("deletedirectory", path)
}

func (r *ReadOnlyAdapter) CreateDirectory(_ context.Context, path string, _ ...Option) error {
	return r.reject("createdirectory", path)
}

func (r *ReadOnlyAdapter) Move(_ context.Context, source, _ string, _ ...Option) error {
	return r.reject("move", source)
}

func (r *ReadOnlyAdapter) Copy(_ context.Context, _, destination string, _ ...Option) error {
	return r.reject("copy", destination)
}

func (r *ReadOnlyAdapter) SetVisibility(_ context.Context, path string, _ Visibility) error {
	return r.reject("setvisibility", path)
}

// Unwrap returns the wrapped adapter.
func (r *ReadOnlyAdapter) Unwrap() Adapter {
	return r.Adapter
}
