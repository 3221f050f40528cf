package diskit

import "context"

// Append adds data to the end of the existing file p. It reports false,
// without creating anything, when p is not a file. Adapters that
// implement Appender append natively; otherwise the file is rewritten.
func (f *Filesystem) Append(ctx context.Context, p string, data []byte) (bool, error) {
	np, err := f.normalizeFile("append", p)
	if err != nil {
		return false, err
	}
	unlock := f.locks.lock(np)
	defer unlock()

	if !f.adapter.FileExists(ctx, np) {
		return false, nil
	}
	if a, ok := f.adapter.(Appender); ok {
		if err := a.Append(ctx, np, data); err != nil {
			return false, err
		}
		return true, nil
	}

	current, err := f.adapter.Read(ctx, np)
	if err != nil {
		return false, err
	}
	return f.rewrite(ctx, np, append(current, data...))
}

// Prepend adds data in front of the content of the existing file p. It
// reports false when p is not a file.
func (f *Filesystem) Prepend(ctx context.Context, p string, data []byte) (bool, error) {
	np, err := f.normalizeFile("prepend", p)
	if err != nil {
		return false, err
	}
	unlock := f.locks.lock(np)
	defer unlock()

	if !f.adapter.FileExists(ctx, np) {
		return false, nil
	}
	current, err := f.adapter.Read(ctx, np)
	if err != nil {
		return false, err
	}

	combined := make([]byte, 0, len(data)+len(current))
	combined = append(combined, data...)
	combined = append(combined, current...)
	return f.rewrite(ctx, np, combined)
}

// Update replaces the content of the existing file p. It reports false
// when p is not a file.
func (f *Filesystem) Update(ctx context.Context, p string, data []byte) (bool, error) {
	np, err := f.normalizeFile("update", p)
	if err != nil {
		return false, err
	}
	unlock := f.locks.lock(np)
	defer unlock()

	if !f.adapter.FileExists(ctx, np) {
		return false, nil
	}
	return f.rewrite(ctx, np, data)
}

// rewrite replaces the content of np keeping its current visibility.
func (f *Filesystem) rewrite(ctx context.Context, np string, data []byte) (bool, error) {
	var options []Option
	if v, err := f.adapter.Visibility(ctx, np); err == nil && v.Valid() {
		options = append(options, WithVisibility(v))
	}
	if err := f.adapter.Write(ctx, np, data, options...); err != nil {
		return false, err
	}
	return true, nil
}
