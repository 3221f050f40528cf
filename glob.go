package diskit

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Glob lists every file below p whose path relative to p matches
// pattern. Patterns use '/' as separator, so "*.txt" matches only the
// top level while "**.txt" matches at any depth. Supported syntax: *, **,
// ?, [abc], [a-z], {a,b}.
func (f *Filesystem) Glob(ctx context.Context, p, pattern string) ([]Entry, error) {
	np, err := f.normalize("glob", p)
	if err != nil {
		return nil, err
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, NewPathError("glob", f.Disk(), np, ErrInvalidPath, fmt.Errorf("bad pattern %q: %w", pattern, err))
	}

	prefix := ""
	if np != "" {
		prefix = np + "/"
	}

	var matches []Entry
	for entry, err := range f.adapter.ListContents(ctx, np, true) {
		if err != nil {
			return nil, err
		}
		if !entry.IsFile() {
			continue
		}
		if g.Match(strings.TrimPrefix(entry.Path, prefix)) {
			matches = append(matches, entry)
		}
	}
	return matches, nil
}
