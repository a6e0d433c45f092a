package source

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// LocalSource reads documents from a directory tree or a single file.
type LocalSource struct {
	root string
	opts Options
}

func NewLocalSource(root string, opts Options) *LocalSource {
	return &LocalSource{root: root, opts: opts.withDefaults()}
}

func (s *LocalSource) Locator() string { return s.root }

// Documents walks the tree in lexical order.
func (s *LocalSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		info, err := os.Stat(s.root)
		if err != nil {
			yield(Document{}, &InvalidSourceError{Locator: s.root, Reason: err.Error()})
			return
		}
		if !info.IsDir() {
			// A single-file locator is yielded even when its extension is not
			// in the filter.
			yield(s.read(s.root, filepath.Base(s.root)), nil)
			return
		}

		stopped := false
		walkErr := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == s.root {
					return err
				}
				s.opts.Log.Warn("walk error", "path", p, "error", err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if p != s.root && s.opts.ignored(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !s.opts.accepts(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			if !yield(s.read(p, filepath.ToSlash(rel)), nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield(Document{}, walkErr)
		}
	}
}

func (s *LocalSource) read(full, rel string) Document {
	data, err := os.ReadFile(full)
	if err != nil {
		return unreadable(s.opts.Log, rel, err)
	}
	text, err := decode(rel, data, s.opts)
	if err != nil {
		return unreadable(s.opts.Log, rel, err)
	}
	return Document{Path: rel, Content: text}
}
