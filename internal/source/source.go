// Package source enumerates the documents of a local directory or a GitHub
// repository.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/dgallion1/designdoc/internal/parser"
)

// Document is one file of the source. Path is slash-separated and relative to
// the source root.
type Document struct {
	Path       string
	Content    string
	Unreadable bool
	ReadErr    error
}

// Source yields documents lazily. Each call to Documents walks the source
// again.
type Source interface {
	Documents(ctx context.Context) iter.Seq2[Document, error]
	Locator() string
}

// DefaultExtensions are the code file types summarized when none are given.
var DefaultExtensions = []string{".py", ".ts", ".js", ".tsx", ".mts", ".sh", ".go"}

// DefaultIgnoreDirs are never descended into.
var DefaultIgnoreDirs = []string{".git", "node_modules"}

// Options controls which files a source yields.
type Options struct {
	Extensions  []string
	IncludeDocs bool
	IgnoreDirs  []string

	// GitHub
	Token   string
	BaseURL string

	Log *slog.Logger
}

func (o Options) withDefaults() Options {
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = DefaultIgnoreDirs
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// accepts reports whether a file name passes the extension filter.
func (o Options) accepts(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	if slices.Contains(o.Extensions, ext) {
		return true
	}
	return o.IncludeDocs && parser.IsSupportedExtension(name)
}

func (o Options) ignored(dir string) bool {
	return slices.Contains(o.IgnoreDirs, dir)
}

// Open returns the source for a locator. Locators containing "github.com/"
// are remote repositories; anything else must be an existing local path.
func Open(locator string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	if strings.Contains(locator, "github.com/") {
		return NewGitHubSource(locator, opts)
	}
	if locator == "" {
		return nil, &InvalidSourceError{Locator: locator, Reason: "empty locator"}
	}
	if _, err := os.Stat(locator); err != nil {
		reason := err.Error()
		if errors.Is(err, os.ErrNotExist) {
			reason = "path does not exist"
		}
		return nil, &InvalidSourceError{Locator: locator, Reason: reason}
	}
	return NewLocalSource(locator, opts), nil
}

// Collect drains a document sequence into a slice.
func Collect(ctx context.Context, src Source) ([]Document, error) {
	var docs []Document
	for doc, err := range src.Documents(ctx) {
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// decode turns raw bytes into document text. Documentation formats go through
// the parser; code must be valid UTF-8.
func decode(name string, data []byte, opts Options) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	if !slices.Contains(opts.Extensions, ext) && parser.IsSupportedExtension(name) {
		text, err := parser.ExtractText(bytes.NewReader(data), name)
		if err != nil {
			return "", fmt.Errorf("extract text: %w", err)
		}
		return text, nil
	}
	if !isUTF8(data) {
		return "", errInvalidUTF8
	}
	return string(data), nil
}

// unreadable builds the placeholder document for a file that could not be
// decoded, and logs it.
func unreadable(log *slog.Logger, p string, err error) Document {
	log.Warn("unreadable document", "path", p, "error", err)
	return Document{
		Path:       p,
		Unreadable: true,
		ReadErr:    &IngestionError{Path: p, Err: err},
	}
}
