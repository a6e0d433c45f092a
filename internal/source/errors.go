package source

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// InvalidSourceError is returned for a locator that is neither an existing
// local path nor a reachable GitHub repository.
type InvalidSourceError struct {
	Locator string
	Reason  string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source %q: %s", e.Locator, e.Reason)
}

// IngestionError records why one document could not be read.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

func isUTF8(b []byte) bool { return utf8.Valid(b) }
