// Package llm calls hosted language models over HTTP.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Request is a single-turn completion request.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the text returned for a Request.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is implemented by each provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Close()
}

// ErrEmptyResponse is returned when the provider answers without text.
var ErrEmptyResponse = errors.New("empty response from model")

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Retryable marks the error as transient for callers that retry.
func (e *RetryableError) Retryable() bool { return true }

var codeBlockRe = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*(.*?)\\s*```$")

// stripCodeBlock removes a fence wrapped around the whole answer.
func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
