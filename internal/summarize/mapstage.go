package summarize

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/dgallion1/designdoc/internal/source"
	"github.com/dgallion1/designdoc/internal/tokenizer"
)

// Outcome classifies what happened to one document in the map stage.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeModelError Outcome = "model_error"
	OutcomeUnreadable Outcome = "unreadable"
	OutcomeSkipped    Outcome = "skipped"
)

// LeafResult is the map-stage result for one document.
type LeafResult struct {
	Index     int     `json:"index"`
	Path      string  `json:"path"`
	Summary   string  `json:"summary"`
	Outcome   Outcome `json:"outcome"`
	Tokens    int     `json:"tokens"`
	Truncated bool    `json:"truncated,omitempty"`
	Err       error   `json:"-"`
}

// Error returns the failure text, or "" for a successful leaf.
func (l LeafResult) Error() string {
	if l.Err == nil {
		return ""
	}
	return l.Err.Error()
}

// Entries renders the aggregated leaves as inputs for collapse and reduce.
func Entries(leaves []LeafResult) []string {
	out := make([]string, 0, len(leaves))
	for _, l := range leaves {
		if l.Aggregated() {
			out = append(out, LeafEntry(l.Path, l.Summary))
		}
	}
	return out
}

// Aggregated reports whether the leaf feeds collapse and reduce. A model
// call cut short by cancellation says nothing about the file and is left out.
func (l LeafResult) Aggregated() bool {
	switch l.Outcome {
	case OutcomeOK:
		return true
	case OutcomeModelError:
		return !errors.Is(l.Err, context.Canceled) && !errors.Is(l.Err, context.DeadlineExceeded)
	}
	return false
}

// Map summarizes each document independently with bounded concurrency. The
// sequence is consumed as documents arrive. Results are ordered by arrival.
// A failed model call marks its leaf and does not affect any other leaf. On
// cancellation no further documents are dispatched and the finished leaves
// are returned with the context error.
func (s *Summarizer) Map(ctx context.Context, docs iter.Seq2[source.Document, error]) ([]LeafResult, error) {
	s.stage(StageMap, 0, 0)

	results := make(chan LeafResult)
	var leaves []LeafResult
	collected := make(chan struct{})
	go func() {
		for r := range results {
			leaves = append(leaves, r)
			if s.hooks.OnLeaf != nil {
				s.hooks.OnLeaf(r)
			}
		}
		close(collected)
	}()

	sem := make(chan struct{}, s.cfg.MaxConcurrentMap)
	var wg sync.WaitGroup
	var runErr error
	i := 0

dispatch:
	for doc, err := range docs {
		if err != nil {
			runErr = fmt.Errorf("read source: %w", err)
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatch
		}
		wg.Add(1)
		go func(idx int, doc source.Document) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- s.leaf(ctx, idx, doc)
		}(i, doc)
		i++
	}

	wg.Wait()
	close(results)
	<-collected

	slices.SortFunc(leaves, func(a, b LeafResult) int { return a.Index - b.Index })

	failed := 0
	for _, l := range leaves {
		if l.Outcome != OutcomeOK {
			failed++
		}
	}
	s.log.Info("map complete", "documents", len(leaves), "not_ok", failed)

	if runErr == nil {
		runErr = ctx.Err()
	}
	return leaves, runErr
}

func (s *Summarizer) leaf(ctx context.Context, idx int, doc source.Document) LeafResult {
	log := s.log.With("stage", StageMap, "path", doc.Path)
	res := LeafResult{Index: idx, Path: doc.Path}

	if doc.Unreadable {
		res.Outcome = OutcomeUnreadable
		res.Err = doc.ReadErr
		res.Summary = placeholder("unreadable", doc.ReadErr)
		return res
	}

	tier := s.cfg.MapTier
	content := doc.Content
	tokens, err := s.counter.CountTokens(content, tier)
	if err != nil {
		res.Outcome = OutcomeModelError
		res.Err = &ModelInvocationError{Stage: StageMap, Path: doc.Path, Err: err}
		res.Summary = placeholder("summary unavailable", err)
		return res
	}
	res.Tokens = tokens

	if tokens > s.cfg.TruncateTokenCeiling {
		content, res.Truncated = tokenizer.ClipChars(content, s.cfg.TruncateChars)
		if res.Truncated {
			log.Warn("document truncated", "tokens", tokens, "ceiling", s.cfg.TruncateTokenCeiling, "chars", s.cfg.TruncateChars)
		}
	}

	prompt := BuildMapPrompt(doc.Path, content)
	promptTokens, err := s.counter.CountTokens(prompt, tier)
	if err != nil {
		res.Outcome = OutcomeModelError
		res.Err = &ModelInvocationError{Stage: StageMap, Path: doc.Path, Err: err}
		res.Summary = placeholder("summary unavailable", err)
		return res
	}
	if limit := tier.ContextWindow - s.cfg.OutputReserve; promptTokens > limit {
		res.Outcome = OutcomeSkipped
		res.Err = &BudgetOverflowError{Path: doc.Path, Tokens: promptTokens, Limit: limit}
		log.Warn("document skipped", "error", res.Err)
		return res
	}

	summary, err := s.complete(ctx, StageMap, tier, prompt, s.cfg.OutputReserve)
	if err != nil {
		res.Outcome = OutcomeModelError
		res.Err = &ModelInvocationError{Stage: StageMap, Path: doc.Path, Err: err}
		res.Summary = placeholder("summary unavailable", err)
		if !errors.Is(err, context.Canceled) {
			log.Error("map failed", "error", err)
		}
		return res
	}
	res.Outcome = OutcomeOK
	res.Summary = summary
	return res
}

// placeholder keeps the tail of the error, where providers put the reason.
func placeholder(kind string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if r := []rune(msg); len(r) > 200 {
		msg = string(r[len(r)-200:])
	}
	return fmt.Sprintf("[%s: %s]", kind, msg)
}
