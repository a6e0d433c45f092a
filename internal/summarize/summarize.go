// Package summarize turns a stream of documents into one design document by
// hierarchical summarization: every document is summarized alone (map), the
// summaries are repeatedly batched and summarized until they fit one context
// window (collapse), and a final call writes the document (reduce).
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/source"
)

// Model completes one prompt on a tier, producing at most maxTokens.
type Model interface {
	Complete(ctx context.Context, tier model.Tier, prompt string, maxTokens int) (string, error)
}

// Counter counts tokens the way a tier's model does.
type Counter interface {
	CountTokens(text string, tier model.Tier) (int, error)
}

// Checkpoint memoizes successful model calls by content so an interrupted
// run can resume without paying for finished work.
type Checkpoint interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, stage, value string) error
}

// Config holds the tiers and budgets of a run.
type Config struct {
	MapTier      model.Tier
	CollapseTier model.Tier
	ReduceTier   model.Tier

	MaxConcurrentMap      int
	MaxConcurrentCollapse int

	// Documents over TruncateTokenCeiling tokens are clipped to
	// TruncateChars characters before the map call.
	TruncateTokenCeiling int
	TruncateChars        int

	// Tokens kept free for the answer in map/collapse and reduce calls.
	OutputReserve       int
	ReduceOutputReserve int

	MaxCollapseDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentMap <= 0 {
		c.MaxConcurrentMap = 5
	}
	if c.MaxConcurrentCollapse <= 0 {
		c.MaxConcurrentCollapse = 3
	}
	if c.TruncateTokenCeiling <= 0 {
		c.TruncateTokenCeiling = 3600
	}
	if c.TruncateChars <= 0 {
		c.TruncateChars = 15000
	}
	if c.OutputReserve <= 0 {
		c.OutputReserve = 256
	}
	if c.ReduceOutputReserve <= 0 {
		c.ReduceOutputReserve = 2048
	}
	if c.MaxCollapseDepth <= 0 {
		c.MaxCollapseDepth = 10
	}
	return c
}

// Validate checks that every stage has room for a prompt.
func (c Config) Validate() error {
	c = c.withDefaults()
	for _, st := range []struct {
		name    string
		tier    model.Tier
		reserve int
	}{
		{StageMap, c.MapTier, c.OutputReserve},
		{StageCollapse, c.CollapseTier, c.OutputReserve},
		{StageReduce, c.ReduceTier, c.ReduceOutputReserve},
	} {
		if err := st.tier.Validate(); err != nil {
			return fmt.Errorf("%s tier: %w", st.name, err)
		}
		if st.reserve >= st.tier.ContextWindow {
			return fmt.Errorf("%s tier %s: output reserve %d leaves no room in a %d token window",
				st.name, st.tier.Name, st.reserve, st.tier.ContextWindow)
		}
	}
	return nil
}

// Hooks observe progress. Callbacks are never invoked concurrently.
type Hooks struct {
	OnLeaf  func(LeafResult)
	OnStage func(stage string, level, inputs int)
}

// Report is the outcome of a full run.
type Report struct {
	Leaves []LeafResult `json:"leaves"`
	// Levels holds the summaries produced by each collapse iteration.
	Levels             [][]string `json:"levels"`
	CollapseIterations int        `json:"collapse_iterations"`
	DesignDoc          string     `json:"design_doc"`
}

// Summarizer runs the map, collapse and reduce stages.
type Summarizer struct {
	cfg        Config
	model      Model
	counter    Counter
	checkpoint Checkpoint
	hooks      Hooks
	log        *slog.Logger
	backoff    func(attempt int) time.Duration
}

// Option configures a Summarizer.
type Option func(*Summarizer)

func WithCheckpoint(cp Checkpoint) Option {
	return func(s *Summarizer) { s.checkpoint = cp }
}

func WithHooks(h Hooks) Option {
	return func(s *Summarizer) { s.hooks = h }
}

// WithBackoff replaces the retry delay schedule.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(s *Summarizer) { s.backoff = fn }
}

func New(cfg Config, m Model, counter Counter, log *slog.Logger, opts ...Option) (*Summarizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Summarizer{
		cfg:     cfg,
		model:   m,
		counter: counter,
		log:     log,
		backoff: Backoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Summarizer) Config() Config { return s.cfg }

// Run maps every document and reduces the results to a design document.
// Leaves are returned even when a later stage fails.
func (s *Summarizer) Run(ctx context.Context, docs iter.Seq2[source.Document, error]) (*Report, error) {
	leaves, err := s.Map(ctx, docs)
	if err != nil {
		return &Report{Leaves: leaves}, err
	}
	report, err := s.Collapse(ctx, Entries(leaves))
	if report == nil {
		report = &Report{}
	}
	report.Leaves = leaves
	return report, err
}

// complete calls the model with checkpointing and retries on transient errors.
func (s *Summarizer) complete(ctx context.Context, stage string, tier model.Tier, prompt string, maxTokens int) (string, error) {
	key := checkpointKey(stage, tier.Model, prompt)
	if s.checkpoint != nil {
		v, ok, err := s.checkpoint.Get(ctx, key)
		if err != nil {
			s.log.Warn("checkpoint read failed", "stage", stage, "error", err)
		} else if ok {
			return v, nil
		}
	}

	var out string
	var lastErr error
	for attempt := range MaxRetries {
		out, lastErr = s.model.Complete(ctx, tier, prompt, maxTokens)
		if lastErr == nil || !IsRetryable(lastErr) {
			break
		}
		s.log.Warn("retryable model error", "stage", stage, "attempt", attempt, "error", lastErr)
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	out = strings.TrimSpace(out)

	if s.checkpoint != nil {
		if err := s.checkpoint.Put(ctx, key, stage, out); err != nil {
			s.log.Warn("checkpoint write failed", "stage", stage, "error", err)
		}
	}
	return out, nil
}

func checkpointKey(stage, modelName, prompt string) string {
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Summarizer) stage(stage string, level, inputs int) {
	s.log.Info("stage", "stage", stage, "level", level, "inputs", inputs)
	if s.hooks.OnStage != nil {
		s.hooks.OnStage(stage, level, inputs)
	}
}
