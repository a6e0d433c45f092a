package summarize

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/tokenizer"
)

// Collapse batches and re-summarizes entries until they fit the reduce
// window, then writes the design document. Iterations run one after another;
// batches within an iteration run concurrently. Any model failure here is
// fatal.
func (s *Summarizer) Collapse(ctx context.Context, entries []string) (*Report, error) {
	report := &Report{}
	if len(entries) == 0 {
		return report, ErrNoDocuments
	}

	current := entries
	prevTokens := -1
	for level := 0; ; level++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fits, tokens, err := s.fitsReduce(current)
		if err != nil {
			return report, err
		}
		if fits {
			break
		}
		if level >= s.cfg.MaxCollapseDepth {
			return report, fmt.Errorf("%w: still %d tokens after %d iterations", ErrCollapseStalled, tokens, level)
		}
		if prevTokens >= 0 && tokens >= prevTokens {
			return report, fmt.Errorf("%w: iteration %d did not shrink input (%d tokens)", ErrCollapseStalled, level, tokens)
		}
		prevTokens = tokens

		next, err := s.collapseLevel(ctx, level, current)
		if err != nil {
			return report, err
		}
		report.Levels = append(report.Levels, next)
		report.CollapseIterations++
		current = next
	}

	s.stage(StageReduce, report.CollapseIterations, len(current))
	doc, err := s.complete(ctx, StageReduce, s.cfg.ReduceTier, BuildReducePrompt(current), s.cfg.ReduceOutputReserve)
	if err != nil {
		return report, &ModelInvocationError{Stage: StageReduce, Level: report.CollapseIterations, Err: err}
	}
	report.DesignDoc = doc
	return report, nil
}

// fitsReduce reports whether the reduce prompt over entries fits the reduce
// window with room for the answer.
func (s *Summarizer) fitsReduce(entries []string) (bool, int, error) {
	tier := s.cfg.ReduceTier
	n, err := s.counter.CountTokens(BuildReducePrompt(entries), tier)
	if err != nil {
		return false, 0, fmt.Errorf("count reduce prompt: %w", err)
	}
	return n <= tier.ContextWindow-s.cfg.ReduceOutputReserve, n, nil
}

func (s *Summarizer) collapseLevel(ctx context.Context, level int, entries []string) ([]string, error) {
	tier := s.cfg.CollapseTier
	scaffold, err := s.counter.CountTokens(BuildCollapsePrompt(nil), tier)
	if err != nil {
		return nil, fmt.Errorf("count collapse prompt: %w", err)
	}
	sep, err := s.counter.CountTokens(entrySeparator, tier)
	if err != nil {
		return nil, fmt.Errorf("count separator: %w", err)
	}
	capacity := tier.ContextWindow - s.cfg.OutputReserve - scaffold
	if capacity <= sep {
		return nil, fmt.Errorf("collapse tier %s: no room for input after prompt and output reserve", tier.Name)
	}

	entries = append([]string(nil), entries...)
	costs := make([]int, len(entries))
	for i, e := range entries {
		n, err := s.counter.CountTokens(e, tier)
		if err != nil {
			return nil, fmt.Errorf("count entry %d: %w", i, err)
		}
		if n+sep > capacity {
			e, n, err = s.clipToBudget(e, tier, capacity-sep)
			var overflow *BudgetOverflowError
			if errors.As(err, &overflow) {
				overflow.Path = fmt.Sprintf("collapse level %d entry %d", level, i)
				s.log.Warn("summary cannot be clipped to fit collapse window", "level", level, "entry", i, "tokens", overflow.Tokens, "limit", overflow.Limit)
			}
			if err != nil {
				return nil, err
			}
			entries[i] = e
			s.log.Warn("summary clipped to fit collapse window", "level", level, "entry", i, "tokens", n)
		}
		costs[i] = n + sep
	}

	batches := Pack(costs, capacity)
	s.stage(StageCollapse, level, len(entries))
	s.log.Info("collapse level", "level", level, "entries", len(entries), "batches", len(batches))

	out := make([]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentCollapse)
	for b, idxs := range batches {
		texts := make([]string, len(idxs))
		for j, idx := range idxs {
			texts[j] = entries[idx]
		}
		g.Go(func() error {
			sum, err := s.complete(gctx, StageCollapse, tier, BuildCollapsePrompt(texts), s.cfg.OutputReserve)
			if err != nil {
				return &ModelInvocationError{Stage: StageCollapse, Level: level, Batch: b, Err: err}
			}
			out[b] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// clipToBudget shortens text until its token count is within budget,
// scaling the character cut by the observed overshoot. It returns a
// *BudgetOverflowError when no prefix of text fits.
func (s *Summarizer) clipToBudget(text string, tier model.Tier, budget int) (string, int, error) {
	n, err := s.counter.CountTokens(text, tier)
	if err != nil {
		return "", 0, fmt.Errorf("count clipped entry: %w", err)
	}
	first := n
	for range 16 {
		if n <= budget {
			return text, n, nil
		}
		runes := utf8.RuneCountInString(text)
		keep := int(float64(runes) * float64(budget) / float64(n) * 0.95)
		if keep >= runes {
			keep = runes - 1
		}
		if keep <= 0 {
			break
		}
		text, _ = tokenizer.ClipChars(text, keep)
		if n, err = s.counter.CountTokens(text, tier); err != nil {
			return "", 0, fmt.Errorf("count clipped entry: %w", err)
		}
	}
	if n <= budget {
		return text, n, nil
	}
	return "", 0, &BudgetOverflowError{Tokens: first, Limit: budget}
}
