package tokenizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgallion1/designdoc/internal/model"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// ErrUnsupportedEncoding is returned when a tier names an encoding that
// cannot be loaded.
var ErrUnsupportedEncoding = errors.New("unsupported token encoding")

// ResolveFunc builds a Counter for a tier.
type ResolveFunc func(tier model.Tier) (Counter, error)

// Tokenizer counts tokens with the encoding each tier uses, caching one
// counter per encoding.
type Tokenizer struct {
	mu       sync.Mutex
	counters map[string]Counter
	resolve  ResolveFunc
	log      *slog.Logger
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tokenizer) { t.log = log }
}

// WithResolver replaces the tiktoken-backed resolver.
func WithResolver(fn ResolveFunc) Option {
	return func(t *Tokenizer) { t.resolve = fn }
}

// New creates a Tokenizer.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		counters: make(map[string]Counter),
		log:      slog.Default(),
	}
	t.resolve = t.resolveTiktoken
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CountTokens returns the token count of text under the tier's encoding.
func (t *Tokenizer) CountTokens(text string, tier model.Tier) (int, error) {
	c, err := t.counterFor(tier)
	if err != nil {
		return 0, err
	}
	return c.Count(text), nil
}

func (t *Tokenizer) counterFor(tier model.Tier) (Counter, error) {
	key := tier.Encoding
	if key == "" {
		key = "model:" + tier.Model
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[key]; ok {
		return c, nil
	}
	c, err := t.resolve(tier)
	if err != nil {
		return nil, err
	}
	t.counters[key] = c
	return c, nil
}

func (t *Tokenizer) resolveTiktoken(tier model.Tier) (Counter, error) {
	switch tier.Encoding {
	case model.EncodingEstimate:
		return NewEstimatingCounter(), nil
	case "":
		enc, err := tiktoken.EncodingForModel(tier.Model)
		if err != nil {
			t.log.Warn("no tokenizer for model, estimating from characters",
				"tier", tier.Name, "model", tier.Model, "error", err)
			return NewEstimatingCounter(), nil
		}
		return &bpeCounter{enc: enc}, nil
	default:
		enc, err := tiktoken.GetEncoding(tier.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s encoding %q: %v", ErrUnsupportedEncoding, tier.Name, tier.Encoding, err)
		}
		return &bpeCounter{enc: enc}, nil
	}
}

// EstimateCost converts a token count into dollars at the tier's input price.
func EstimateCost(tokens int, tier model.Tier) float64 {
	return float64(tokens) / 1000 * tier.InputPer1K
}

// ClipChars keeps at most budget runes of text and reports whether anything
// was dropped.
func ClipChars(text string, budget int) (string, bool) {
	if budget < 0 {
		budget = 0
	}
	n := 0
	for i := range text {
		if n == budget {
			return text[:i], true
		}
		n++
	}
	return text, false
}
