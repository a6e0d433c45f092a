// Package tokenizer counts model tokens per tier and prices them.
package tokenizer

import (
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a string under one encoding.
type Counter interface {
	Count(text string) int
}

// DefaultCharsPerToken is the ratio used when no BPE encoding is available.
const DefaultCharsPerToken = 4.0

// EstimatingCounter approximates token counts from rune counts.
type EstimatingCounter struct {
	CharsPerToken float64
}

// NewEstimatingCounter returns a counter using DefaultCharsPerToken.
func NewEstimatingCounter() *EstimatingCounter {
	return &EstimatingCounter{CharsPerToken: DefaultCharsPerToken}
}

func (c *EstimatingCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ratio := c.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	tokens := int(float64(utf8.RuneCountInString(text))/ratio + 0.5)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// endOfText is allowed so repositories that mention it (tokenizer code,
// fixtures) do not trip the special-token guard.
var allowedSpecial = []string{"<|endoftext|>"}

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, allowedSpecial, nil))
}
