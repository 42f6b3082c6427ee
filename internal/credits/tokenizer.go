package credits

import (
	"log"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer approximates provider token counts. Credits are an internal
// currency, so the count only has to be stable, not provider-exact.
type Tokenizer interface {
	CountTokens(text string) int
}

type tiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// EstimateTokenizer counts one token per four runes, rounded up.
type EstimateTokenizer struct{}

func (EstimateTokenizer) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// NewTokenizer loads cl100k_base and falls back to EstimateTokenizer when the
// encoding cannot be loaded (it is fetched on first use).
func NewTokenizer() Tokenizer {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("[credits] tiktoken unavailable, using estimate tokenizer err=%v", err)
		return EstimateTokenizer{}
	}
	return &tiktokenTokenizer{encoding: tkm}
}
