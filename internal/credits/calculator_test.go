package credits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEstimateTokenizer(t *testing.T) {
	tok := EstimateTokenizer{}
	cases := map[string]int{"": 0, "abc": 1, "abcd": 1, "abcde": 2, "héllo wörld": 3}
	for in, want := range cases {
		if got := tok.CountTokens(in); got != want {
			t.Fatalf("CountTokens(%q)=%d want %d", in, got, want)
		}
	}
}

func TestCalculateMessageTokens(t *testing.T) {
	c := NewCalculator(EstimateTokenizer{}, nil)
	u := c.CalculateMessageTokens("12345678", "1234")
	if u.PromptTokens != 2 || u.CompletionTokens != 1 || u.TotalTokens != 3 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestCalculateCredits_Rates(t *testing.T) {
	c := NewCalculator(EstimateTokenizer{}, nil)

	got := c.CalculateCredits("ChatGPT", 1000, 1000)
	if !got.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("chatgpt 1k/1k = %s", got)
	}

	got = c.CalculateCredits("claude", 2000, 0)
	if !got.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("claude 2k prompt = %s", got)
	}

	unknown := c.CalculateCredits("mystery", 500, 500)
	gpt := c.CalculateCredits("ChatGPT", 500, 500)
	if !unknown.Equal(gpt) {
		t.Fatalf("unknown model should use chatgpt rate: %s vs %s", unknown, gpt)
	}
}

func TestCalculateCredits_Deterministic(t *testing.T) {
	c := NewCalculator(EstimateTokenizer{}, nil)
	_, a := c.Cost("Gemini", "some prompt text", "some answer")
	_, b := c.Cost("Gemini", "some prompt text", "some answer")
	if !a.Equal(b) || !a.IsPositive() {
		t.Fatalf("expected equal positive costs, got %s and %s", a, b)
	}
}
