package credits

import (
	"strings"

	"github.com/shopspring/decimal"
)

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Rate is credits charged per 1000 tokens.
type Rate struct {
	Prompt     decimal.Decimal
	Completion decimal.Decimal
}

const defaultRateModel = "chatgpt"

var DefaultRates = map[string]Rate{
	"chatgpt":  {Prompt: decimal.RequireFromString("0.01"), Completion: decimal.RequireFromString("0.03")},
	"claude":   {Prompt: decimal.RequireFromString("0.015"), Completion: decimal.RequireFromString("0.075")},
	"gemini":   {Prompt: decimal.RequireFromString("0.005"), Completion: decimal.RequireFromString("0.015")},
	"deepseek": {Prompt: decimal.RequireFromString("0.002"), Completion: decimal.RequireFromString("0.008")},
}

var thousand = decimal.NewFromInt(1000)

type Calculator struct {
	tokenizer Tokenizer
	rates     map[string]Rate
}

func NewCalculator(tokenizer Tokenizer, rates map[string]Rate) *Calculator {
	if tokenizer == nil {
		tokenizer = EstimateTokenizer{}
	}
	if len(rates) == 0 {
		rates = DefaultRates
	}
	return &Calculator{tokenizer: tokenizer, rates: rates}
}

func (c *Calculator) CalculateMessageTokens(prompt, completion string) TokenUsage {
	p := c.tokenizer.CountTokens(prompt)
	o := c.tokenizer.CountTokens(completion)
	return TokenUsage{PromptTokens: p, CompletionTokens: o, TotalTokens: p + o}
}

// CalculateCredits prices a call. Unknown models are billed at the ChatGPT rate.
func (c *Calculator) CalculateCredits(model string, promptTokens, completionTokens int) decimal.Decimal {
	rate, ok := c.rates[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		rate = c.rates[defaultRateModel]
	}
	p := decimal.NewFromInt(int64(promptTokens)).Mul(rate.Prompt).Div(thousand)
	o := decimal.NewFromInt(int64(completionTokens)).Mul(rate.Completion).Div(thousand)
	return p.Add(o).Round(6)
}

// Cost is CalculateMessageTokens followed by CalculateCredits.
func (c *Calculator) Cost(model, prompt, completion string) (TokenUsage, decimal.Decimal) {
	usage := c.CalculateMessageTokens(prompt, completion)
	return usage, c.CalculateCredits(model, usage.PromptTokens, usage.CompletionTokens)
}
