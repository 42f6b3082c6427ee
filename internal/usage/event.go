package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kinds of billable model calls.
const (
	KindChat       = "chat"
	KindBrainstorm = "brainstorm"
	KindSummary    = "summary"
)

type Event struct {
	UserID           uint64          `json:"user_id"`
	ChatID           string          `json:"chat_id"`
	Model            string          `json:"model"`
	Kind             string          `json:"kind"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Credits          decimal.Decimal `json:"credits"`
	At               time.Time       `json:"at"`
}

// Publisher ships usage events off the request path. Callers log and drop errors.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events. Used when no broker is reachable.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
