package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
)

var ErrBadEvent = errors.New("bad usage event")

// Recorder persists events as UsageLog rows. Only the worker uses it.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Decode parses a broker payload.
func Decode(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if ev.UserID == 0 || ev.Model == "" {
		return Event{}, fmt.Errorf("%w: missing user_id or model", ErrBadEvent)
	}
	return ev, nil
}

func (r *Recorder) Record(ctx context.Context, ev Event) error {
	row := &models.UsageLog{
		UserID:           ev.UserID,
		ChatID:           ev.ChatID,
		Model:            ev.Model,
		Kind:             ev.Kind,
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		TotalTokens:      ev.TotalTokens,
		Credits:          ev.Credits,
	}
	if !ev.At.IsZero() {
		row.CreatedAt = ev.At
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// Publish lets a Recorder stand in for a broker, writing synchronously.
func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	return r.Record(ctx, ev)
}
