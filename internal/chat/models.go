package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Message kinds stored in InputType / OutputType.
const (
	KindText       = "text"
	KindBrainstorm = "brainstorm"
	KindSummary    = "summary"
)

const (
	defaultBrainstormLimit = 4
	maxBrainstormLimit     = 10
)

type BrainstormSettings struct {
	MessagesLimit   int    `json:"messagesLimit"`
	CustomPrompt    string `json:"customPrompt"`
	MainModel       string `json:"mainModel"`
	AdditionalModel string `json:"additionalModel"`
	SummaryModel    string `json:"summaryModel"`
}

// WithDefaults fills unset fields: 4 iterations, ChatGPT and Claude
// alternating, ChatGPT summarizing.
func (b BrainstormSettings) WithDefaults() BrainstormSettings {
	if b.MessagesLimit <= 0 {
		b.MessagesLimit = defaultBrainstormLimit
	}
	if strings.TrimSpace(b.MainModel) == "" {
		b.MainModel = "ChatGPT"
	}
	if strings.TrimSpace(b.AdditionalModel) == "" {
		b.AdditionalModel = "Claude"
	}
	if strings.TrimSpace(b.SummaryModel) == "" {
		b.SummaryModel = "ChatGPT"
	}
	return b
}

// Validate rejects iteration counts outside 0..10. Zero means the default.
func (b BrainstormSettings) Validate() error {
	if b.MessagesLimit < 0 || b.MessagesLimit > maxBrainstormLimit {
		return fmt.Errorf("%w: messagesLimit must be between 1 and %d", ErrInvalidInput, maxBrainstormLimit)
	}
	return nil
}

// validateSettings is Validate for an optional value.
func validateSettings(b *BrainstormSettings) error {
	if b == nil {
		return nil
	}
	return b.Validate()
}

// Override replaces every field o sets. A nil o returns b unchanged.
func (b BrainstormSettings) Override(o *BrainstormSettings) BrainstormSettings {
	if o == nil {
		return b
	}
	if o.MessagesLimit > 0 {
		b.MessagesLimit = o.MessagesLimit
	}
	if strings.TrimSpace(o.CustomPrompt) != "" {
		b.CustomPrompt = o.CustomPrompt
	}
	if strings.TrimSpace(o.MainModel) != "" {
		b.MainModel = o.MainModel
	}
	if strings.TrimSpace(o.AdditionalModel) != "" {
		b.AdditionalModel = o.AdditionalModel
	}
	if strings.TrimSpace(o.SummaryModel) != "" {
		b.SummaryModel = o.SummaryModel
	}
	return b
}

type Session struct {
	ID                 uint64                                 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID             string                                 `gorm:"type:varchar(64);uniqueIndex;not null" json:"chatId"`
	UserID             uint64                                 `gorm:"index;not null" json:"-"`
	Title              string                                 `gorm:"type:varchar(255);not null;default:''" json:"title"`
	Summary            *string                                `gorm:"type:text" json:"summary,omitempty"`
	IsBrainstorm       bool                                   `gorm:"not null;default:false" json:"isBrainstorm"`
	BrainstormSettings datatypes.JSONType[BrainstormSettings] `json:"brainstormSettings"`
	NextSeq            uint64                                 `gorm:"not null;default:1" json:"-"`
	IsDeleted          bool                                   `gorm:"index;not null;default:false" json:"-"`
	CreatedAt          time.Time                              `json:"createdAt"`
	UpdatedAt          time.Time                              `json:"updatedAt"`
}

func (Session) TableName() string { return "chat_sessions" }

// Settings returns the brainstorm configuration with defaults applied.
func (s *Session) Settings() BrainstormSettings {
	return s.BrainstormSettings.Data().WithDefaults()
}

type Message struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID         string          `gorm:"type:varchar(64);not null;index:idx_chat_msg_chat_seq,priority:1" json:"chatId"`
	UserID         uint64          `gorm:"index;not null" json:"-"`
	UserInput      *string         `gorm:"type:text" json:"userInput,omitempty"`
	AIResponse     *string         `gorm:"type:text" json:"aiResponse,omitempty"`
	InputType      string          `gorm:"type:varchar(16);not null;default:'text'" json:"inputType"`
	OutputType     string          `gorm:"type:varchar(16);not null;default:'text'" json:"outputType"`
	Model          string          `gorm:"type:varchar(32)" json:"model"`
	CreditsCharged decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"creditsCharged"`
	Timestamp      time.Time       `gorm:"not null;index" json:"timestamp"`
	Seq            uint64          `gorm:"not null;index:idx_chat_msg_chat_seq,priority:2" json:"seq"`
	CorrelationID  *string         `gorm:"type:varchar(64);index" json:"correlationId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

func (m *Message) IsUserTurn() bool {
	return m.UserInput != nil && *m.UserInput != ""
}

func (m *Message) IsAssistantTurn() bool {
	return m.AIResponse != nil && *m.AIResponse != ""
}

func strPtr(s string) *string { return &s }
