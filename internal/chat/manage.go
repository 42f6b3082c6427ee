package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/multichat/internal/common"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SaveMessageInput struct {
	UserInput     string
	AIResponse    string
	Timestamp     time.Time
	Model         string
	CorrelationID string
}

// ChatMetadata creates the owning chat when saveMessage targets a new id.
type ChatMetadata struct {
	Title              string
	IsBrainstorm       bool
	BrainstormSettings *BrainstormSettings
}

type SaveChatInput struct {
	ChatID             string
	Title              string
	IsBrainstorm       bool
	BrainstormSettings *BrainstormSettings
}

// SaveMessage persists a turn ahead of the AI call. A legacy combined row
// (user input and AI response together) is split into two rows.
func (s *Service) SaveMessage(ctx context.Context, userID uint64, chatID string, in SaveMessageInput, meta *ChatMetadata) ([]*Message, error) {
	userText := strings.TrimSpace(in.UserInput)
	aiText := strings.TrimSpace(in.AIResponse)
	if chatID == "" || (userText == "" && aiText == "") {
		return nil, fmt.Errorf("%w: chatId and message text are required", ErrInvalidInput)
	}
	if meta != nil {
		if err := validateSettings(meta.BrainstormSettings); err != nil {
			return nil, err
		}
	}

	sess, err := s.repo.GetSession(ctx, chatID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if meta == nil {
			return nil, err
		}
		sess = &Session{
			ChatID:       chatID,
			UserID:       userID,
			Title:        meta.Title,
			IsBrainstorm: meta.IsBrainstorm,
		}
		if meta.BrainstormSettings != nil {
			sess.BrainstormSettings = datatypes.NewJSONType(meta.BrainstormSettings.WithDefaults())
		}
		if err := s.repo.CreateSession(ctx, sess); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case sess.UserID != userID || sess.IsDeleted:
		return nil, gorm.ErrRecordNotFound
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	corr := in.CorrelationID
	if corr == "" {
		corr = common.NewCorrelationID()
	}
	kind := KindText
	if sess.IsBrainstorm {
		kind = KindBrainstorm
	}

	var rows []*Message
	if userText != "" {
		rows = append(rows, &Message{
			ChatID:        chatID,
			UserID:        userID,
			UserInput:     strPtr(in.UserInput),
			InputType:     kind,
			OutputType:    kind,
			Model:         in.Model,
			Timestamp:     ts,
			CorrelationID: strPtr(corr),
		})
	}
	if aiText != "" {
		at := ts
		if userText != "" {
			at = ts.Add(assistantOffset)
		}
		rows = append(rows, &Message{
			ChatID:        chatID,
			UserID:        userID,
			AIResponse:    strPtr(in.AIResponse),
			InputType:     kind,
			OutputType:    kind,
			Model:         in.Model,
			Timestamp:     at,
			CorrelationID: strPtr(corr),
		})
	}

	for _, m := range rows {
		if err := s.repo.Append(ctx, m); err != nil {
			return nil, err
		}
	}
	if err := s.repo.TouchUpdatedAt(ctx, chatID); err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveChat upserts a chat keyed by ChatID.
func (s *Service) SaveChat(ctx context.Context, userID uint64, in SaveChatInput) (*Session, error) {
	if err := validateSettings(in.BrainstormSettings); err != nil {
		return nil, err
	}
	if in.ChatID == "" {
		id, err := common.NewULID()
		if err != nil {
			return nil, err
		}
		in.ChatID = id
	}

	sess, err := s.repo.GetSession(ctx, in.ChatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sess = &Session{
			ChatID:       in.ChatID,
			UserID:       userID,
			Title:        in.Title,
			IsBrainstorm: in.IsBrainstorm,
		}
		if in.BrainstormSettings != nil {
			sess.BrainstormSettings = datatypes.NewJSONType(in.BrainstormSettings.WithDefaults())
		}
		if err := s.repo.CreateSession(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || sess.IsDeleted {
		return nil, gorm.ErrRecordNotFound
	}

	sess.Title = in.Title
	sess.IsBrainstorm = in.IsBrainstorm
	if in.BrainstormSettings != nil {
		sess.BrainstormSettings = datatypes.NewJSONType(in.BrainstormSettings.WithDefaults())
	}
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) ListChats(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

// GetChat returns an owned chat with its messages in turn order.
func (s *Service) GetChat(ctx context.Context, userID uint64, chatID string) (*Session, []Message, error) {
	sess, err := s.repo.GetOwnedSession(ctx, userID, chatID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.List(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

func (s *Service) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	return s.repo.SoftDeleteSession(ctx, userID, chatID)
}
