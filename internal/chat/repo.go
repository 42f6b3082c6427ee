package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	if s.NextSeq == 0 {
		s.NextSeq = 1
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession returns the chat regardless of owner or deleted flag.
func (r *Repo) GetSession(ctx context.Context, chatID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOwnedSession hides chats that are missing, foreign or soft-deleted
// behind gorm.ErrRecordNotFound.
func (r *Repo) GetOwnedSession(ctx context.Context, userID uint64, chatID string) (*Session, error) {
	s, err := r.GetSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID || s.IsDeleted {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

// UpdateSession writes the user-editable columns.
func (r *Repo) UpdateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"title":               s.Title,
			"is_brainstorm":       s.IsBrainstorm,
			"brainstorm_settings": s.BrainstormSettings,
			"updated_at":          time.Now(),
		}).Error
}

// ListSessions returns live chats, most recently updated first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SoftDeleteSession(ctx context.Context, userID uint64, chatID string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("chat_id = ? AND user_id = ? AND is_deleted = ?", chatID, userID, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Append assigns the next per-chat sequence number and inserts m in one
// transaction. Rows are never updated after this.
func (r *Repo) Append(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "next_seq").
			Where("chat_id = ?", m.ChatID).
			First(&s).Error; err != nil {
			return err
		}
		seq := s.NextSeq
		if seq == 0 {
			seq = 1
		}
		if err := tx.Model(&Session{}).
			Where("id = ?", s.ID).
			UpdateColumn("next_seq", seq+1).Error; err != nil {
			return err
		}
		m.Seq = seq
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		return tx.Create(m).Error
	})
}

// List returns a chat's rows in turn order.
func (r *Repo) List(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC, timestamp ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecent returns the newest limit rows, oldest first.
func (r *Repo) ListRecent(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq DESC, id DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

func (r *Repo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).Where("chat_id = ?", chatID).Count(&n).Error
	return n, err
}

// FindUserTurn locates a user row saved ahead of the AI call: by correlation
// id when given, otherwise the latest row if it is a user turn with the same text.
func (r *Repo) FindUserTurn(ctx context.Context, chatID, correlationID, text string) (*Message, error) {
	var m Message
	if correlationID != "" {
		err := r.db.WithContext(ctx).
			Where("chat_id = ? AND correlation_id = ? AND user_input IS NOT NULL", chatID, correlationID).
			Order("seq DESC").
			First(&m).Error
		if err == nil {
			return &m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	if m.IsUserTurn() && *m.UserInput == text {
		return &m, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// UpdateSummary replaces the rolling summary and bumps updated_at.
func (r *Repo) UpdateSummary(ctx context.Context, chatID, text string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{"summary": text, "updated_at": time.Now()}).Error
}

func (r *Repo) TouchUpdatedAt(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("chat_id = ?", chatID).
		UpdateColumn("updated_at", time.Now()).Error
}
