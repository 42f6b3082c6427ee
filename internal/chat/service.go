package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/multichat/internal/ai"
	"github.com/suPer8Hu/multichat/internal/common"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/usage"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// assistantOffset keeps an assistant row's timestamp after its user row.
// Seq is the real ordering key; the offset keeps timestamp sorts consistent.
const assistantOffset = time.Second

type Options struct {
	ContextWindowSize int
	SummaryThreshold  int
	MinBalance        decimal.Decimal
	ChunkDelay        time.Duration
}

type Service struct {
	repo       *Repo
	dispatcher *ai.Dispatcher
	ledger     *credits.Ledger
	calc       *credits.Calculator
	usage      usage.Publisher
	opts       Options
}

func NewService(repo *Repo, dispatcher *ai.Dispatcher, ledger *credits.Ledger, calc *credits.Calculator, pub usage.Publisher, opts Options) *Service {
	if opts.ContextWindowSize <= 0 || opts.ContextWindowSize > 200 {
		opts.ContextWindowSize = 40
	}
	if opts.SummaryThreshold <= 0 {
		opts.SummaryThreshold = 10
	}
	if pub == nil {
		pub = usage.NopPublisher{}
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		ledger:     ledger,
		calc:       calc,
		usage:      pub,
		opts:       opts,
	}
}

// SendInput is one chat turn. Brainstorm, when set, overrides the chat's
// stored brainstorm settings for this turn only.
type SendInput struct {
	UserID        uint64
	ChatID        string
	Message       string
	Model         string
	CorrelationID string
	Brainstorm    *BrainstormSettings
}

type ChatResult struct {
	UserMessage      *Message
	AIMessage        *Message
	Iterations       []*Message
	Model            string
	TokensUsed       int
	CreditsDeducted  decimal.Decimal
	CreditsRemaining decimal.Decimal
}

// Chat runs one turn. Brainstorm chats go through the brainstorm
// orchestrator, everything else through the regular one.
// A non-nil emit turns on streaming.
func (s *Service) Chat(ctx context.Context, in SendInput, emit Emit) (*ChatResult, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" || in.ChatID == "" {
		return nil, fmt.Errorf("%w: chatId and message are required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Model) == "" {
		in.Model = ai.ModelChatGPT
	}

	if err := validateSettings(in.Brainstorm); err != nil {
		return nil, err
	}

	// 1) validate: model, credits, chat. No side effects on failure.
	// The chat is looked up first only to know which models to check;
	// a missing or foreign chat is reported after the model and credit checks.
	sess, sessErr := s.repo.GetOwnedSession(ctx, in.UserID, in.ChatID)
	if sessErr != nil && !errors.Is(sessErr, gorm.ErrRecordNotFound) {
		return nil, sessErr
	}
	brainstorm := sessErr == nil && sess.IsBrainstorm

	var settings BrainstormSettings
	if brainstorm {
		// the request model is unused here; the main model runs both the
		// brainstorm and its fallback
		settings = sess.Settings().Override(in.Brainstorm)
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		if _, err := s.dispatcher.Resolve(settings.MainModel); err != nil {
			return nil, err
		}
	} else if _, err := s.dispatcher.Resolve(in.Model); err != nil {
		return nil, err
	}

	ok, err := s.ledger.HasAtLeast(ctx, in.UserID, s.opts.MinBalance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, credits.ErrInsufficientCredits
	}
	if sessErr != nil {
		return nil, sessErr
	}

	if brainstorm {
		return s.brainstormWithFallback(ctx, sess, in, settings, emit)
	}
	return s.regular(ctx, sess, in, emit)
}

func (s *Service) regular(ctx context.Context, sess *Session, in SendInput, emit Emit) (*ChatResult, error) {
	spec, err := s.dispatcher.Resolve(in.Model)
	if err != nil {
		return nil, err
	}
	provider, err := s.dispatcher.CreateModel(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	// the user row may already exist from saveMessage
	userRow, err := s.repo.FindUserTurn(ctx, sess.ChatID, in.CorrelationID, in.Message)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2) assemble prompt
	history, err := s.repo.ListRecent(ctx, sess.ChatID, s.opts.ContextWindowSize)
	if err != nil {
		return nil, err
	}
	msgs := s.buildPrompt(spec.Name, sess.Summary, history, userRow, in.Message)

	// 3) invoke
	meta := map[string]any{"chatId": sess.ChatID, "model": spec.Name}
	if emit != nil {
		emit(EventMessageStart, meta)
	}
	text, err := s.generate(ctx, provider, msgs, emit, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	if emit != nil {
		emit(EventMessageComplete, withMeta(meta, map[string]any{"content": text}))
	}

	// 4) persist
	if userRow == nil {
		userRow, err = s.appendUserTurn(ctx, sess, in, KindText)
		if err != nil {
			return nil, err
		}
	}
	tokens, cost := s.calc.Cost(spec.Name, promptText(msgs), text)
	assistant := &Message{
		ChatID:         sess.ChatID,
		UserID:         in.UserID,
		AIResponse:     strPtr(text),
		InputType:      KindText,
		OutputType:     KindText,
		Model:          spec.Name,
		CreditsCharged: cost,
		Timestamp:      userRow.Timestamp.Add(assistantOffset),
		CorrelationID:  userRow.CorrelationID,
	}

	// assistant insert and debit are independent writes
	var (
		g         errgroup.Group
		remaining decimal.Decimal
	)
	g.Go(func() error { return s.repo.Append(ctx, assistant) })
	g.Go(func() error {
		bal, err := s.ledger.Debit(ctx, in.UserID, cost)
		remaining = bal
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("[Chat] persist failed chat=%s user=%d err=%v", sess.ChatID, in.UserID, err)
		return nil, err
	}

	// 5) summary maintenance
	s.maintainSummary(ctx, sess, provider, spec.Name, in.Message, text)

	// 6) usage, best effort
	s.publishUsage(ctx, in.UserID, sess.ChatID, spec.Name, usage.KindChat, tokens, cost)

	return &ChatResult{
		UserMessage:      userRow,
		AIMessage:        assistant,
		Model:            spec.Name,
		TokensUsed:       tokens.TotalTokens,
		CreditsDeducted:  cost,
		CreditsRemaining: remaining,
	}, nil
}

func (s *Service) buildPrompt(model string, summary *string, history []Message, current *Message, text string) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+3)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: ai.SystemPrompt(model)})
	if summary != nil && strings.TrimSpace(*summary) != "" {
		msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: "Conversation summary so far: " + *summary})
	}
	for i := range history {
		m := &history[i]
		if current != nil && m.ID == current.ID {
			continue
		}
		if m.IsUserTurn() {
			msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: *m.UserInput})
		}
		if m.IsAssistantTurn() {
			msgs = append(msgs, ai.Message{Role: ai.RoleAssistant, Content: *m.AIResponse})
		}
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: text})
}

func (s *Service) appendUserTurn(ctx context.Context, sess *Session, in SendInput, kind string) (*Message, error) {
	corr := in.CorrelationID
	if corr == "" {
		corr = common.NewCorrelationID()
	}
	m := &Message{
		ChatID:        sess.ChatID,
		UserID:        in.UserID,
		UserInput:     strPtr(in.Message),
		InputType:     kind,
		OutputType:    kind,
		Timestamp:     time.Now(),
		CorrelationID: strPtr(corr),
	}
	if err := s.repo.Append(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// maintainSummary refreshes the rolling summary once the chat is long enough,
// otherwise just bumps updated_at. Failures are logged only.
func (s *Service) maintainSummary(ctx context.Context, sess *Session, p ai.Provider, model, userText, aiText string) {
	n, err := s.repo.CountMessages(ctx, sess.ChatID)
	if err != nil || n < int64(s.opts.SummaryThreshold) {
		if err != nil {
			log.Printf("[Chat] count messages failed chat=%s err=%v", sess.ChatID, err)
		}
		if err := s.repo.TouchUpdatedAt(ctx, sess.ChatID); err != nil {
			log.Printf("[Chat] touch failed chat=%s err=%v", sess.ChatID, err)
		}
		return
	}

	prior := ""
	if sess.Summary != nil {
		prior = *sess.Summary
	}
	prompt := []ai.Message{
		{Role: ai.RoleSystem, Content: "You maintain a concise running summary of a conversation. Reply with the updated summary only."},
		{Role: ai.RoleUser, Content: fmt.Sprintf("Previous summary:\n%s\n\nLatest exchange:\nUser: %s\nAssistant: %s", prior, userText, aiText)},
	}
	summary, err := p.Chat(ctx, prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Printf("[Chat] summary failed chat=%s model=%s err=%v", sess.ChatID, model, err)
		if err := s.repo.TouchUpdatedAt(ctx, sess.ChatID); err != nil {
			log.Printf("[Chat] touch failed chat=%s err=%v", sess.ChatID, err)
		}
		return
	}
	if err := s.repo.UpdateSummary(ctx, sess.ChatID, summary); err != nil {
		log.Printf("[Chat] store summary failed chat=%s err=%v", sess.ChatID, err)
	}
}

func (s *Service) publishUsage(ctx context.Context, userID uint64, chatID, model, kind string, tokens credits.TokenUsage, cost decimal.Decimal) {
	err := s.usage.Publish(ctx, usage.Event{
		UserID:           userID,
		ChatID:           chatID,
		Model:            model,
		Kind:             kind,
		PromptTokens:     tokens.PromptTokens,
		CompletionTokens: tokens.CompletionTokens,
		TotalTokens:      tokens.TotalTokens,
		Credits:          cost,
		At:               time.Now(),
	})
	if err != nil {
		log.Printf("[Usage] publish failed user=%d chat=%s model=%s err=%v", userID, chatID, model, err)
	}
}

func promptText(msgs []ai.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
