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
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/usage"
	"gorm.io/gorm"
)

const brainstormSummaryPrompt = "You are moderating a brainstorm between AI models. " +
	"Summarize the discussion below: the key ideas, where the models agreed, and where they differed."

// errBrainstormAttempt marks failures that trigger the regular-chat fallback:
// setup validation and the final summary call.
var errBrainstormAttempt = errors.New("brainstorm attempt failed")

type brainstormModels struct {
	main, additional, summary ai.ModelSpec
	mainP, additionalP        ai.Provider
	summaryP                  ai.Provider
}

// brainstormWithFallback runs a brainstorm and, if the attempt fails, retries
// once as a regular turn with the main model.
func (s *Service) brainstormWithFallback(ctx context.Context, sess *Session, in SendInput, settings BrainstormSettings, emit Emit) (*ChatResult, error) {
	res, userRow, err := s.brainstorm(ctx, sess, in, settings, emit)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, errBrainstormAttempt) {
		return nil, err
	}
	log.Printf("[Brainstorm] attempt failed chat=%s err=%v, falling back to %s", sess.ChatID, err, settings.MainModel)
	if emit != nil {
		emit(EventStatus, map[string]any{"state": "fallback", "model": settings.MainModel, "reason": err.Error()})
	}

	fallback := in
	fallback.Model = settings.MainModel
	if userRow != nil && userRow.CorrelationID != nil {
		fallback.CorrelationID = *userRow.CorrelationID
	}
	res, ferr := s.regular(ctx, sess, fallback, emit)
	if ferr != nil {
		return nil, fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	return res, nil
}

func (s *Service) resolveBrainstorm(ctx context.Context, settings BrainstormSettings) (*brainstormModels, error) {
	var (
		bm  brainstormModels
		err error
	)
	if bm.main, err = s.dispatcher.Resolve(settings.MainModel); err != nil {
		return nil, err
	}
	if bm.additional, err = s.dispatcher.Resolve(settings.AdditionalModel); err != nil {
		return nil, err
	}
	if bm.summary, err = s.dispatcher.Resolve(settings.SummaryModel); err != nil {
		return nil, err
	}
	if bm.mainP, err = s.dispatcher.CreateModel(ctx, bm.main.Name); err != nil {
		return nil, err
	}
	if bm.additionalP, err = s.dispatcher.CreateModel(ctx, bm.additional.Name); err != nil {
		return nil, err
	}
	if bm.summaryP, err = s.dispatcher.CreateModel(ctx, bm.summary.Name); err != nil {
		return nil, err
	}
	return &bm, nil
}

// brainstorm alternates main and additional models for N iterations, each
// fed the previous answer, then summarizes. Credits accumulate and are
// debited once at the end. The user row is returned even on failure.
func (s *Service) brainstorm(ctx context.Context, sess *Session, in SendInput, settings BrainstormSettings, emit Emit) (*ChatResult, *Message, error) {
	bm, err := s.resolveBrainstorm(ctx, settings)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: setup: %w", errBrainstormAttempt, err)
	}

	userRow, err := s.repo.FindUserTurn(ctx, sess.ChatID, in.CorrelationID, in.Message)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		userRow, err = s.appendUserTurn(ctx, sess, in, KindBrainstorm)
	}
	if err != nil {
		return nil, nil, err
	}

	type call struct {
		model  string
		kind   string
		tokens credits.TokenUsage
		cost   decimal.Decimal
	}
	var (
		calls      []call
		total      = decimal.Zero
		totalTok   int
		iterations = make([]*Message, 0, settings.MessagesLimit)
		outputs    = make([]string, 0, settings.MessagesLimit)
	)

	input := in.Message
	if p := strings.TrimSpace(settings.CustomPrompt); p != "" {
		input = p + "\n\n" + input
	}

	for i := 0; i < settings.MessagesLimit; i++ {
		spec, p := bm.main, bm.mainP
		if i%2 == 1 {
			spec, p = bm.additional, bm.additionalP
		}

		msgs := []ai.Message{
			{Role: ai.RoleSystem, Content: ai.SystemPrompt(spec.Name)},
			{Role: ai.RoleUser, Content: input},
		}
		meta := map[string]any{"chatId": sess.ChatID, "model": spec.Name, "iteration": i}
		if emit != nil {
			emit(EventMessageStart, meta)
		}

		text, err := s.generate(ctx, p, msgs, emit, meta)
		cost := decimal.Zero
		failed := err != nil || strings.TrimSpace(text) == ""
		if failed {
			log.Printf("[Brainstorm] iteration failed chat=%s i=%d model=%s err=%v", sess.ChatID, i, spec.Name, err)
			text = fmt.Sprintf("[%s failed to respond]", spec.Name)
		} else {
			tokens, c := s.calc.Cost(spec.Name, promptText(msgs), text)
			cost = c
			total = total.Add(c)
			totalTok += tokens.TotalTokens
			calls = append(calls, call{model: spec.Name, kind: usage.KindBrainstorm, tokens: tokens, cost: c})
			// the next model answers this one
			input = text
		}

		row := &Message{
			ChatID:         sess.ChatID,
			UserID:         in.UserID,
			AIResponse:     strPtr(text),
			InputType:      KindBrainstorm,
			OutputType:     KindBrainstorm,
			Model:          spec.Name,
			CreditsCharged: cost,
			Timestamp:      userRow.Timestamp.Add(time.Duration(i+1) * assistantOffset),
			CorrelationID:  userRow.CorrelationID,
		}
		if err := s.repo.Append(ctx, row); err != nil {
			return nil, userRow, err
		}
		iterations = append(iterations, row)
		outputs = append(outputs, fmt.Sprintf("%s: %s", spec.Name, text))

		if emit != nil {
			emit(EventMessageComplete, withMeta(meta, map[string]any{"content": text, "failed": failed, "message": row}))
		}
	}

	// summary: a failure here aborts the attempt
	summaryMsgs := []ai.Message{
		{Role: ai.RoleSystem, Content: brainstormSummaryPrompt},
		{Role: ai.RoleUser, Content: strings.Join(outputs, "\n\n")},
	}
	meta := map[string]any{"chatId": sess.ChatID, "model": bm.summary.Name}
	if emit != nil {
		emit(EventSummaryStart, meta)
	}
	summary, err := s.generate(ctx, bm.summaryP, summaryMsgs, emit, meta)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		return nil, userRow, fmt.Errorf("%w: summary %s: %w", errBrainstormAttempt, bm.summary.Name, err)
	}
	sumTokens, sumCost := s.calc.Cost(bm.summary.Name, promptText(summaryMsgs), summary)
	total = total.Add(sumCost)
	totalTok += sumTokens.TotalTokens
	calls = append(calls, call{model: bm.summary.Name, kind: usage.KindSummary, tokens: sumTokens, cost: sumCost})

	summaryRow := &Message{
		ChatID:         sess.ChatID,
		UserID:         in.UserID,
		AIResponse:     strPtr(summary),
		InputType:      KindBrainstorm,
		OutputType:     KindSummary,
		Model:          bm.summary.Name,
		CreditsCharged: sumCost,
		Timestamp:      userRow.Timestamp.Add(time.Duration(settings.MessagesLimit+1) * assistantOffset),
		CorrelationID:  userRow.CorrelationID,
	}
	if err := s.repo.Append(ctx, summaryRow); err != nil {
		return nil, userRow, err
	}
	if emit != nil {
		emit(EventSummaryComplete, withMeta(meta, map[string]any{"content": summary, "message": summaryRow}))
	}

	// single debit for the whole session
	remaining, err := s.ledger.Debit(ctx, in.UserID, total)
	if err != nil {
		log.Printf("[Brainstorm] debit failed chat=%s user=%d total=%s err=%v", sess.ChatID, in.UserID, total, err)
		return nil, userRow, err
	}
	if err := s.repo.TouchUpdatedAt(ctx, sess.ChatID); err != nil {
		log.Printf("[Brainstorm] touch failed chat=%s err=%v", sess.ChatID, err)
	}
	for _, c := range calls {
		s.publishUsage(ctx, in.UserID, sess.ChatID, c.model, c.kind, c.tokens, c.cost)
	}

	return &ChatResult{
		UserMessage:      userRow,
		AIMessage:        summaryRow,
		Iterations:       iterations,
		Model:            bm.summary.Name,
		TokensUsed:       totalTok,
		CreditsDeducted:  total,
		CreditsRemaining: remaining,
	}, userRow, nil
}
