package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/multichat/internal/ai"
	"gorm.io/gorm"
)

func TestBrainstorm_AlternatesModelsAndDebitsOnce(t *testing.T) {
	gpt := &fakeProvider{name: "gpt"}
	claude := &fakeProvider{name: "claude"}
	gemini := &fakeProvider{name: "gemini", reply: "summary of the ideas"}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": claude, "gemini": gemini}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs", &BrainstormSettings{
		MessagesLimit:   4,
		MainModel:       "ChatGPT",
		AdditionalModel: "Claude",
		SummaryModel:    "Gemini",
	})

	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs", Message: "name a product"}, nil)
	if err != nil {
		t.Fatalf("brainstorm: %v", err)
	}

	msgs := env.messages(t, "bs")
	if len(msgs) != 6 {
		t.Fatalf("expected user + 4 iterations + summary, got %d rows", len(msgs))
	}
	if !msgs[0].IsUserTurn() {
		t.Fatalf("first row should be the user turn")
	}

	wantModels := []string{"ChatGPT", "Claude", "ChatGPT", "Claude"}
	sum := decimal.Zero
	for i, want := range wantModels {
		m := msgs[i+1]
		if m.Model != want || m.OutputType != KindBrainstorm {
			t.Fatalf("iteration %d: model=%s kind=%s, want %s brainstorm", i, m.Model, m.OutputType, want)
		}
		sum = sum.Add(m.CreditsCharged)
	}
	last := msgs[5]
	if last.OutputType != KindSummary || last.Model != "Gemini" || *last.AIResponse != "summary of the ideas" {
		t.Fatalf("unexpected summary row %+v", last)
	}
	sum = sum.Add(last.CreditsCharged)

	if !res.CreditsDeducted.Equal(sum) {
		t.Fatalf("deducted %s, want sum of rows %s", res.CreditsDeducted, sum)
	}
	if bal := env.balance(t, 1); !bal.Equal(decimal.NewFromInt(10).Sub(sum)) {
		t.Fatalf("balance %s, want %s", bal, decimal.NewFromInt(10).Sub(sum))
	}
	if len(res.Iterations) != 4 || res.AIMessage.ID != last.ID {
		t.Fatalf("unexpected result shape %+v", res)
	}

	// each model answers the previous one
	if claude.history[0][1].Content != "gpt answer 1" || gpt.history[1][1].Content != "claude answer 1" {
		t.Fatalf("each iteration should answer the previous one: claude got %q, gpt got %q",
			claude.history[0][1].Content, gpt.history[1][1].Content)
	}
	if len(env.pub.events) != 5 {
		t.Fatalf("expected 5 usage events, got %d", len(env.pub.events))
	}
}

func TestBrainstorm_IterationFailureKeepsSlot(t *testing.T) {
	gpt := &fakeProvider{name: "gpt"}
	claude := &fakeProvider{name: "claude", err: errUpstream}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": claude}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-fail", &BrainstormSettings{MessagesLimit: 4, CustomPrompt: "Be bold."})

	if _, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs-fail", Message: "go"}, nil); err != nil {
		t.Fatalf("brainstorm: %v", err)
	}

	msgs := env.messages(t, "bs-fail")
	assistant := 0
	for _, m := range msgs {
		if m.IsAssistantTurn() {
			assistant++
		}
	}
	if assistant != 5 {
		t.Fatalf("expected 5 assistant-side rows, got %d", assistant)
	}
	for _, i := range []int{2, 4} {
		m := msgs[i]
		if *m.AIResponse != "[Claude failed to respond]" || !m.CreditsCharged.IsZero() {
			t.Fatalf("row %d should be a zero-cost placeholder: %+v", i, m)
		}
	}
	if got := gpt.history[1][1].Content; got != "gpt answer 1" {
		t.Fatalf("after a failed slot the next model gets the last good answer, got %q", got)
	}
}

func TestBrainstorm_CustomPromptSeedsFirstIteration(t *testing.T) {
	gpt := &fakeProvider{name: "gpt"}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": &fakeProvider{name: "claude"}}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-seed", &BrainstormSettings{MessagesLimit: 1, CustomPrompt: "Be bold."})

	if _, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs-seed", Message: "go"}, nil); err != nil {
		t.Fatalf("brainstorm: %v", err)
	}
	// first call is the iteration, second the summary
	if gpt.Calls() != 2 {
		t.Fatalf("expected 2 gpt calls, got %d", gpt.Calls())
	}
	if got := gpt.history[0][1].Content; got != "Be bold.\n\ngo" {
		t.Fatalf("unexpected seed input %q", got)
	}
	if n := len(env.messages(t, "bs-seed")); n != 3 {
		t.Fatalf("expected user + 1 iteration + summary, got %d", n)
	}
}

func TestBrainstorm_SummaryFailureFallsBackToRegular(t *testing.T) {
	gpt := &fakeProvider{name: "gpt", reply: "plain answer"}
	claude := &fakeProvider{name: "claude"}
	gemini := &fakeProvider{name: "gemini", err: errUpstream}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": claude, "gemini": gemini}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-fallback", &BrainstormSettings{MessagesLimit: 2, SummaryModel: "Gemini"})

	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs-fallback", Message: "go"}, nil)
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if res.Model != "ChatGPT" || res.AIMessage.OutputType != KindText {
		t.Fatalf("expected regular ChatGPT turn, got model=%s kind=%s", res.Model, res.AIMessage.OutputType)
	}

	msgs := env.messages(t, "bs-fallback")
	users := 0
	for _, m := range msgs {
		if m.IsUserTurn() {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("fallback must reuse the brainstorm user row, got %d user rows", users)
	}
	// only the regular turn is billed
	if bal := env.balance(t, 1); !bal.Equal(decimal.NewFromInt(10).Sub(res.CreditsDeducted)) {
		t.Fatalf("balance %s, want %s", bal, decimal.NewFromInt(10).Sub(res.CreditsDeducted))
	}
}

func TestBrainstorm_SetupFailureReportsValidation(t *testing.T) {
	env := newTestEnv(t, map[string]ai.Provider{"claude": &fakeProvider{name: "claude"}}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-setup", &BrainstormSettings{MainModel: "ChatGPT"})

	_, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs-setup", Message: "go", Model: "Claude"}, nil)
	if !errors.Is(err, ai.ErrProviderNotConfigured) {
		t.Fatalf("expected provider error after failed fallback, got %v", err)
	}
	if n := len(env.messages(t, "bs-setup")); n != 0 {
		t.Fatalf("setup failure must not write rows, got %d", n)
	}
	if bal := env.balance(t, 1); !bal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance changed to %s", bal)
	}
}

func TestBrainstorm_RequestOverridesStoredSettings(t *testing.T) {
	gpt := &fakeProvider{name: "gpt"}
	claude := &fakeProvider{name: "claude"}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": claude}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-override", &BrainstormSettings{MessagesLimit: 4})

	in := SendInput{UserID: 1, ChatID: "bs-override", Message: "go", Brainstorm: &BrainstormSettings{MessagesLimit: 2}}
	res, err := env.svc.Chat(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("brainstorm: %v", err)
	}
	if len(res.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(res.Iterations))
	}
	if got := len(env.messages(t, "bs-override")); got != 4 {
		t.Fatalf("expected user + 2 iterations + summary, got %d rows", got)
	}

	sess, err := env.repo.GetSession(context.Background(), "bs-override")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Settings().MessagesLimit != 4 {
		t.Fatalf("override must not be persisted, stored limit=%d", sess.Settings().MessagesLimit)
	}
}

func TestBrainstorm_RejectsOutOfRangeLimit(t *testing.T) {
	gpt := &fakeProvider{name: "gpt"}
	claude := &fakeProvider{name: "claude"}
	env := newTestEnv(t, map[string]ai.Provider{"openai": gpt, "claude": claude}, Options{})
	env.seedUser(t, 1, "1000")
	env.seedChat(t, 1, "bs-limit", &BrainstormSettings{MessagesLimit: 2})
	ctx := context.Background()

	for _, limit := range []int{11, 300, 1 << 50, -1} {
		in := SendInput{UserID: 1, ChatID: "bs-limit", Message: "go", Brainstorm: &BrainstormSettings{MessagesLimit: limit}}
		if _, err := env.svc.Chat(ctx, in, nil); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("limit %d: expected ErrInvalidInput, got %v", limit, err)
		}
	}
	if gpt.Calls()+claude.Calls() != 0 {
		t.Fatalf("rejected requests must not call providers, got %d calls", gpt.Calls()+claude.Calls())
	}
	if n := len(env.messages(t, "bs-limit")); n != 0 {
		t.Fatalf("rejected requests must not write rows, got %d", n)
	}
	if bal := env.balance(t, 1); !bal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("balance changed to %s", bal)
	}

	if _, err := env.svc.SaveChat(ctx, 1, SaveChatInput{ChatID: "bs-big", IsBrainstorm: true, BrainstormSettings: &BrainstormSettings{MessagesLimit: 11}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("saveChat: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.repo.GetSession(ctx, "bs-big"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("rejected chat must not be created, got %v", err)
	}

	meta := &ChatMetadata{Title: "t", IsBrainstorm: true, BrainstormSettings: &BrainstormSettings{MessagesLimit: 50}}
	if _, err := env.svc.SaveMessage(ctx, 1, "bs-meta", SaveMessageInput{UserInput: "hi"}, meta); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("saveMessage: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.repo.GetSession(ctx, "bs-meta"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("rejected metadata must not create a chat, got %v", err)
	}

	// the upper bound itself is accepted
	in := SendInput{UserID: 1, ChatID: "bs-limit", Message: "go", Brainstorm: &BrainstormSettings{MessagesLimit: 10}}
	res, err := env.svc.Chat(ctx, in, nil)
	if err != nil {
		t.Fatalf("limit 10: %v", err)
	}
	if len(res.Iterations) != 10 {
		t.Fatalf("expected 10 iterations, got %d", len(res.Iterations))
	}
}

func TestBrainstorm_IgnoresRequestModel(t *testing.T) {
	claude := &fakeProvider{name: "claude"}
	env := newTestEnv(t, map[string]ai.Provider{"claude": claude}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "bs-claude", &BrainstormSettings{
		MessagesLimit:   2,
		MainModel:       "Claude",
		AdditionalModel: "Claude",
		SummaryModel:    "Claude",
	})

	// no OpenAI provider, and the request model would default to ChatGPT
	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "bs-claude", Message: "go"}, nil)
	if err != nil {
		t.Fatalf("brainstorm with configured models: %v", err)
	}
	if len(res.Iterations) != 2 || res.Model != "Claude" {
		t.Fatalf("unexpected result model=%s iterations=%d", res.Model, len(res.Iterations))
	}
	if n := len(env.messages(t, "bs-claude")); n != 4 {
		t.Fatalf("expected user + 2 iterations + summary, got %d rows", n)
	}
}
