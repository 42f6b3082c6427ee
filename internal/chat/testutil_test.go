package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/multichat/internal/ai"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/models"
	"github.com/suPer8Hu/multichat/internal/usage"
	"gorm.io/gorm"
)

// fakeProvider answers with a fixed reply, or numbered replies when reply is empty.
type fakeProvider struct {
	mu      sync.Mutex
	name    string
	reply   string
	err     error
	calls   int
	last    []ai.Message
	history [][]ai.Message
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = append([]ai.Message(nil), messages...)
	p.history = append(p.history, p.last)
	if p.err != nil {
		return "", p.err
	}
	if p.reply != "" {
		return p.reply, nil
	}
	return fmt.Sprintf("%s answer %d", p.name, p.calls), nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeStreamProvider streams chunks and can fail after sending them.
type fakeStreamProvider struct {
	fakeProvider
	chunks    []string
	streamErr error
}

func (p *fakeStreamProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	out := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	for _, c := range p.chunks {
		out <- c
	}
	if p.streamErr != nil {
		errs <- p.streamErr
	}
	close(out)
	close(errs)
	return out, errs
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []usage.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev usage.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type testEnv struct {
	db     *gorm.DB
	repo   *Repo
	svc    *Service
	calc   *credits.Calculator
	ledger *credits.Ledger
	pub    *recordingPublisher
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &Session{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestEnv registers each provider under its registry name
// (openai, claude, gemini, deepseek).
func newTestEnv(t *testing.T, providers map[string]ai.Provider, opts Options) *testEnv {
	t.Helper()
	db := openTestDB(t)

	reg := ai.NewRegistry()
	for name, p := range providers {
		p := p
		reg.Register(name, func(ctx context.Context, model string) (ai.Provider, error) {
			return p, nil
		})
	}

	if opts.MinBalance.IsZero() {
		opts.MinBalance = decimal.RequireFromString("0.1")
	}
	if opts.SummaryThreshold == 0 {
		opts.SummaryThreshold = 1000
	}

	repo := NewRepo(db)
	calc := credits.NewCalculator(credits.EstimateTokenizer{}, nil)
	ledger := credits.NewLedger(db)
	pub := &recordingPublisher{}
	svc := NewService(repo, ai.NewDispatcher(reg, nil), ledger, calc, pub, opts)
	return &testEnv{db: db, repo: repo, svc: svc, calc: calc, ledger: ledger, pub: pub}
}

func (e *testEnv) seedUser(t *testing.T, id uint64, balance string) {
	t.Helper()
	u := &models.User{
		ID:           id,
		Email:        fmt.Sprintf("u%d@example.com", id),
		Username:     fmt.Sprintf("u%d", id),
		PasswordHash: "x",
		Credits:      decimal.RequireFromString(balance),
		Plan:         "Free",
	}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (e *testEnv) seedChat(t *testing.T, userID uint64, chatID string, brainstorm *BrainstormSettings) *Session {
	t.Helper()
	in := SaveChatInput{ChatID: chatID, Title: "test chat"}
	if brainstorm != nil {
		in.IsBrainstorm = true
		in.BrainstormSettings = brainstorm
	}
	sess, err := e.svc.SaveChat(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return sess
}

func (e *testEnv) balance(t *testing.T, userID uint64) decimal.Decimal {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (e *testEnv) messages(t *testing.T, chatID string) []Message {
	t.Helper()
	msgs, err := e.repo.List(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return msgs
}

var errUpstream = errors.New("upstream unavailable")
