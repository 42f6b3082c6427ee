package chat

import (
	"context"
	"testing"
	"time"
)

func TestRepo_AppendOrdersBySeqUnderEqualTimestamps(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, &Session{ChatID: "seq", UserID: 1}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	ts := time.Now().Truncate(time.Second)
	for _, text := range []string{"q1", "a1", "q2", "a2"} {
		m := &Message{ChatID: "seq", UserID: 1, Timestamp: ts}
		if text[0] == 'q' {
			m.UserInput = strPtr(text)
		} else {
			m.AIResponse = strPtr(text)
		}
		if err := repo.Append(ctx, m); err != nil {
			t.Fatalf("append %s: %v", text, err)
		}
	}

	msgs, err := repo.List(ctx, "seq")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for i, m := range msgs {
		if m.Seq != uint64(i+1) {
			t.Fatalf("row %d has seq %d", i, m.Seq)
		}
		if m.IsUserTurn() {
			got = append(got, *m.UserInput)
		} else {
			got = append(got, *m.AIResponse)
		}
	}
	if len(got) != 4 || got[0] != "q1" || got[1] != "a1" || got[2] != "q2" || got[3] != "a2" {
		t.Fatalf("unexpected order %v", got)
	}

	recent, err := repo.ListRecent(ctx, "seq", 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || *recent[0].UserInput != "q2" || *recent[1].AIResponse != "a2" {
		t.Fatalf("unexpected recent window %+v", recent)
	}
}

func TestRepo_AppendUnknownChat(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	if err := repo.Append(context.Background(), &Message{ChatID: "nope", UserID: 1, UserInput: strPtr("x")}); err == nil {
		t.Fatalf("expected error for unknown chat")
	}
}

func TestRepo_SummaryAndTouch(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.CreateSession(ctx, &Session{ChatID: "sum", UserID: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := repo.GetSession(ctx, "sum")

	time.Sleep(5 * time.Millisecond)
	if err := repo.UpdateSummary(ctx, "sum", "short summary"); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	after, err := repo.GetSession(ctx, "sum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Summary == nil || *after.Summary != "short summary" {
		t.Fatalf("summary not stored: %v", after.Summary)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updated_at not bumped")
	}
}
