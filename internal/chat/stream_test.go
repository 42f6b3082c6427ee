package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/suPer8Hu/multichat/internal/ai"
)

type recordedEvent struct {
	name string
	data map[string]any
}

func collect(events *[]recordedEvent) Emit {
	return func(event string, data map[string]any) {
		*events = append(*events, recordedEvent{name: event, data: data})
	}
}

func tokenText(events []recordedEvent) (string, []bool) {
	var (
		b      strings.Builder
		replay []bool
	)
	for _, e := range events {
		if e.name != EventToken {
			continue
		}
		b.WriteString(e.data["text"].(string))
		replay = append(replay, e.data["replay"].(bool))
	}
	return b.String(), replay
}

func TestSplitForReplay_Lossless(t *testing.T) {
	text := "Hello there. This is a fairly long sentence that should be split on words!\nNew line here."
	chunks := splitForReplay(text)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %q", chunks)
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("chunks do not rebuild the text: %q", chunks)
	}
	if chunks[0] != "Hello there. " {
		t.Fatalf("expected sentence boundary first, got %q", chunks[0])
	}
	if splitForReplay("") != nil {
		t.Fatalf("empty text should yield no chunks")
	}
}

func TestChatStream_ReplayPath(t *testing.T) {
	prov := &fakeProvider{name: "gpt", reply: "One sentence. Then another one follows here."}
	env := newTestEnv(t, map[string]ai.Provider{"openai": prov}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "s-replay", nil)

	var events []recordedEvent
	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "s-replay", Message: "hi", Model: "ChatGPT"}, collect(&events))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if events[0].name != EventMessageStart || events[len(events)-1].name != EventMessageComplete {
		t.Fatalf("unexpected event order: first=%s last=%s", events[0].name, events[len(events)-1].name)
	}
	text, replay := tokenText(events)
	if text != prov.reply {
		t.Fatalf("tokens rebuild %q, want %q", text, prov.reply)
	}
	for _, r := range replay {
		if !r {
			t.Fatalf("replayed tokens must be labelled replay=true")
		}
	}
	if *res.AIMessage.AIResponse != prov.reply {
		t.Fatalf("stored response differs from streamed text")
	}
}

func TestChatStream_ProviderStreamPath(t *testing.T) {
	prov := &fakeStreamProvider{chunks: []string{"par", "tial ", "stream"}}
	env := newTestEnv(t, map[string]ai.Provider{"openai": prov}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "s-live", nil)

	var events []recordedEvent
	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "s-live", Message: "hi", Model: "ChatGPT"}, collect(&events))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	text, replay := tokenText(events)
	if text != "partial stream" || len(replay) != 3 {
		t.Fatalf("unexpected tokens %q (%d)", text, len(replay))
	}
	for _, r := range replay {
		if r {
			t.Fatalf("live tokens must be labelled replay=false")
		}
	}
	if prov.Calls() != 0 {
		t.Fatalf("no non-streaming call expected, got %d", prov.Calls())
	}
	if *res.AIMessage.AIResponse != "partial stream" {
		t.Fatalf("unexpected stored response %q", *res.AIMessage.AIResponse)
	}
}

func TestChatStream_MidStreamFailureFallsBack(t *testing.T) {
	prov := &fakeStreamProvider{
		fakeProvider: fakeProvider{name: "gpt", reply: "Complete answer."},
		chunks:       []string{"Compl"},
		streamErr:    errUpstream,
	}
	env := newTestEnv(t, map[string]ai.Provider{"openai": prov}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "s-fallback", nil)

	var events []recordedEvent
	res, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "s-fallback", Message: "hi", Model: "ChatGPT"}, collect(&events))
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if prov.Calls() != 1 {
		t.Fatalf("expected one non-streaming call, got %d", prov.Calls())
	}
	if *res.AIMessage.AIResponse != "Complete answer." {
		t.Fatalf("unexpected stored response %q", *res.AIMessage.AIResponse)
	}

	resets := 0
	for _, e := range events {
		if e.name == EventToken && e.data["reset"] == true {
			resets++
			if e.data["replay"] != true {
				t.Fatalf("fallback tokens are replayed")
			}
		}
	}
	if resets != 1 {
		t.Fatalf("expected exactly one reset marker, got %d", resets)
	}
}

func TestBrainstormStream_Events(t *testing.T) {
	env := newTestEnv(t, map[string]ai.Provider{
		"openai": &fakeProvider{name: "gpt"},
		"claude": &fakeProvider{name: "claude"},
	}, Options{})
	env.seedUser(t, 1, "10")
	env.seedChat(t, 1, "s-bs", &BrainstormSettings{MessagesLimit: 2})

	var events []recordedEvent
	if _, err := env.svc.Chat(context.Background(), SendInput{UserID: 1, ChatID: "s-bs", Message: "go"}, collect(&events)); err != nil {
		t.Fatalf("brainstorm: %v", err)
	}

	var names []string
	for _, e := range events {
		if e.name != EventToken {
			names = append(names, e.name)
		}
	}
	want := []string{EventMessageStart, EventMessageComplete, EventMessageStart, EventMessageComplete, EventSummaryStart, EventSummaryComplete}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", names)
	}
	if events[0].data["iteration"] != 0 || events[0].data["model"] != "ChatGPT" {
		t.Fatalf("unexpected first start %+v", events[0].data)
	}
}
