package chat

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/suPer8Hu/multichat/internal/ai"
)

// Stream event names written to the client as NDJSON.
const (
	EventMessageStart    = "messageStart"
	EventToken           = "token"
	EventMessageComplete = "messageComplete"
	EventSummaryStart    = "summaryStart"
	EventSummaryComplete = "summaryComplete"
	EventStatus          = "status"
	EventError           = "error"
)

// Emit receives intermediate stream events. The handler writes the terminal
// status or error event itself once the orchestrator returns.
type Emit func(event string, data map[string]any)

// replayChunkRunes is the soft chunk size for replayed text. Chunks end at a
// word boundary past this size, or right after sentence punctuation.
const replayChunkRunes = 12

// generate runs one model call. With a nil emit it is a plain Chat call.
// Otherwise it streams through the provider when possible, and replays the
// complete text when the provider cannot stream or the stream breaks.
func (s *Service) generate(ctx context.Context, p ai.Provider, msgs []ai.Message, emit Emit, meta map[string]any) (string, error) {
	if emit == nil {
		return p.Chat(ctx, msgs)
	}

	if sp, ok := p.(ai.StreamProvider); ok {
		text, err := s.providerStream(ctx, sp, msgs, emit, meta)
		if err == nil {
			return text, nil
		}
		log.Printf("[Chat] provider stream failed, falling back to single call err=%v", err)

		full, err := p.Chat(ctx, msgs)
		if err != nil {
			return "", err
		}
		s.replay(full, emit, withMeta(meta, map[string]any{"reset": true}))
		return full, nil
	}

	full, err := p.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	s.replay(full, emit, meta)
	return full, nil
}

// providerStream forwards upstream chunks as they arrive.
func (s *Service) providerStream(ctx context.Context, sp ai.StreamProvider, msgs []ai.Message, emit Emit, meta map[string]any) (string, error) {
	chunks, errs := sp.StreamChat(ctx, msgs)

	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
		emit(EventToken, withMeta(meta, map[string]any{"text": c, "replay": false}))
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return b.String(), nil
}

// replay re-emits an already complete response in small delayed chunks.
// Events carry replay=true so clients can tell it from a live stream.
func (s *Service) replay(text string, emit Emit, meta map[string]any) {
	for i, c := range splitForReplay(text) {
		data := withMeta(meta, map[string]any{"text": c, "replay": true})
		if i > 0 {
			delete(data, "reset")
		}
		emit(EventToken, data)
		if s.opts.ChunkDelay > 0 {
			time.Sleep(s.opts.ChunkDelay)
		}
	}
}

// splitForReplay cuts text on sentence and word boundaries. Joining the
// result yields text unchanged.
func splitForReplay(text string) []string {
	if text == "" {
		return nil
	}
	var (
		out  []string
		b    strings.Builder
		prev rune
	)
	for _, r := range text {
		sentenceEnd := prev == '.' || prev == '!' || prev == '?' || prev == '\n'
		if unicode.IsSpace(r) && b.Len() > 0 && (sentenceEnd || utf8.RuneCountInString(b.String()) >= replayChunkRunes) {
			b.WriteRune(r)
			out = append(out, b.String())
			b.Reset()
			prev = r
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func withMeta(meta map[string]any, data map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+len(data))
	for k, v := range meta {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
