package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/suPer8Hu/multichat/internal/config"
	"google.golang.org/genai"
)

const claudeMaxTokens = 3000

// einoProvider adapts an eino chat model to Provider and StreamProvider.
type einoProvider struct {
	name  string
	model model.BaseChatModel
}

func (p *einoProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	out, err := p.model.Generate(ctx, toSchemaMessages(messages))
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", p.name, err)
	}
	return out.Content, nil
}

func (p *einoProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		sr, err := p.model.Stream(ctx, toSchemaMessages(messages))
		if err != nil {
			errs <- fmt.Errorf("%s stream: %w", p.name, err)
			return
		}
		defer sr.Close()

		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("%s stream recv: %w", p.name, err)
				return
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			select {
			case chunks <- msg.Content:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		var role schema.RoleType
		switch m.Role {
		case RoleSystem:
			role = schema.System
		case RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: m.Content})
	}
	return out
}

// RegisterProviders registers a factory for every provider whose credentials
// are present. Providers without credentials stay unregistered so dispatch
// rejects them before any network call.
func RegisterProviders(reg *Registry, cfg config.Config) {
	if cfg.OpenAIAPIKey != "" {
		reg.Register("openai", func(ctx context.Context, m string) (Provider, error) {
			cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Model:   m,
			})
			if err != nil {
				return nil, err
			}
			return &einoProvider{name: "openai", model: cm}, nil
		})
	}

	if cfg.DeepSeekAPIKey != "" {
		reg.Register("deepseek", func(ctx context.Context, m string) (Provider, error) {
			cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
				APIKey:  cfg.DeepSeekAPIKey,
				BaseURL: cfg.DeepSeekBaseURL,
				Model:   m,
			})
			if err != nil {
				return nil, err
			}
			return &einoProvider{name: "deepseek", model: cm}, nil
		})
	}

	if cfg.AnthropicAPIKey != "" {
		reg.Register("claude", func(ctx context.Context, m string) (Provider, error) {
			var baseURL *string
			if cfg.AnthropicBaseURL != "" {
				u := cfg.AnthropicBaseURL
				baseURL = &u
			}
			cm, err := claude.NewChatModel(ctx, &claude.Config{
				APIKey:    cfg.AnthropicAPIKey,
				Model:     m,
				BaseURL:   baseURL,
				MaxTokens: claudeMaxTokens,
			})
			if err != nil {
				return nil, err
			}
			return &einoProvider{name: "claude", model: cm}, nil
		})
	}

	if cfg.GeminiAPIKey != "" {
		reg.Register("gemini", func(ctx context.Context, m string) (Provider, error) {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.GeminiAPIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			cm, err := gemini.NewChatModel(ctx, &gemini.Config{
				Client: client,
				Model:  m,
			})
			if err != nil {
				return nil, err
			}
			return &einoProvider{name: "gemini", model: cm}, nil
		})
	}

	log.Printf("[AI] providers openai=%t claude=%t gemini=%t deepseek=%t",
		reg.Has("openai"), reg.Has("claude"), reg.Has("gemini"), reg.Has("deepseek"))
}

// ModelOverrides maps logical names to configured concrete models.
func ModelOverrides(cfg config.Config) map[string]string {
	return map[string]string{
		ModelChatGPT:  cfg.OpenAIModel,
		ModelClaude:   cfg.ClaudeModel,
		ModelGemini:   cfg.GeminiModel,
		ModelDeepSeek: cfg.DeepSeekModel,
	}
}
