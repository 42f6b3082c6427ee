package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownModel          = errors.New("unknown model")
	ErrProviderNotConfigured = errors.New("ai provider not configured")
)

// Logical model names accepted from clients.
const (
	ModelChatGPT  = "ChatGPT"
	ModelClaude   = "Claude"
	ModelGemini   = "Gemini"
	ModelDeepSeek = "DeepSeek"
)

// ModelSpec binds a logical model to the provider that serves it.
type ModelSpec struct {
	Name     string
	Provider string
	Model    string
}

var defaultModels = []ModelSpec{
	{Name: ModelChatGPT, Provider: "openai", Model: "gpt-4o-mini"},
	{Name: ModelClaude, Provider: "claude", Model: "claude-3-5-sonnet-latest"},
	{Name: ModelGemini, Provider: "gemini", Model: "gemini-2.0-flash"},
	{Name: ModelDeepSeek, Provider: "deepseek", Model: "deepseek-chat"},
}

var systemPrompts = map[string]string{
	ModelChatGPT:  "You are ChatGPT, a helpful assistant. Answer clearly and concisely.",
	ModelClaude:   "You are Claude, a thoughtful assistant. Answer clearly and concisely.",
	ModelGemini:   "You are Gemini, a helpful assistant. Answer clearly and concisely.",
	ModelDeepSeek: "You are DeepSeek, a helpful assistant. Answer clearly and concisely.",
}

// SystemPrompt returns the system message used for a logical model.
func SystemPrompt(name string) string {
	if p, ok := systemPrompts[name]; ok {
		return p
	}
	return "You are a helpful assistant."
}

// Dispatcher maps logical model names to providers from the Registry.
type Dispatcher struct {
	registry *Registry
	models   map[string]ModelSpec
}

// NewDispatcher builds the static table. overrides replaces the concrete model
// id per logical name, e.g. {"ChatGPT": "gpt-4o"}.
func NewDispatcher(registry *Registry, overrides map[string]string) *Dispatcher {
	d := &Dispatcher{registry: registry, models: make(map[string]ModelSpec, len(defaultModels))}
	for _, m := range defaultModels {
		if v := strings.TrimSpace(overrides[m.Name]); v != "" {
			m.Model = v
		}
		d.models[strings.ToLower(m.Name)] = m
	}
	return d
}

// Resolve validates a logical model name without touching the network.
func (d *Dispatcher) Resolve(name string) (ModelSpec, error) {
	spec, ok := d.models[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	if !d.registry.Has(spec.Provider) {
		return ModelSpec{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, spec.Provider)
	}
	return spec, nil
}

func (d *Dispatcher) CreateModel(ctx context.Context, name string) (Provider, error) {
	spec, err := d.Resolve(name)
	if err != nil {
		return nil, err
	}
	p, err := d.registry.Get(ctx, spec.Provider, spec.Model)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", spec.Name, err)
	}
	return p, nil
}

// IsValidationError reports errors that should surface as a 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnknownModel) || errors.Is(err, ErrProviderNotConfigured)
}
