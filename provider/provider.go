package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/models"
	openai_provider "github.com/mohammad-safakhou/researchd/provider/openai"
)

// ErrDisabled is returned when no completion service is configured.
var ErrDisabled = errors.New("completion service not configured")

// Completer is the language-model completion service.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// New creates the configured completion client.
func New(cfg config.LLMConfig) (Completer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	return openai_provider.NewOpenAIClient(openai_provider.Options{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}), nil
}

// StripFences removes a surrounding markdown code fence from a model reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := strings.TrimSpace(s[:nl])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
