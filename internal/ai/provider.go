// Package ai translates search queries with hosted language models so that
// CLIP, which only understands English, can match them.
package ai

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wipfli/immich/internal/config"
)

//go:embed prompts/clip_translate.txt
var clipTranslatePrompt string

// TranslateResult contains the translation and usage information.
type TranslateResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Cost         float64 // USD
}

// Translator turns a search query into English optimized for CLIP.
type Translator interface {
	Name() string
	Translate(ctx context.Context, text string) (*TranslateResult, error)
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

func (p RequestPricing) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*p.Input/1_000_000 + float64(outputTokens)*p.Output/1_000_000
}

// NewTranslator builds the translator selected by cfg.Translate. It returns
// nil when translation is disabled.
func NewTranslator(ctx context.Context, cfg *config.Config) (Translator, error) {
	switch cfg.Translate {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, fmt.Errorf("OPENAI_TOKEN is required for SEARCH_TRANSLATE=openai")
		}
		return NewOpenAITranslator(cfg.OpenAI.Token), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for SEARCH_TRANSLATE=gemini")
		}
		t, err := NewGeminiTranslator(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Translate)
	}
}

// TranslateQuery returns the translation of text, or text itself when t is
// nil or the translation fails.
func TranslateQuery(ctx context.Context, t Translator, text string) string {
	if t == nil || text == "*" || strings.TrimSpace(text) == "" {
		return text
	}
	res, err := t.Translate(ctx, text)
	if err != nil {
		slog.Warn("query translation failed, using original text", "provider", t.Name(), "error", err)
		return text
	}
	if res == nil || res.Text == "" {
		return text
	}
	slog.Debug("query translated",
		"provider", t.Name(),
		"from", text,
		"to", res.Text,
		"cost_usd", res.Cost)
	return res.Text
}
