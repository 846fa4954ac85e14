package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// Gemini 2.5 Flash pricing per 1M tokens
var geminiPricing = RequestPricing{Input: 0.30, Output: 2.50}

type GeminiTranslator struct {
	client *genai.Client
}

func NewGeminiTranslator(ctx context.Context, apiKey string) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiTranslator{client: client}, nil
}

func (t *GeminiTranslator) Name() string {
	return geminiModel
}

func (t *GeminiTranslator) Translate(ctx context.Context, text string) (*TranslateResult, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: text}},
		},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: clipTranslatePrompt}},
		},
		MaxOutputTokens: 100,
	}

	resp, err := t.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return &TranslateResult{Text: text}, fmt.Errorf("gemini API error: %w", err)
	}

	result := &TranslateResult{Text: text}
	if resp.UsageMetadata != nil {
		result.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		result.Cost = geminiPricing.cost(result.InputTokens, result.OutputTokens)
	}

	if translated := strings.TrimSpace(resp.Text()); translated != "" {
		result.Text = translated
	}
	return result, nil
}
