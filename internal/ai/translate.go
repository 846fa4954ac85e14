package ai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GPT-4.1-mini pricing per 1M tokens
var openAIPricing = RequestPricing{Input: 0.40, Output: 1.60}

type OpenAITranslator struct {
	client *openai.Client
}

func NewOpenAITranslator(apiKey string, opts ...option.RequestOption) *OpenAITranslator {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAITranslator{client: &client}
}

func (t *OpenAITranslator) Name() string {
	return openai.ChatModelGPT4_1Mini
}

// Translate translates text to English optimized for CLIP image search.
// On failure, returns the original text and the error.
func (t *OpenAITranslator) Translate(ctx context.Context, text string) (*TranslateResult, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4_1Mini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(clipTranslatePrompt),
			openai.UserMessage(text),
		},
		MaxTokens: openai.Int(100),
	})
	if err != nil {
		return &TranslateResult{Text: text}, err
	}

	result := &TranslateResult{
		Text:         text,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	result.Cost = openAIPricing.cost(result.InputTokens, result.OutputTokens)

	if len(resp.Choices) == 0 {
		return result, nil
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated != "" {
		result.Text = translated
	}

	return result, nil
}
