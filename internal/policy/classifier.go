package policy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	tokenFinancial    = "FINANCIAL"
	tokenNonFinancial = "NON_FINANCIAL"
)

const loosePrompt = `Classify the following text as FINANCIAL or NON_FINANCIAL. FINANCIAL means the text concerns banking, loans, investments, insurance, cryptocurrency, taxes, or payments. Reply with exactly one word: FINANCIAL or NON_FINANCIAL. No other text.`

const strictPrompt = `Classify the following text as FINANCIAL or NON_FINANCIAL, applying a strict standard: only reply FINANCIAL if the text unambiguously concerns a specific financial product, account, or transaction, not merely general economic discussion. Reply with exactly one word: FINANCIAL or NON_FINANCIAL. No other text.`

// TextClassifier asks an external model to label a text as financial or
// not, at a fixed temperature of 0 so replies are reproducible.
type TextClassifier interface {
	Classify(ctx context.Context, text string, strict bool) (token string, err error)
}

type anthropicClassifier struct {
	client anthropic.Client
}

// NewAnthropicClassifier builds a TextClassifier backed by the Anthropic API.
func NewAnthropicClassifier(apiKey, baseURL string) TextClassifier {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithHTTPClient(&http.Client{}),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &anthropicClassifier{client: anthropic.NewClient(opts...)}
}

func (c *anthropicClassifier) Classify(ctx context.Context, text string, strict bool) (string, error) {
	prompt := loosePrompt
	if strict {
		prompt = strictPrompt
	}
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens:   8,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("policy: anthropic classify: %w", err)
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return normalizeToken(out), nil
}

type openaiClassifier struct {
	client openaiSDK.Client
}

// NewOpenAIClassifier builds a TextClassifier backed by the OpenAI API.
func NewOpenAIClassifier(apiKey, baseURL string) TextClassifier {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClassifier{client: openaiSDK.NewClient(opts...)}
}

func (c *openaiClassifier) Classify(ctx context.Context, text string, strict bool) (string, error) {
	prompt := loosePrompt
	if strict {
		prompt = strictPrompt
	}
	resp, err := c.client.Chat.Completions.New(ctx, openaiSDK.ChatCompletionNewParams{
		Model: openaiSDK.ChatModelGPT4oMini,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.SystemMessage(prompt),
			openaiSDK.UserMessage(text),
		},
		Temperature: openaiSDK.Float(0),
		MaxTokens:   openaiSDK.Int(8),
	})
	if err != nil {
		return "", fmt.Errorf("policy: openai classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("policy: openai classify: empty response")
	}
	return normalizeToken(resp.Choices[0].Message.Content), nil
}

// normalizeToken treats any reply that isn't exactly FINANCIAL as
// NON_FINANCIAL (spec.md §4.5 step 2: "treat any other reply as
// non-financial").
func normalizeToken(raw string) string {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == tokenFinancial {
		return tokenFinancial
	}
	return tokenNonFinancial
}
