package sanitizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Detection is the classifier's raw answer: candidate strings per category.
// The Sanitiser re-validates every candidate against a strict local pattern
// before trusting it (see category.go).
type Detection struct {
	Emails []string `json:"emails"`
	IPv4s  []string `json:"ipv4s"`
	IBANs  []string `json:"ibans"`
}

// Classifier asks an external model to find sensitive substrings in text.
// Implementations may fail (network, auth, malformed reply); the Sanitiser
// treats any error as "nothing detected" (fail-open, spec.md §4.4).
type Classifier interface {
	Detect(ctx context.Context, text string) (Detection, error)
}

const detectSystemPrompt = `You scan text for three kinds of sensitive identifiers: email addresses, IPv4 addresses, and IBAN bank account numbers. Reply with ONLY a JSON object of the form {"emails":[...],"ipv4s":[...],"ibans":[...]} listing every exact substring of the input that matches each category. Use empty arrays when none are found. Do not include any other text.`

// anthropicClassifier calls the Anthropic Messages API.
type anthropicClassifier struct {
	client anthropic.Client
}

// NewAnthropicClassifier builds a Classifier backed by the Anthropic API,
// reusing the configured provider credential.
func NewAnthropicClassifier(apiKey, baseURL string) Classifier {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithHTTPClient(&http.Client{}),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &anthropicClassifier{client: anthropic.NewClient(opts...)}
}

func (c *anthropicClassifier) Detect(ctx context.Context, text string) (Detection, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: detectSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return Detection{}, fmt.Errorf("sanitizer: anthropic detect: %w", err)
	}
	return parseDetection(textFromAnthropic(resp))
}

func textFromAnthropic(resp *anthropic.Message) string {
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// openaiClassifier calls the OpenAI Chat Completions API.
type openaiClassifier struct {
	client openaiSDK.Client
}

// NewOpenAIClassifier builds a Classifier backed by the OpenAI API, reusing
// the configured provider credential.
func NewOpenAIClassifier(apiKey, baseURL string) Classifier {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClassifier{client: openaiSDK.NewClient(opts...)}
}

func (c *openaiClassifier) Detect(ctx context.Context, text string) (Detection, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openaiSDK.ChatCompletionNewParams{
		Model: openaiSDK.ChatModelGPT4oMini,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.SystemMessage(detectSystemPrompt),
			openaiSDK.UserMessage(text),
		},
		Temperature: openaiSDK.Float(0),
	})
	if err != nil {
		return Detection{}, fmt.Errorf("sanitizer: openai detect: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Detection{}, fmt.Errorf("sanitizer: openai detect: empty response")
	}
	return parseDetection(resp.Choices[0].Message.Content)
}

func parseDetection(raw string) (Detection, error) {
	var d Detection
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &d); err != nil {
		return Detection{}, fmt.Errorf("sanitizer: parse classifier reply: %w", err)
	}
	return d, nil
}

// extractJSONObject trims any leading/trailing prose a model adds around the
// JSON object it was asked to return verbatim.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
