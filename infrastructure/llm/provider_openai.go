package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-rationale/internal/ports"
)

// OpenAIDefaultModel is used for an "openai" client built without a model.
// It accepts image input.
const OpenAIDefaultModel = "gpt-4o-mini"

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider sends chat completions. With images the user turn is a
// multi-part message whose first part is the prompt text.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	cc := openai.DefaultConfig(config.APIKey)
	baseURL, err := ValidateBaseURL(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if baseURL != "" {
		cc.BaseURL = baseURL
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          openai.NewClientWithConfig(cc),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

func (p *openAIProvider) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	if err := validateImages(images, maxInlineImageOpenAI); err != nil {
		return "", 0, 0, NewProviderError("openai", ErrorTypeBadRequest, 0, "", err)
	}
	options := ParseRequestOptions(opts, p.GetModel())

	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: p.buildMessages(prompt, images, options),
	}
	applySampling(&req, options)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return "", 0, 0, NewProviderError("openai", ErrorTypeContentPolicy, 0, "response withheld by content filter", nil)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	return content,
		p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, prompt),
		p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, content),
		nil
}

// buildMessages puts the system prompt, if any, in its own message. The API
// rejects a message with both Content and MultiContent, so a text-only turn
// uses Content.
func (p *openAIProvider) buildMessages(
	prompt string,
	images []ports.Image,
	options RequestOptions,
) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if options.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: options.System})
	}
	if len(images) == 0 {
		return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURI(img), Detail: openai.ImageURLDetailAuto},
		})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
}

// applySampling copies sampling options into req, clamped to the ranges
// the chat API accepts.
func applySampling(req *openai.ChatCompletionRequest, options RequestOptions) {
	if options.Temperature != nil {
		req.Temperature = float32(ClampFloat64(*options.Temperature, 0, MaxTemperature))
	}
	if options.TopP != nil {
		req.TopP = float32(ClampFloat64(*options.TopP, 0, MaxTopP))
	}
	if options.MaxTokens > 0 {
		req.MaxTokens = options.MaxTokens
	}
	req.FrequencyPenalty = penalty(options.Extra["frequency_penalty"])
	req.PresencePenalty = penalty(options.Extra["presence_penalty"])
}

// penalty returns a frequency or presence penalty clamped to
// [MinPenalty, MaxPenalty], or zero when v is absent or not numeric.
func penalty(v any) float32 {
	f, ok := SafeFloat32(v)
	if !ok {
		return 0
	}
	return float32(ClampFloat64(float64(f), MinPenalty, MaxPenalty))
}

func (p *openAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		var code string
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		if code == "content_policy_violation" || code == "content_filter" {
			return NewProviderError("openai", ErrorTypeContentPolicy, apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "", err)
	}
	return NewProviderError("openai", ErrorTypeUnknown, 0, "request failed", err)
}
