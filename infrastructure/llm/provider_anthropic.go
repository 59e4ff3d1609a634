package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-rationale/internal/ports"
)

// AnthropicDefaultModel is used for an "anthropic" client built without a model.
const AnthropicDefaultModel = "claude-3-5-sonnet-20241022"

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider calls the Messages API. Images go ahead of the text
// block in the single user turn.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	// RetryMiddleware owns retries.
	reqOpts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          anthropic.NewClient(reqOpts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

func (p *anthropicProvider) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	if err := validateImages(images, maxInlineImageAnthropic); err != nil {
		return "", 0, 0, NewProviderError("anthropic", ErrorTypeBadRequest, 0, "", err)
	}
	options := ParseRequestOptions(opts, p.GetModel())

	msg, err := p.client.Messages.New(ctx, p.buildParams(prompt, images, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	content := sb.String()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}
	return content,
		p.tokenCounter.GetTokenCount(int(msg.Usage.InputTokens), prompt),
		p.tokenCounter.GetTokenCount(int(msg.Usage.OutputTokens), content),
		nil
}

// buildParams clamps temperature to [0, 1], the range the Messages API takes.
func (p *anthropicProvider) buildParams(
	prompt string,
	images []ports.Image,
	options RequestOptions,
) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0, 1))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}
	return params
}

func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, "messages request failed", err)
	}
	return NewProviderError("anthropic", ErrorTypeUnknown, 0, "request failed", err)
}
