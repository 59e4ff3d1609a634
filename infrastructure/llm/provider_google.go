package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-rationale/internal/ports"
)

// GoogleDefaultModel is used for a "google" spec without a model.
const GoogleDefaultModel = "gemini-1.5-pro"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider talks to the Gemini API. Images travel as inline byte
// parts ahead of the text part of a single user turn.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	cc := &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

func (p *googleProvider) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	if err := validateImages(images, maxInlineImageGoogle); err != nil {
		return "", 0, 0, NewProviderError("google", ErrorTypeBadRequest, 0, "", err)
	}
	options := ParseRequestOptions(opts, p.GetModel())

	resp, err := p.client.Models.GenerateContent(ctx, options.Model,
		p.buildGenerateContentRequest(prompt, images), p.buildGenerationConfig(options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if reason := blockedReason(resp); reason != "" {
		return "", 0, 0, NewProviderError("google", ErrorTypeContentPolicy, 0, "response blocked: "+reason, nil)
	}

	content := resp.Text()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	var promptTokens, outputTokens int
	if u := resp.UsageMetadata; u != nil {
		promptTokens, outputTokens = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
	}
	return content,
		p.tokenCounter.GetTokenCount(promptTokens, prompt),
		p.tokenCounter.GetTokenCount(outputTokens, content),
		nil
}

// blockedReason reports why Gemini withheld an answer, or "" when it did not.
// A blocked prompt has no candidates; a blocked answer stops with SAFETY.
func blockedReason(resp *genai.GenerateContentResponse) string {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		if fb.BlockReasonMessage != "" {
			return fb.BlockReasonMessage
		}
		return string(fb.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return string(genai.FinishReasonSafety)
	}
	return ""
}

func (p *googleProvider) buildGenerateContentRequest(prompt string, images []ports.Image) []*genai.Content {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildGenerationConfig maps request options onto Gemini's ranges:
// temperature [0, 2], top_p [0, 1], top_k [1, 40].
func (p *googleProvider) buildGenerationConfig(options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if options.System != "" {
		config.SystemInstruction = genai.NewContentFromText(options.System, genai.RoleUser)
	}
	if options.Temperature != nil {
		config.Temperature = genai.Ptr(float32(ClampFloat64(*options.Temperature, 0, 2)))
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(options.MaxTokens, math.MaxInt32))
	}
	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(ClampFloat64(*options.TopP, 0, 1)))
	}
	if topK, ok := options.Extra["top_k"].(int); ok {
		config.TopK = genai.Ptr(float32(max(1, min(topK, 40))))
	}
	return config
}

// handleError classifies genai and googleapi errors. Safety refusals are
// content-policy errors so the retry middleware leaves them alone.
func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		if mentionsSafety(genaiErr.Message) {
			return NewProviderError("google", ErrorTypeContentPolicy, genaiErr.Code, "request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(genaiErr.Code, genaiErr.Message, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		blocked := mentionsSafety(message)
		for _, item := range apiErr.Errors {
			if message == "" {
				message = item.Message
			}
			blocked = blocked || item.Reason == "SAFETY" || item.Reason == "BLOCKED"
		}
		if blocked {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}

func mentionsSafety(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") || strings.Contains(lower, "policy")
}
