package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// QAConfig configures the qa stage.
type QAConfig struct {
	// ImageFolder is joined in front of every manifest path.
	ImageFolder string

	// Prompt overrides DefaultQAPrompt. It is rendered without data.
	Prompt string

	Generation GenerationOptions

	Loader ImageLoader
}

// QAStage asks a vision model for QA pairs about each image in the manifest.
type QAStage struct {
	images []domain.WorkItem[string]
	client ports.LLMClient
	cfg    QAConfig
	prompt string
}

// NewQAStage creates the qa stage over a manifest of image paths.
func NewQAStage(images []string, client ports.LLMClient, cfg QAConfig) (*QAStage, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qa stage needs a model client", domain.ErrInvalidConfiguration)
	}
	if err := validate.Struct(cfg.Generation); err != nil {
		return nil, fmt.Errorf("%w: qa generation options: %v", domain.ErrInvalidConfiguration, err)
	}
	t, err := parsePrompt(NameQA, cfg.Prompt, DefaultQAPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	prompt, err := render(t, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return &QAStage{images: domain.NewWorkItems(images), client: client, cfg: cfg, prompt: prompt}, nil
}

// Name implements ports.Stage.
func (s *QAStage) Name() string { return NameQA }

// Len implements ports.Stage.
func (s *QAStage) Len() int { return len(s.images) }

// Process generates QA pairs for the image at index.
func (s *QAStage) Process(ctx context.Context, index int) (any, error) {
	item, err := domain.ItemAt(s.images, index)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.cfg.ImageFolder, item.Payload)

	img, err := s.cfg.Loader.Load(path)
	if err != nil {
		return nil, err
	}
	reply, err := s.client.CompleteWithImages(ctx, s.prompt, []ports.Image{img}, s.cfg.Generation.requestOptions())
	if err != nil {
		return nil, fmt.Errorf("generate qa pairs: %w", err)
	}
	content, _, err := ParseQAPairs(reply)
	if err != nil {
		return nil, err
	}
	return domain.QARecord{Image: path, Content: content}, nil
}

// Marshal implements ports.Stage.
func (s *QAStage) Marshal(record any) ([]byte, error) {
	return encodeRecord(record, "")
}

// rawQARecord defers decoding of content entries so a bad entry only costs
// itself.
type rawQARecord struct {
	Image   string            `json:"image"`
	Content []json.RawMessage `json:"content"`
}

// Collect decodes a qa record and flattens it into one QAPair per valid
// content entry.
func (s *QAStage) Collect(data []byte) (ports.Collected, error) {
	var raw rawQARecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return ports.Collected{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	verr := domain.NewValidationError("qa record")
	if raw.Image == "" {
		verr.AddError("image is required")
	}
	if raw.Content == nil {
		verr.AddError("content is required")
	}
	if verr.HasErrors() {
		return ports.Collected{}, verr
	}

	var out ports.Collected
	rec := domain.QARecord{Image: raw.Image}
	for _, entry := range raw.Content {
		var c domain.QAContent
		if json.Unmarshal(entry, &c) != nil || validate.Struct(c) != nil {
			out.Skipped++
			continue
		}
		rec.Content = append(rec.Content, c)
	}
	for _, pair := range rec.Pairs() {
		out.Rows = append(out.Rows, pair)
	}
	return out, nil
}

// encodeRecord writes record as JSON without HTML escaping, so model text
// is stored as generated. A non-empty indent pretty-prints.
func encodeRecord(record any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

var _ ports.Stage = (*QAStage)(nil)
