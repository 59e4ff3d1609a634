package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// judgeIndent is the indent used for judge records on disk.
const judgeIndent = "    "

// JudgeConfig configures the judge stage.
type JudgeConfig struct {
	// Prompt overrides DefaultJudgePrompt. It is rendered with the
	// rationale record, so any of its fields may be referenced.
	Prompt string

	Generation GenerationOptions
}

// JudgeStage asks text models whether the two rationales of a record
// contradict each other. The primary verdict is always recorded; the
// secondary one only when a secondary client is configured.
type JudgeStage struct {
	records   []domain.WorkItem[domain.RationaleRecord]
	primary   ports.LLMClient
	secondary ports.LLMClient
	cfg       JudgeConfig
	prompt    *template.Template
}

// NewJudgeStage creates the judge stage over the rationale dataset.
// secondary may be nil.
func NewJudgeStage(records []domain.RationaleRecord, primary, secondary ports.LLMClient, cfg JudgeConfig) (*JudgeStage, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: judge stage needs a primary model client", domain.ErrInvalidConfiguration)
	}
	if err := validate.Struct(cfg.Generation); err != nil {
		return nil, fmt.Errorf("%w: judge generation options: %v", domain.ErrInvalidConfiguration, err)
	}
	t, err := parsePrompt(NameJudge, cfg.Prompt, DefaultJudgePrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return &JudgeStage{
		records:   domain.NewWorkItems(records),
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		prompt:    t,
	}, nil
}

// Name implements ports.Stage.
func (s *JudgeStage) Name() string { return NameJudge }

// Len implements ports.Stage.
func (s *JudgeStage) Len() int { return len(s.records) }

// HasSecondary reports whether a secondary judge is configured.
func (s *JudgeStage) HasSecondary() bool { return s.secondary != nil }

// Process judges the record at index.
func (s *JudgeStage) Process(ctx context.Context, index int) (any, error) {
	item, err := domain.ItemAt(s.records, index)
	if err != nil {
		return nil, err
	}
	rec := item.Payload
	if err := validateRecord("rationale record", rec); err != nil {
		return nil, err
	}
	prompt, err := render(s.prompt, rec)
	if err != nil {
		return nil, err
	}
	opts := s.cfg.Generation.requestOptions()

	out := domain.JudgedRecord{RationaleRecord: rec}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := judge(gctx, s.primary, prompt, opts)
		if err != nil {
			return fmt.Errorf("primary judge %s: %w", s.primary.GetModel(), err)
		}
		out.PrimaryJudge = v
		return nil
	})
	if s.secondary != nil {
		g.Go(func() error {
			v, err := judge(gctx, s.secondary, prompt, opts)
			if err != nil {
				return fmt.Errorf("secondary judge %s: %w", s.secondary.GetModel(), err)
			}
			out.SecondaryJudge = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func judge(ctx context.Context, client ports.LLMClient, prompt string, opts map[string]any) (domain.Verdict, error) {
	reply, err := client.Complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return domain.ParseVerdict(reply)
}

// Marshal writes judge records indented.
func (s *JudgeStage) Marshal(record any) ([]byte, error) {
	return encodeRecord(record, judgeIndent)
}

// Collect decodes a judge record into a dataset row. A missing secondary
// verdict is only an error when a secondary judge is configured.
func (s *JudgeStage) Collect(data []byte) (ports.Collected, error) {
	var rec domain.JudgedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ports.Collected{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if err := validateRecord("judge record", rec); err != nil {
		return ports.Collected{}, err
	}
	if s.secondary != nil && rec.SecondaryJudge == nil {
		verr := domain.NewValidationError("judge record")
		verr.AddError("secondary verdict is required")
		return ports.Collected{}, verr
	}
	return ports.Collected{Rows: []ports.Row{rec.Row()}}, nil
}

var _ ports.Stage = (*JudgeStage)(nil)
