package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// RationaleConfig configures the rationale stage.
type RationaleConfig struct {
	// CorrectPrompt overrides DefaultCorrectRationalePrompt.
	CorrectPrompt string

	// IncorrectPrompt overrides DefaultIncorrectRationalePrompt.
	IncorrectPrompt string

	Generation GenerationOptions

	Loader ImageLoader
}

// RationaleStage generates, for every QA pair, one rationale leading to the
// correct answer and one explaining why the confusing answer is wrong.
type RationaleStage struct {
	pairs     []domain.WorkItem[domain.QAPair]
	client    ports.LLMClient
	cfg       RationaleConfig
	correct   *template.Template
	incorrect *template.Template
}

// NewRationaleStage creates the rationale stage over the qa dataset.
func NewRationaleStage(pairs []domain.QAPair, client ports.LLMClient, cfg RationaleConfig) (*RationaleStage, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: rationale stage needs a model client", domain.ErrInvalidConfiguration)
	}
	if err := validate.Struct(cfg.Generation); err != nil {
		return nil, fmt.Errorf("%w: rationale generation options: %v", domain.ErrInvalidConfiguration, err)
	}
	correct, err := parsePrompt("correct_rationale", cfg.CorrectPrompt, DefaultCorrectRationalePrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	incorrect, err := parsePrompt("incorrect_rationale", cfg.IncorrectPrompt, DefaultIncorrectRationalePrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return &RationaleStage{
		pairs:     domain.NewWorkItems(pairs),
		client:    client,
		cfg:       cfg,
		correct:   correct,
		incorrect: incorrect,
	}, nil
}

// Name implements ports.Stage.
func (s *RationaleStage) Name() string { return NameRationale }

// Len implements ports.Stage.
func (s *RationaleStage) Len() int { return len(s.pairs) }

// Process generates both rationales for the pair at index. The two model
// calls run concurrently against the same image; either failing fails the
// item.
func (s *RationaleStage) Process(ctx context.Context, index int) (any, error) {
	item, err := domain.ItemAt(s.pairs, index)
	if err != nil {
		return nil, err
	}
	pair := item.Payload
	if err := validateRecord("qa pair", pair); err != nil {
		return nil, err
	}

	correctPrompt, err := render(s.correct, answerPrompt{Question: pair.Question, Answer: pair.CorrectAnswer})
	if err != nil {
		return nil, err
	}
	incorrectPrompt, err := render(s.incorrect, answerPrompt{Question: pair.Question, Answer: pair.ConfusingAnswer})
	if err != nil {
		return nil, err
	}

	img, err := s.cfg.Loader.Load(pair.Image)
	if err != nil {
		return nil, err
	}
	images := []ports.Image{img}
	opts := s.cfg.Generation.requestOptions()

	var correct, incorrect string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		correct, err = s.generate(gctx, correctPrompt, images, opts)
		if err != nil {
			return fmt.Errorf("correct rationale: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		incorrect, err = s.generate(gctx, incorrectPrompt, images, opts)
		if err != nil {
			return fmt.Errorf("incorrect rationale: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return domain.NewRationaleRecord(pair, correct, incorrect), nil
}

func (s *RationaleStage) generate(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, error) {
	reply, err := s.client.CompleteWithImages(ctx, prompt, images, opts)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", domain.ErrEmptyResponse
	}
	return reply, nil
}

// Marshal implements ports.Stage.
func (s *RationaleStage) Marshal(record any) ([]byte, error) {
	return encodeRecord(record, "")
}

// Collect decodes a rationale record. Every field is required.
func (s *RationaleStage) Collect(data []byte) (ports.Collected, error) {
	var rec domain.RationaleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ports.Collected{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if err := validateRecord("rationale record", rec); err != nil {
		return ports.Collected{}, err
	}
	return ports.Collected{Rows: []ports.Row{rec}}, nil
}

// validateRecord runs struct validation and reports failures as a
// domain.ValidationError naming each offending field.
func validateRecord(entity string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verr := domain.NewValidationError(entity)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.AddError(fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	} else {
		verr.AddError(err.Error())
	}
	return verr
}

var _ ports.Stage = (*RationaleStage)(nil)
