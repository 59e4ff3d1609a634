// Package stages implements the three dataset stages driven by the batch
// harness: qa (image to QA pairs), rationale (QA pair to a correct and an
// incorrect rationale) and judge (contradiction verdicts between the two
// rationales). Each stage satisfies ports.Stage.
package stages

import (
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-rationale/infrastructure/llm"
)

// validate is the shared validator instance for stage records.
var validate = validator.New()

// Stage names, in pipeline order.
const (
	NameQA        = "qa"
	NameRationale = "rationale"
	NameJudge     = "judge"
)

// Names lists the stages in the order they run.
var Names = []string{NameQA, NameRationale, NameJudge}

// Default manifest, record directory and dataset names per stage. Every
// stage reads the dataset written by the stage before it.
const (
	DefaultQAManifest = "image_list.json"
	DefaultQAOutput   = "reasoning_instruct_raw_data"
	DefaultQADataset  = "reasoning_instruct_data.json"

	DefaultRationaleManifest = DefaultQADataset
	DefaultRationaleOutput   = "rationale_raw_data"
	DefaultRationaleDataset  = "rationale_instruct_data.json"

	DefaultJudgeManifest = DefaultRationaleDataset
	DefaultJudgeOutput   = "check_results"
	DefaultJudgeDataset  = "rationale_instruct_data_with_judge.json"
)

// DefaultJudgeExclude is the image substring the judge dataset drops.
const DefaultJudgeExclude = "ocr_vqa"

// GenerationOptions tunes model requests made by a stage.
type GenerationOptions struct {
	// Temperature is passed through when set.
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`

	// MaxTokens overrides the provider default when positive.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
}

func (o GenerationOptions) requestOptions() map[string]any {
	opts := make(map[string]any, 2)
	if o.Temperature != nil {
		opts[llm.OptionTemperature] = *o.Temperature
	}
	if o.MaxTokens > 0 {
		opts[llm.OptionMaxTokens] = o.MaxTokens
	}
	return opts
}
