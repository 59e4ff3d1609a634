// Package config loads the run configuration from a YAML file, environment
// variables prefixed with RATIONALE_, and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rationale/infrastructure/ledger"
	"github.com/ahrav/go-rationale/infrastructure/stages"
	"github.com/ahrav/go-rationale/internal/application"
	"github.com/ahrav/go-rationale/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g.
// RATIONALE_HARNESS_NUM_TASKS.
const EnvPrefix = "RATIONALE"

// DefaultConfigName is looked up in the working directory when no file is
// given explicitly.
const DefaultConfigName = "rationale"

var validate = validator.New()

// Config is the complete run configuration.
type Config struct {
	// TargetFolder holds manifests, record directories and datasets.
	TargetFolder string `yaml:"target_folder" mapstructure:"target_folder" validate:"required"`

	// ImageFolder is joined in front of every path in the qa manifest.
	ImageFolder string `yaml:"image_folder" mapstructure:"image_folder"`

	Storage ledger.Config `yaml:"storage" mapstructure:"storage"`
	Harness HarnessConfig `yaml:"harness" mapstructure:"harness"`
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Stages  StagesConfig  `yaml:"stages" mapstructure:"stages"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// HarnessConfig controls pass scheduling and dataset ordering.
type HarnessConfig struct {
	application.ResumeConfig `yaml:",inline" mapstructure:",squash"`

	// PreserveListingOrder writes dataset rows in ledger listing order
	// instead of item index order.
	PreserveListingOrder bool `yaml:"preserve_listing_order" mapstructure:"preserve_listing_order"`
}

// LLMConfig configures model providers and the middleware around them.
type LLMConfig struct {
	DefaultProvider string        `yaml:"default_provider" mapstructure:"default_provider" validate:"required,oneof=google openai anthropic"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`

	APIKeys        APIKeys              `yaml:"api_keys" mapstructure:"api_keys"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// APIKeys are explicit provider credentials. Empty keys fall back to the
// provider's standard environment variable.
type APIKeys struct {
	Google    string `yaml:"google" mapstructure:"google"`
	OpenAI    string `yaml:"openai" mapstructure:"openai"`
	Anthropic string `yaml:"anthropic" mapstructure:"anthropic"`
}

// RateLimitConfig throttles requests per client. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// RetryConfig retries retryable provider errors with exponential backoff.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay   time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// CircuitBreakerConfig opens a client after consecutive failures. Zero
// MaxFailures disables it.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=0"`
	Cooldown    time.Duration `yaml:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
}

// StageIO names a stage's input manifest, record directory and dataset.
type StageIO struct {
	Manifest  string                    `yaml:"manifest" mapstructure:"manifest" validate:"required"`
	OutputDir string                    `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
	Dataset   string                    `yaml:"dataset" mapstructure:"dataset" validate:"required"`
	Exclude   application.ExcludeConfig `yaml:"exclude" mapstructure:"exclude"`
}

// QAStageConfig configures the qa stage.
type QAStageConfig struct {
	StageIO                  `yaml:",inline" mapstructure:",squash"`
	stages.GenerationOptions `yaml:",inline" mapstructure:",squash"`

	// Model is a "provider/model" spec; a bare provider uses its default.
	Model  string `yaml:"model" mapstructure:"model" validate:"required"`
	Prompt string `yaml:"prompt,omitempty" mapstructure:"prompt"`
}

// RationaleStageConfig configures the rationale stage.
type RationaleStageConfig struct {
	StageIO                  `yaml:",inline" mapstructure:",squash"`
	stages.GenerationOptions `yaml:",inline" mapstructure:",squash"`

	Model           string `yaml:"model" mapstructure:"model" validate:"required"`
	CorrectPrompt   string `yaml:"correct_prompt,omitempty" mapstructure:"correct_prompt"`
	IncorrectPrompt string `yaml:"incorrect_prompt,omitempty" mapstructure:"incorrect_prompt"`
}

// JudgeStageConfig configures the judge stage. SecondaryModel is optional.
type JudgeStageConfig struct {
	StageIO                  `yaml:",inline" mapstructure:",squash"`
	stages.GenerationOptions `yaml:",inline" mapstructure:",squash"`

	PrimaryModel   string `yaml:"primary_model" mapstructure:"primary_model" validate:"required"`
	SecondaryModel string `yaml:"secondary_model" mapstructure:"secondary_model"`
	Prompt         string `yaml:"prompt,omitempty" mapstructure:"prompt"`
}

// StagesConfig holds per-stage settings.
type StagesConfig struct {
	QA        QAStageConfig        `yaml:"qa" mapstructure:"qa"`
	Rationale RationaleStageConfig `yaml:"rationale" mapstructure:"rationale"`
	Judge     JudgeStageConfig     `yaml:"judge" mapstructure:"judge"`
}

// IO returns the manifest and output settings of the named stage.
func (s StagesConfig) IO(name string) (StageIO, error) {
	switch name {
	case stages.NameQA:
		return s.QA.StageIO, nil
	case stages.NameRationale:
		return s.Rationale.StageIO, nil
	case stages.NameJudge:
		return s.Judge.StageIO, nil
	default:
		return StageIO{}, fmt.Errorf("unknown stage: %s", name)
	}
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// MetricsConfig exposes metrics over HTTP and/or a textfile. Both are
// disabled when empty.
type MetricsConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// SetDefaults registers every key with its default so environment
// overrides apply to keys absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("target_folder", "")
	v.SetDefault("image_folder", "")

	v.SetDefault("storage.backend", ledger.BackendFile)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.profile", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)

	v.SetDefault("harness.num_tasks", 4)
	v.SetDefault("harness.max_passes", 0)
	v.SetDefault("harness.max_orchestration_retries", 0)
	v.SetDefault("harness.max_stalled_passes", 3)
	v.SetDefault("harness.preserve_listing_order", false)

	v.SetDefault("llm.default_provider", "google")
	v.SetDefault("llm.request_timeout", 2*time.Minute)
	v.SetDefault("llm.api_keys.google", "")
	v.SetDefault("llm.api_keys.openai", "")
	v.SetDefault("llm.api_keys.anthropic", "")
	v.SetDefault("llm.rate_limit.rps", 1.0)
	v.SetDefault("llm.rate_limit.burst", 1)
	v.SetDefault("llm.retry.max_retries", 3)
	v.SetDefault("llm.retry.base_delay", 2*time.Second)
	v.SetDefault("llm.retry.max_delay", 30*time.Second)
	v.SetDefault("llm.circuit_breaker.max_failures", 5)
	v.SetDefault("llm.circuit_breaker.cooldown", 30*time.Second)

	setStageDefaults(v, stages.NameQA, stages.DefaultQAManifest, stages.DefaultQAOutput, stages.DefaultQADataset)
	v.SetDefault("stages.qa.model", "google/gemini-pro-vision")
	v.SetDefault("stages.qa.prompt", "")

	setStageDefaults(v, stages.NameRationale, stages.DefaultRationaleManifest, stages.DefaultRationaleOutput, stages.DefaultRationaleDataset)
	v.SetDefault("stages.rationale.model", "google/gemini-pro-vision")
	v.SetDefault("stages.rationale.correct_prompt", "")
	v.SetDefault("stages.rationale.incorrect_prompt", "")

	setStageDefaults(v, stages.NameJudge, stages.DefaultJudgeManifest, stages.DefaultJudgeOutput, stages.DefaultJudgeDataset)
	v.SetDefault("stages.judge.exclude.substrings", []string{stages.DefaultJudgeExclude})
	v.SetDefault("stages.judge.primary_model", "google/gemini-pro")
	v.SetDefault("stages.judge.secondary_model", "")
	v.SetDefault("stages.judge.prompt", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.textfile", "")
}

func setStageDefaults(v *viper.Viper, name, manifest, output, dataset string) {
	prefix := "stages." + name + "."
	v.SetDefault(prefix+"manifest", manifest)
	v.SetDefault(prefix+"output_dir", output)
	v.SetDefault(prefix+"dataset", dataset)
	v.SetDefault(prefix+"exclude.substrings", []string{})
	v.SetDefault(prefix+"exclude.globs", []string{})
	v.SetDefault(prefix+"max_tokens", 0)
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v, or rationale.yaml from the
// working directory when path is empty and such a file exists, then decodes
// and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if c.Storage.Backend == ledger.BackendS3 {
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// YAML renders the effective configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	redacted.LLM.APIKeys = APIKeys{
		Google:    redact(c.LLM.APIKeys.Google),
		OpenAI:    redact(c.LLM.APIKeys.OpenAI),
		Anthropic: redact(c.LLM.APIKeys.Anthropic),
	}
	redacted.Storage.S3.SecretAccessKey = redact(c.Storage.S3.SecretAccessKey)
	return yaml.Marshal(redacted)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
