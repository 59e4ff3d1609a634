// Package cmd implements the rationale command-line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/infrastructure/llm"
	"github.com/ahrav/go-rationale/infrastructure/middleware"
	"github.com/ahrav/go-rationale/internal/config"
	"github.com/ahrav/go-rationale/internal/observability"
	"github.com/ahrav/go-rationale/internal/ports"
)

// ClientFactory resolves a "provider/model" spec to a model client.
type ClientFactory func(spec string) (ports.LLMClient, error)

// Option customizes the root command, mainly for tests.
type Option func(*app)

// WithClientFactory replaces the provider registry as the source of model
// clients.
func WithClientFactory(f ClientFactory) Option {
	return func(a *app) { a.clients = f }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *app) { a.baseLogger = logger }
}

// app holds state shared by subcommands once the persistent pre-run has
// loaded configuration.
type app struct {
	v          *viper.Viper
	configPath string
	verbose    bool

	cfg        *config.Config
	logger     *zap.Logger
	baseLogger *zap.Logger
	runID      string
	metrics    *middleware.PrometheusMetrics
	clients    ClientFactory
	// registry is nil when a ClientFactory was injected.
	registry *llm.Registry
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"target-folder":     "target_folder",
	"image-folder":      "image_folder",
	"num-tasks":         "harness.num_tasks",
	"max-passes":        "harness.max_passes",
	"storage":           "storage.backend",
	"log-format":        "logging.format",
	"metrics-addr":      "metrics.addr",
	"metrics-textfile":  "metrics.textfile",
	"google-api-key":    "llm.api_keys.google",
	"openai-api-key":    "llm.api_keys.openai",
	"anthropic-api-key": "llm.api_keys.anthropic",
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{v: config.New()}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "rationale",
		Short: "Resumable batch builder for multimodal QA and rationale datasets",
		Long: `rationale builds a visual reasoning dataset in three stages:

  qa         ask a vision model for question/answer/distractor triples per image
  rationale  generate a rationale for the correct and for the confusing answer
  judge      ask text models whether the two rationales contradict each other

Every work item is persisted as its own record, so an interrupted run can be
started again and continues with the items that have no record yet.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./rationale.yaml if present)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("target-folder", "", "folder holding manifests, records and datasets")
	flags.String("image-folder", "", "folder the qa manifest paths are relative to")
	flags.Int("num-tasks", 0, "requested number of parallel chunks per pass")
	flags.Int("max-passes", 0, "stop after this many passes (0 means until done)")
	flags.String("storage", "", "record storage backend: file or s3")
	flags.String("log-format", "", "log encoding: json or console")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this host:port")
	flags.String("metrics-textfile", "", "write final metrics to this file")
	flags.String("google-api-key", "", "Google API key (default $GOOGLE_API_KEY)")
	flags.String("openai-api-key", "", "OpenAI API key (default $OPENAI_API_KEY)")
	flags.String("anthropic-api-key", "", "Anthropic API key (default $ANTHROPIC_API_KEY)")
	bindFlags(a.v, flags)

	root.AddCommand(
		newRunCommand(a),
		newStatusCommand(a),
		newAggregateCommand(a),
		newConfigCommand(a),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// setup loads configuration and builds the logger and metrics collector.
func (a *app) setup(*cobra.Command, []string) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	logger := a.baseLogger
	if logger == nil {
		logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
	}
	a.runID = observability.NewRunID()
	a.logger = observability.WithRun(logger, a.runID)
	a.metrics = middleware.NewPrometheusMetrics()

	if a.clients == nil {
		registry, err := a.newLLMRegistry()
		if err != nil {
			return err
		}
		a.registry = registry
		a.clients = registry.GetClient
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
