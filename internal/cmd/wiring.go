package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-rationale/infrastructure/llm"
	"github.com/ahrav/go-rationale/infrastructure/stages"
	"github.com/ahrav/go-rationale/internal/application"
	"github.com/ahrav/go-rationale/internal/config"
	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// serviceName names the tracer used for model calls.
const serviceName = "rationale"

// judgeDatasetIndent matches the indentation of judge records.
const judgeDatasetIndent = "    "

// errOffline is returned by clients handed to commands that never call a
// model.
var errOffline = errors.New("model calls are disabled for this command")

// newLLMRegistry builds the provider registry from configuration. The
// middleware chain is listed outermost first: each logical call is traced
// and measured once, the breaker sees the outcome after retries, and every
// attempt waits for the rate limiter and gets its own timeout.
func (a *app) newLLMRegistry() (*llm.Registry, error) {
	cfg := a.cfg.LLM

	providers := maps.Clone(llm.DefaultProviders)
	for name, key := range map[string]string{
		"google":    cfg.APIKeys.Google,
		"openai":    cfg.APIKeys.OpenAI,
		"anthropic": cfg.APIKeys.Anthropic,
	} {
		if key == "" {
			continue
		}
		p := providers[name]
		p.APIKey = key
		providers[name] = p
	}

	chain := []llm.Middleware{
		llm.TracingMiddleware(serviceName),
		llm.MetricsMiddleware(a.metrics),
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		chain = append(chain, llm.CircuitBreakerMiddleware(cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.Cooldown, a.metrics))
	}
	if cfg.Retry.MaxRetries > 0 {
		chain = append(chain, llm.RetryMiddleware(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay))
	}
	if cfg.RateLimit.RPS > 0 {
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RPS), max(cfg.RateLimit.Burst, 1)))
	}
	if cfg.RequestTimeout > 0 {
		chain = append(chain, llm.TimeoutMiddleware(cfg.RequestTimeout))
	}

	return llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		DefaultProvider:   cfg.DefaultProvider,
		DefaultTimeout:    cfg.RequestTimeout,
		DefaultMiddleware: chain,
	})
}

// stageRegistry registers a lazy factory per stage. Each factory reads its
// manifest from target when invoked, so a stage sees the dataset written by
// the stage before it in the same run.
func (a *app) stageRegistry(target ports.Ledger, clients ClientFactory) (*application.StageRegistry, error) {
	sc := a.cfg.Stages
	reg := application.NewStageRegistry()

	err := errors.Join(
		reg.Register(stages.NameQA, func(ctx context.Context) (ports.Stage, error) {
			images, err := stages.LoadManifest[string](ctx, target, sc.QA.Manifest)
			if err != nil {
				return nil, err
			}
			client, err := clients(sc.QA.Model)
			if err != nil {
				return nil, fmt.Errorf("qa model: %w", err)
			}
			return stages.NewQAStage(images, client, stages.QAConfig{
				ImageFolder: a.cfg.ImageFolder,
				Prompt:      sc.QA.Prompt,
				Generation:  sc.QA.GenerationOptions,
			})
		}),
		reg.Register(stages.NameRationale, func(ctx context.Context) (ports.Stage, error) {
			pairs, err := stages.LoadManifest[domain.QAPair](ctx, target, sc.Rationale.Manifest)
			if err != nil {
				return nil, err
			}
			client, err := clients(sc.Rationale.Model)
			if err != nil {
				return nil, fmt.Errorf("rationale model: %w", err)
			}
			return stages.NewRationaleStage(pairs, client, stages.RationaleConfig{
				CorrectPrompt:   sc.Rationale.CorrectPrompt,
				IncorrectPrompt: sc.Rationale.IncorrectPrompt,
				Generation:      sc.Rationale.GenerationOptions,
			})
		}),
		reg.Register(stages.NameJudge, func(ctx context.Context) (ports.Stage, error) {
			records, err := stages.LoadManifest[domain.RationaleRecord](ctx, target, sc.Judge.Manifest)
			if err != nil {
				return nil, err
			}
			primary, err := clients(sc.Judge.PrimaryModel)
			if err != nil {
				return nil, fmt.Errorf("primary judge model: %w", err)
			}
			var secondary ports.LLMClient
			if sc.Judge.SecondaryModel != "" {
				if secondary, err = clients(sc.Judge.SecondaryModel); err != nil {
					return nil, fmt.Errorf("secondary judge model: %w", err)
				}
			}
			return stages.NewJudgeStage(records, primary, secondary, stages.JudgeConfig{
				Prompt:     sc.Judge.Prompt,
				Generation: sc.Judge.GenerationOptions,
			})
		}),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// plans turns stage names into pipeline plans in the given order.
func (a *app) plans(target ports.Ledger, reg *application.StageRegistry, names []string) ([]application.StagePlan, error) {
	out := make([]application.StagePlan, 0, len(names))
	for _, name := range names {
		io, err := a.cfg.Stages.IO(name)
		if err != nil {
			return nil, err
		}
		factory, err := reg.Factory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, application.StagePlan{
			Name:      name,
			Build:     factory,
			Records:   target.Sub(io.OutputDir),
			Resume:    a.cfg.Harness.ResumeConfig,
			Aggregate: a.aggregateConfig(name, io),
		})
	}
	return out, nil
}

func (a *app) aggregateConfig(name string, io config.StageIO) application.AggregateConfig {
	agg := application.AggregateConfig{
		Output:               io.Dataset,
		Exclude:              io.Exclude,
		PreserveListingOrder: a.cfg.Harness.PreserveListingOrder,
	}
	if name == stages.NameJudge {
		agg.Indent = judgeDatasetIndent
	}
	return agg
}

// modelSpecs lists the model specs the named stages will request. An unset
// secondary judge yields an empty spec.
func (a *app) modelSpecs(names []string) []string {
	sc := a.cfg.Stages
	var specs []string
	for _, name := range names {
		switch name {
		case stages.NameQA:
			specs = append(specs, sc.QA.Model)
		case stages.NameRationale:
			specs = append(specs, sc.Rationale.Model)
		case stages.NameJudge:
			specs = append(specs, sc.Judge.PrimaryModel, sc.Judge.SecondaryModel)
		}
	}
	return specs
}

// selectStages expands a run argument into stage names.
func selectStages(arg string) ([]string, error) {
	if arg == "all" {
		return stages.Names, nil
	}
	for _, n := range stages.Names {
		if n == arg {
			return []string{n}, nil
		}
	}
	return nil, fmt.Errorf("unknown stage %q: want one of qa, rationale, judge, all", arg)
}

// offlineClients resolves every spec to a client that refuses to generate.
// Aggregation only decodes records, so it runs without credentials.
func offlineClients(spec string) (ports.LLMClient, error) {
	return offlineClient{model: spec}, nil
}

type offlineClient struct{ model string }

func (offlineClient) Complete(context.Context, string, map[string]any) (string, error) {
	return "", errOffline
}

func (offlineClient) CompleteWithImages(context.Context, string, []ports.Image, map[string]any) (string, error) {
	return "", errOffline
}

func (offlineClient) EstimateTokens(string) (int, error) { return 0, errOffline }

func (c offlineClient) GetModel() string { return c.model }
