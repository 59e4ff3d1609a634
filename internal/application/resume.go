package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// validate is the shared validator instance for harness configuration.
var validate = validator.New()

// ResumeConfig controls how a ResumeLoop schedules passes and when it
// gives up.
type ResumeConfig struct {
	// Parallelism is the requested number of chunks per pass. A pass whose
	// incomplete set is no larger than Parallelism runs as a single chunk.
	Parallelism int `yaml:"num_tasks" mapstructure:"num_tasks" validate:"min=1,max=1024"`

	// MaxPasses bounds the number of passes per invocation; zero means no
	// bound.
	MaxPasses int `yaml:"max_passes" mapstructure:"max_passes" validate:"min=0"`

	// MaxOrchestrationRetries is the number of pass-level failures tolerated
	// before the loop stops. The default of zero stops at the first failure.
	MaxOrchestrationRetries int `yaml:"max_orchestration_retries" mapstructure:"max_orchestration_retries" validate:"min=0,max=100"`

	// MaxStalledPasses is the number of consecutive passes that may finish
	// without writing a single record before the loop stops.
	MaxStalledPasses int `yaml:"max_stalled_passes" mapstructure:"max_stalled_passes" validate:"min=0,max=100"`
}

// DefaultResumeConfig returns the configuration used when none is given.
func DefaultResumeConfig() ResumeConfig {
	return ResumeConfig{Parallelism: 1}
}

// ResumeLoop drives a stage to completion by repeating passes of
// compute incomplete, partition, and dispatch workers. All progress lives in
// the ledger, so a loop that stops for any reason can be re-invoked and
// continues with exactly the items that have no record.
type ResumeLoop struct {
	stage   ports.Stage
	ledger  ports.Ledger
	cfg     ResumeConfig
	pool    *WorkerPool
	logger  *zap.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// ResumeOption configures optional ResumeLoop collaborators.
type ResumeOption func(*ResumeLoop)

// WithLogger sets the logger used for pass boundaries and item failures.
func WithLogger(logger *zap.Logger) ResumeOption {
	return func(l *ResumeLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the collector that receives harness metrics.
func WithMetrics(m ports.MetricsCollector) ResumeOption {
	return func(l *ResumeLoop) { l.metrics = metricsOrNop(m) }
}

// WithTracer overrides the tracer obtained from the global provider.
func WithTracer(t trace.Tracer) ResumeOption {
	return func(l *ResumeLoop) {
		if t != nil {
			l.tracer = t
		}
	}
}

// NewResumeLoop validates cfg and creates a loop that writes the stage's
// records to ledger.
func NewResumeLoop(stage ports.Stage, ledger ports.Ledger, cfg ResumeConfig, opts ...ResumeOption) (*ResumeLoop, error) {
	if stage == nil {
		return nil, fmt.Errorf("%w: stage is required", domain.ErrInvalidConfiguration)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", domain.ErrInvalidConfiguration)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: resume config: %v", domain.ErrInvalidConfiguration, err)
	}

	l := &ResumeLoop{
		stage:   stage,
		ledger:  ledger,
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer("github.com/ahrav/go-rationale/application"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("stage", stage.Name()))
	l.pool = NewWorkerPool(stage, ledger, l.logger, l.metrics)
	return l, nil
}

// Run executes passes until every item has a record or a stop condition is
// met, and returns a report of what happened. The report's State is
// StateDone only when the ledger holds a record for every item.
//
// Run stops early when ctx is cancelled, when MaxPasses passes have run,
// when more than MaxStalledPasses consecutive passes write nothing, or when
// more than MaxOrchestrationRetries passes fail as a whole. Stopping early
// is not an error; the returned error is non-nil only for an orchestration
// failure that ended the loop, and it is also recorded in the report.
func (l *ResumeLoop) Run(ctx context.Context) (domain.RunReport, error) {
	ctx, span := l.tracer.Start(ctx, "ResumeLoop.Run",
		trace.WithAttributes(attribute.String("stage", l.stage.Name())),
	)
	defer span.End()

	total := l.stage.Len()
	indices := domain.Indices(total)
	report := domain.RunReport{
		Stage:      l.stage.Name(),
		State:      domain.StateRunning,
		Total:      total,
		Incomplete: total,
	}

	var (
		failures int
		stalled  int
		pending  domain.StopReason
	)
	for {
		pass := len(report.Passes) + 1

		incomplete, err := Incomplete(ctx, indices, l.ledger)
		if err != nil && ctx.Err() != nil {
			report.StopReason = domain.StopCanceled
			break
		}
		if err != nil {
			oerr := domain.NewOrchestrationError(pass, err)
			report.Err = oerr
			failures++
			l.recordOrchestrationFailure(oerr)
			if pending != "" {
				report.StopReason = pending
				break
			}
			if failures > l.cfg.MaxOrchestrationRetries {
				report.StopReason = domain.StopOrchestrationFailure
				break
			}
			continue
		}

		report.Completed = total - len(incomplete)
		report.Incomplete = len(incomplete)
		l.metrics.RecordGauge(MetricItemsIncomplete, float64(len(incomplete)), map[string]string{"stage": l.stage.Name()})

		if len(incomplete) == 0 {
			report.State = domain.StateDone
			report.StopReason = domain.StopDone
			break
		}
		if ctx.Err() != nil {
			report.StopReason = domain.StopCanceled
			break
		}
		if pending != "" {
			report.StopReason = pending
			break
		}
		if l.cfg.MaxPasses > 0 && pass > l.cfg.MaxPasses {
			report.StopReason = domain.StopMaxPasses
			break
		}

		pr := l.runPass(ctx, pass, total, incomplete)
		report.Passes = append(report.Passes, pr)

		switch {
		case pr.Err != nil:
			report.Err = pr.Err
			failures++
			l.recordOrchestrationFailure(pr.Err)
			if failures > l.cfg.MaxOrchestrationRetries {
				pending = domain.StopOrchestrationFailure
			}
		case pr.Succeeded() == 0:
			stalled++
			if stalled > l.cfg.MaxStalledPasses {
				pending = domain.StopNoProgress
			}
		default:
			stalled = 0
		}
	}

	span.SetAttributes(
		attribute.Int("passes", len(report.Passes)),
		attribute.Int("completed", report.Completed),
		attribute.Int("incomplete", report.Incomplete),
		attribute.String("stop_reason", string(report.StopReason)),
	)
	l.logger.Info("resume loop finished",
		zap.String("state", string(report.State)),
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("passes", len(report.Passes)),
		zap.Int("completed", report.Completed),
		zap.Int("incomplete", report.Incomplete),
	)

	if report.StopReason == domain.StopOrchestrationFailure {
		span.SetStatus(codes.Error, report.Err.Error())
		return report, report.Err
	}
	return report, nil
}

// runPass partitions the incomplete set and runs one worker pool over it.
// The pool only lives for the duration of the pass.
func (l *ResumeLoop) runPass(ctx context.Context, pass, total int, incomplete []int) domain.PassReport {
	parallelism := l.cfg.Parallelism
	if len(incomplete) <= parallelism {
		parallelism = 1
	}
	chunks := Partition(incomplete, parallelism)

	ctx, span := l.tracer.Start(ctx, "ResumeLoop.Pass", trace.WithAttributes(
		attribute.Int("pass", pass),
		attribute.Int("incomplete", len(incomplete)),
		attribute.Int("parallelism", parallelism),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	l.logger.Info("pass started",
		zap.Int("pass", pass),
		zap.Int("completed", total-len(incomplete)),
		zap.Int("incomplete", len(incomplete)),
		zap.Int("parallelism", parallelism),
		zap.Int("chunks", len(chunks)),
	)

	start := time.Now()
	outcomes, err := l.pool.Run(ctx, chunks)
	pr := domain.PassReport{
		Pass:        pass,
		Incomplete:  len(incomplete),
		Parallelism: parallelism,
		Chunks:      len(chunks),
		Outcomes:    outcomes,
		Duration:    time.Since(start),
	}
	if err != nil {
		pr.Err = domain.NewOrchestrationError(pass, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	failed := len(pr.Failed())
	span.SetAttributes(
		attribute.Int("succeeded", pr.Succeeded()),
		attribute.Int("failed", failed),
	)
	l.metrics.RecordLatency(OperationPass, pr.Duration, map[string]string{"stage": l.stage.Name()})

	l.logger.Info("pass finished",
		zap.Int("pass", pass),
		zap.Int("succeeded", pr.Succeeded()),
		zap.Int("failed", failed),
		zap.Int("remaining", len(incomplete)-pr.Succeeded()),
		zap.Duration("elapsed", pr.Duration),
	)
	return pr
}

func (l *ResumeLoop) recordOrchestrationFailure(err error) {
	var oerr *domain.OrchestrationError
	pass := 0
	if errors.As(err, &oerr) {
		pass = oerr.Pass
	}
	l.logger.Error("pass failed", zap.Int("pass", pass), zap.Error(err))
	l.metrics.RecordCounter(MetricOrchestrationFailures, 1, map[string]string{"stage": l.stage.Name()})
}
