package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// ErrStageIncomplete indicates that a pipeline stopped because a stage still
// had items without records. Later stages index into the earlier stage's
// dataset, so they only run once that dataset is final.
var ErrStageIncomplete = errors.New("stage incomplete")

// StagePlan describes how to run one stage inside a Pipeline.
type StagePlan struct {
	// Name identifies the stage.
	Name string

	// Build creates the stage. It is called only when the stage is about to
	// run, after every earlier stage has written its dataset.
	Build func(ctx context.Context) (ports.Stage, error)

	// Records is the ledger holding the stage's per-item records.
	Records ports.Ledger

	Resume    ResumeConfig
	Aggregate AggregateConfig
}

// StageResult is the outcome of running one stage.
type StageResult struct {
	Run       domain.RunReport
	Aggregate domain.AggregateReport
}

// Pipeline runs stages in order. Each stage is resumed to completion and
// then aggregated into its dataset in the target ledger.
type Pipeline struct {
	target  ports.Ledger
	plans   []StagePlan
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// NewPipeline creates a pipeline that writes datasets to target.
func NewPipeline(target ports.Ledger, plans []StagePlan, logger *zap.Logger, metrics ports.MetricsCollector) (*Pipeline, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: target ledger is required", domain.ErrInvalidConfiguration)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", domain.ErrInvalidConfiguration)
	}
	for _, p := range plans {
		if p.Name == "" || p.Build == nil || p.Records == nil {
			return nil, fmt.Errorf("%w: stage plan %q is incomplete", domain.ErrInvalidConfiguration, p.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{target: target, plans: plans, logger: logger, metrics: metrics}, nil
}

// Run executes every stage in order and returns the results of the stages
// that ran. A stage is aggregated even when its resume loop stops early, so
// its dataset always reflects the records written so far, but the pipeline
// does not advance past a stage that is not done.
func (p *Pipeline) Run(ctx context.Context) ([]StageResult, error) {
	results := make([]StageResult, 0, len(p.plans))
	for _, plan := range p.plans {
		res, err := p.RunStage(ctx, plan)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		if !res.Run.Done() {
			return results, fmt.Errorf("%w: %s stopped with %d of %d items incomplete (%s)",
				ErrStageIncomplete, plan.Name, res.Run.Incomplete, res.Run.Total, res.Run.StopReason)
		}
	}
	return results, nil
}

// RunStage resumes one stage and aggregates its records.
func (p *Pipeline) RunStage(ctx context.Context, plan StagePlan) (StageResult, error) {
	var res StageResult

	stage, err := plan.Build(ctx)
	if err != nil {
		return res, fmt.Errorf("build %s stage: %w", plan.Name, err)
	}
	logger := p.logger.With(zap.String("stage", plan.Name))
	logger.Info("stage started",
		zap.Int("items", stage.Len()),
		zap.String("records", plan.Records.Location()),
	)

	loop, err := NewResumeLoop(stage, plan.Records, plan.Resume, WithLogger(p.logger), WithMetrics(p.metrics))
	if err != nil {
		return res, err
	}
	agg, err := NewAggregator(stage, plan.Records, p.target, plan.Aggregate, p.logger, p.metrics)
	if err != nil {
		return res, err
	}

	res.Run, err = loop.Run(ctx)
	if err != nil {
		logger.Error("resume loop failed; aggregating records written so far", zap.Error(err))
	}

	// Aggregation always runs on a live context so a cancelled run still
	// leaves a dataset behind.
	report, aggErr := agg.Aggregate(context.WithoutCancel(ctx))
	res.Aggregate = report
	return res, errors.Join(err, aggErr)
}
