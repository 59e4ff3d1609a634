package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// WorkerPool processes the chunks of one pass. Each chunk gets its own
// goroutine and its items run strictly in order. Chunks share nothing but
// the ledger; disjoint chunks guarantee each record has a single writer.
type WorkerPool struct {
	stage   ports.Stage
	ledger  ports.Ledger
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// NewWorkerPool creates a pool that writes the stage's records to ledger.
// A nil logger or metrics collector disables that output.
func NewWorkerPool(
	stage ports.Stage,
	ledger ports.Ledger,
	logger *zap.Logger,
	metrics ports.MetricsCollector,
) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		stage:   stage,
		ledger:  ledger,
		logger:  logger,
		metrics: metricsOrNop(metrics),
	}
}

// Run processes every chunk concurrently and returns one outcome per item
// that was attempted. Item failures are reported as outcomes and never stop
// a chunk. Run returns an error only when a worker itself crashes; outcomes
// gathered by the other workers are still returned.
// Cancelling ctx stops each worker before its next item.
func (p *WorkerPool) Run(ctx context.Context, chunks [][]int) ([]domain.ItemOutcome, error) {
	results := make([][]domain.ItemOutcome, len(chunks))

	var g errgroup.Group
	for i, chunk := range chunks {
		p.metrics.RecordHistogram(MetricChunkSize, float64(len(chunk)), map[string]string{"stage": p.stage.Name()})
		g.Go(func() error {
			outcomes, err := p.runChunk(ctx, i, chunk)
			results[i] = outcomes
			return err
		})
	}
	err := g.Wait()

	var outcomes []domain.ItemOutcome
	for _, r := range results {
		outcomes = append(outcomes, r...)
	}
	return outcomes, err
}

func (p *WorkerPool) runChunk(ctx context.Context, worker int, chunk []int) (outcomes []domain.ItemOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker crashed",
				zap.Int("worker", worker),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("worker %d: %w: %v", worker, domain.ErrWorkerPanic, r)
		}
	}()

	outcomes = make([]domain.ItemOutcome, 0, len(chunk))
	for _, idx := range chunk {
		if ctx.Err() != nil {
			return outcomes, nil
		}
		outcomes = append(outcomes, p.processItem(ctx, idx))
	}
	return outcomes, nil
}

func (p *WorkerPool) processItem(ctx context.Context, idx int) domain.ItemOutcome {
	start := time.Now()
	name := domain.OutputName(idx)

	err := func() error {
		record, err := p.stage.Process(ctx, idx)
		if err != nil {
			return domain.NewItemError(idx, "generate", err)
		}
		data, err := p.stage.Marshal(record)
		if err != nil {
			return domain.NewItemError(idx, "marshal", err)
		}
		if err := p.ledger.Write(ctx, name, data); err != nil {
			return domain.NewItemError(idx, "write", err)
		}
		return nil
	}()

	elapsed := time.Since(start)
	labels := map[string]string{"stage": p.stage.Name(), "status": "success"}
	if err != nil {
		labels["status"] = "failure"
		p.logger.Warn("item failed",
			zap.Int("index", idx),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		p.logger.Debug("item completed",
			zap.Int("index", idx),
			zap.String("record", name),
			zap.Duration("elapsed", elapsed),
		)
	}
	p.metrics.RecordCounter(MetricItemsProcessed, 1, labels)
	p.metrics.RecordLatency(OperationItem, elapsed, labels)

	return domain.ItemOutcome{Index: idx, Err: err, Duration: elapsed}
}
