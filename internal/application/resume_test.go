package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahrav/go-rationale/internal/domain"
)

func newLoop(t *testing.T, stage *scriptedStage, ledger *memLedger, cfg ResumeConfig) *ResumeLoop {
	t.Helper()
	loop, err := NewResumeLoop(stage, ledger, cfg)
	require.NoError(t, err)
	return loop
}

func TestResumeLoopRetriesFailedItemOnNextPass(t *testing.T) {
	stage := newScriptedStage(5, func(index, attempt int) error {
		if index == 3 && attempt == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	ledger := newMemLedger("out")
	loop := newLoop(t, stage, ledger, ResumeConfig{Parallelism: 2})

	report, err := loop.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Passes, 2)

	first := report.Passes[0]
	assert.Equal(t, 5, first.Incomplete)
	assert.Equal(t, 2, first.Parallelism)
	assert.Equal(t, 3, first.Chunks)
	assert.Equal(t, 4, first.Succeeded())
	require.Len(t, first.Failed(), 1)
	assert.Equal(t, 3, first.Failed()[0].Index)

	second := report.Passes[1]
	assert.Equal(t, 1, second.Incomplete)
	assert.Equal(t, 1, second.Parallelism)
	assert.Equal(t, 1, second.Chunks)
	assert.Equal(t, 1, second.Succeeded())

	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, domain.StopDone, report.StopReason)
	assert.Equal(t, 5, report.Completed)
	assert.Equal(t, 0, report.Incomplete)
	assert.ElementsMatch(t,
		[]string{"0.json", "1.json", "2.json", "3.json", "4.json"},
		ledger.names(),
	)
	assert.Equal(t, 2, stage.attemptsFor(3))
	assert.Equal(t, 1, stage.attemptsFor(0))
}

func TestResumeLoopIsIdempotentWhenComplete(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger("out")
	first := newScriptedStage(4, nil)
	_, err := newLoop(t, first, ledger, ResumeConfig{Parallelism: 3}).Run(ctx)
	require.NoError(t, err)
	writes := ledger.writeCount()

	second := newScriptedStage(4, nil)
	report, err := newLoop(t, second, ledger, ResumeConfig{Parallelism: 3}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, second.callCount())
	assert.Equal(t, writes, ledger.writeCount())
	assert.Empty(t, report.Passes)
	assert.True(t, report.Done())
}

func TestResumeLoopStopsWithoutProgress(t *testing.T) {
	stage := newScriptedStage(3, func(index, _ int) error {
		if index == 2 {
			return errors.New("bad image")
		}
		return nil
	})
	ledger := newMemLedger("out")

	report, err := newLoop(t, stage, ledger, ResumeConfig{Parallelism: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StateRunning, report.State)
	assert.Equal(t, domain.StopNoProgress, report.StopReason)
	assert.Len(t, report.Passes, 2)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Incomplete)
	assert.Equal(t, 2, stage.attemptsFor(2))
}

func TestResumeLoopToleratesStalledPasses(t *testing.T) {
	stage := newScriptedStage(1, func(_, attempt int) error {
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	cfg := ResumeConfig{Parallelism: 1, MaxStalledPasses: 2}

	report, err := newLoop(t, stage, newMemLedger("out"), cfg).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Done())
	assert.Len(t, report.Passes, 3)
}

func TestResumeLoopMaxPasses(t *testing.T) {
	stage := newScriptedStage(2, func(_, attempt int) error {
		if attempt == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})
	cfg := ResumeConfig{Parallelism: 1, MaxPasses: 1, MaxStalledPasses: 5}

	report, err := newLoop(t, stage, newMemLedger("out"), cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StopMaxPasses, report.StopReason)
	assert.Len(t, report.Passes, 1)
	assert.Equal(t, 2, report.Incomplete)
}

func TestResumeLoopOrchestrationFailureEndsLoop(t *testing.T) {
	stage := newScriptedStage(3, nil)
	ledger := newMemLedger("out")
	boom := errors.New("permission denied")
	ledger.failListing(boom)

	report, err := newLoop(t, stage, ledger, ResumeConfig{Parallelism: 2}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var oerr *domain.OrchestrationError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, 1, oerr.Pass)

	assert.Equal(t, domain.StopOrchestrationFailure, report.StopReason)
	assert.Equal(t, 0, stage.callCount())
}

func TestResumeLoopRetriesOrchestrationFailureWhenConfigured(t *testing.T) {
	stage := newScriptedStage(3, nil)
	ledger := newMemLedger("out")
	ledger.failListing(errors.New("flaky listing"))

	cfg := ResumeConfig{Parallelism: 2, MaxOrchestrationRetries: 1}
	report, err := newLoop(t, stage, ledger, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Done())
	assert.Error(t, report.Err)
}

func TestResumeLoopWorkerCrashStopsAfterPass(t *testing.T) {
	stage := newScriptedStage(6, func(index, _ int) error {
		if index == 0 {
			panic("worker bug")
		}
		return nil
	})
	ledger := newMemLedger("out")

	report, err := newLoop(t, stage, ledger, ResumeConfig{Parallelism: 2}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWorkerPanic)
	assert.Equal(t, domain.StopOrchestrationFailure, report.StopReason)
	require.Len(t, report.Passes, 1)

	// Counts reflect the records the surviving worker wrote.
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 3, report.Incomplete)
}

func TestResumeLoopCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := newScriptedStage(3, nil)
	report, err := newLoop(t, stage, newMemLedger("out"), ResumeConfig{Parallelism: 1}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StopCanceled, report.StopReason)
	assert.Equal(t, 0, stage.callCount())
}

func TestResumeLoopEmptyStageIsDone(t *testing.T) {
	report, err := newLoop(t, newScriptedStage(0, nil), newMemLedger("out"), DefaultResumeConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Done())
	assert.Empty(t, report.Passes)
}

func TestNewResumeLoopValidation(t *testing.T) {
	stage := newScriptedStage(1, nil)
	ledger := newMemLedger("out")

	_, err := NewResumeLoop(stage, ledger, ResumeConfig{Parallelism: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewResumeLoop(nil, ledger, DefaultResumeConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewResumeLoop(stage, nil, DefaultResumeConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewResumeLoop(stage, ledger, ResumeConfig{Parallelism: 1, MaxPasses: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestResumeLoopLogsProgressAtPassStart(t *testing.T) {
	stage := newScriptedStage(4, func(index, attempt int) error {
		if index == 2 && attempt == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	core, logs := observer.New(zap.InfoLevel)
	loop, err := NewResumeLoop(stage, newMemLedger("out"), ResumeConfig{Parallelism: 2}, WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	require.NoError(t, err)

	starts := logs.FilterMessage("pass started").AllUntimed()
	require.Len(t, starts, 2)
	first, second := starts[0].ContextMap(), starts[1].ContextMap()
	assert.Equal(t, int64(0), first["completed"])
	assert.Equal(t, int64(4), first["incomplete"])
	assert.Equal(t, int64(3), second["completed"])
	assert.Equal(t, int64(1), second["incomplete"])
}
