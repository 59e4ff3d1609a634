package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/ports"
)

func TestPipelineFeedsDatasetToNextStage(t *testing.T) {
	ctx := context.Background()
	target := newMemLedger("target")

	first := StagePlan{
		Name:      "first",
		Build:     func(context.Context) (ports.Stage, error) { return newScriptedStage(3, nil), nil },
		Records:   target.Sub("first_out"),
		Resume:    ResumeConfig{Parallelism: 2},
		Aggregate: AggregateConfig{Output: "first.json"},
	}

	var secondLen int
	second := StagePlan{
		Name: "second",
		Build: func(ctx context.Context) (ports.Stage, error) {
			data, err := target.Read(ctx, "first.json")
			if err != nil {
				return nil, err
			}
			var rows []fakeRecord
			if err := json.Unmarshal(data, &rows); err != nil {
				return nil, err
			}
			secondLen = len(rows)
			s := newScriptedStage(len(rows), nil)
			s.name = "second"
			return s, nil
		},
		Records:   target.Sub("second_out"),
		Resume:    ResumeConfig{Parallelism: 2},
		Aggregate: AggregateConfig{Output: "second.json"},
	}

	p, err := NewPipeline(target, []StagePlan{first, second}, nil, nil)
	require.NoError(t, err)

	results, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 3, secondLen)
	assert.Equal(t, 3, results[1].Aggregate.Rows)
	assert.True(t, results[1].Run.Done())
}

func TestPipelineStopsAtIncompleteStage(t *testing.T) {
	target := newMemLedger("target")
	built := false

	plans := []StagePlan{
		{
			Name: "flaky",
			Build: func(context.Context) (ports.Stage, error) {
				return newScriptedStage(2, func(index, _ int) error {
					if index == 1 {
						return errors.New("always fails")
					}
					return nil
				}), nil
			},
			Records:   target.Sub("flaky_out"),
			Resume:    ResumeConfig{Parallelism: 1},
			Aggregate: AggregateConfig{Output: "flaky.json"},
		},
		{
			Name: "never",
			Build: func(context.Context) (ports.Stage, error) {
				built = true
				return newScriptedStage(0, nil), nil
			},
			Records:   target.Sub("never_out"),
			Resume:    ResumeConfig{Parallelism: 1},
			Aggregate: AggregateConfig{Output: "never.json"},
		},
	}

	p, err := NewPipeline(target, plans, nil, nil)
	require.NoError(t, err)

	results, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrStageIncomplete)
	require.Len(t, results, 1)
	assert.False(t, built)

	// The incomplete stage still publishes what it has.
	assert.Equal(t, 1, results[0].Aggregate.Rows)
	_, err = target.Read(context.Background(), "flaky.json")
	assert.NoError(t, err)
}

func TestPipelineAggregatesAfterOrchestrationFailure(t *testing.T) {
	target := newMemLedger("target")
	records := newMemLedger("out")
	records.put(t, "0.json", fakeRecord{Image: "a.jpg", Value: "v"})
	boom := errors.New("listing failed")
	records.failListing(boom)

	plan := StagePlan{
		Name:      "s",
		Build:     func(context.Context) (ports.Stage, error) { return newScriptedStage(2, nil), nil },
		Records:   records,
		Resume:    ResumeConfig{Parallelism: 1},
		Aggregate: AggregateConfig{Output: "s.json"},
	}
	p, err := NewPipeline(target, []StagePlan{plan}, nil, nil)
	require.NoError(t, err)

	res, err := p.RunStage(context.Background(), plan)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Aggregate.Rows)
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(nil, []StagePlan{{}}, nil, nil)
	assert.Error(t, err)

	_, err = NewPipeline(newMemLedger("t"), nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPipeline(newMemLedger("t"), []StagePlan{{Name: "x"}}, nil, nil)
	assert.Error(t, err)
}
