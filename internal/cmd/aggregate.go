package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-rationale/infrastructure/ledger"
	"github.com/ahrav/go-rationale/infrastructure/stages"
	"github.com/ahrav/go-rationale/internal/application"
)

func newAggregateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <qa|rationale|judge>",
		Short: "Rebuild a stage dataset from its records without generating",
		Long: `Aggregate reads every record of a stage, drops malformed records and
excluded images, and rewrites the stage dataset. No model is called, so no
credentials are needed.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: stages.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.aggregate(cmd, args[0])
		},
	}
}

func (a *app) aggregate(cmd *cobra.Command, name string) error {
	io, err := a.cfg.Stages.IO(name)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	target, err := ledger.Open(ctx, a.cfg.Storage, a.cfg.TargetFolder)
	if err != nil {
		return err
	}
	reg, err := a.stageRegistry(target, offlineClients)
	if err != nil {
		return err
	}
	stage, err := reg.Create(ctx, name)
	if err != nil {
		return err
	}

	agg, err := application.NewAggregator(stage, target.Sub(io.OutputDir), target, a.aggregateConfig(name, io), a.logger, a.metrics)
	if err != nil {
		return err
	}
	report, err := agg.Aggregate(ctx)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), name, application.StageResult{Aggregate: report})
	return nil
}
