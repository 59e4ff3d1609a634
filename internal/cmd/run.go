package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/infrastructure/ledger"
	"github.com/ahrav/go-rationale/infrastructure/middleware"
	"github.com/ahrav/go-rationale/internal/application"
)

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <qa|rationale|judge|all>",
		Short: "Generate missing records for a stage and write its dataset",
		Long: `Run resumes a stage until every work item has a record, then aggregates
the records into the stage dataset. "all" runs qa, rationale and judge in
order and stops at the first stage that does not finish.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"qa", "rationale", "judge", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0])
		},
	}
}

func (a *app) run(cmd *cobra.Command, which string) error {
	names, err := selectStages(which)
	if err != nil {
		return err
	}
	if a.registry != nil {
		if err := a.registry.Check(a.modelSpecs(names)...); err != nil {
			return fmt.Errorf("model configuration: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := ledger.Open(ctx, a.cfg.Storage, a.cfg.TargetFolder)
	if err != nil {
		return err
	}
	reg, err := a.stageRegistry(target, a.clients)
	if err != nil {
		return err
	}
	plans, err := a.plans(target, reg, names)
	if err != nil {
		return err
	}
	pipeline, err := application.NewPipeline(target, plans, a.logger, a.metrics)
	if err != nil {
		return err
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := middleware.NewServer(addr, a.metrics, a.logger)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.logger.Info("run started",
		zap.Strings("stages", names),
		zap.String("target", target.Location()),
		zap.Int("num_tasks", a.cfg.Harness.Parallelism),
	)
	results, runErr := pipeline.Run(ctx)
	for i, res := range results {
		printResult(cmd.OutOrStdout(), plans[i].Name, res)
	}

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	return runErr
}

func printResult(w io.Writer, name string, res application.StageResult) {
	run, agg := res.Run, res.Aggregate
	if run.Stage != "" {
		fmt.Fprintf(w, "%s: %d/%d complete after %d passes (%s)\n",
			name, run.Completed, run.Total, len(run.Passes), run.StopReason)
	}
	if agg.Output != "" {
		fmt.Fprintf(w, "%s: wrote %s with %d rows (%d files, %d skipped, %d excluded)\n",
			name, agg.Output, agg.Rows, agg.Files, agg.Skipped, agg.Excluded)
	}
}
