package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-rationale/infrastructure/ledger"
	"github.com/ahrav/go-rationale/infrastructure/stages"
	"github.com/ahrav/go-rationale/internal/application"
	"github.com/ahrav/go-rationale/internal/domain"
)

func newStatusCommand(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:       "status <qa|rationale|judge>",
		Short:     "Show completed and incomplete work items without generating",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stages.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd, args[0], list)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the incomplete indices")
	return cmd
}

func (a *app) status(cmd *cobra.Command, name string, list bool) error {
	io, err := a.cfg.Stages.IO(name)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	target, err := ledger.Open(ctx, a.cfg.Storage, a.cfg.TargetFolder)
	if err != nil {
		return err
	}

	// Only the manifest length matters here, so entries stay undecoded.
	manifest, err := stages.LoadManifest[json.RawMessage](ctx, target, io.Manifest)
	if err != nil {
		return err
	}
	incomplete, err := application.Incomplete(ctx, domain.Indices(len(manifest)), target.Sub(io.OutputDir))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d total, %d completed, %d incomplete\n",
		name, len(manifest), len(manifest)-len(incomplete), len(incomplete))
	if list {
		for _, idx := range incomplete {
			fmt.Fprintln(out, idx)
		}
	}
	return nil
}
