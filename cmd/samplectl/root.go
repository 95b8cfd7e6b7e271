package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"samplecore/internal/app"
	"samplecore/internal/config"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	actor      string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "samplectl",
		Short: "Transfer, clone, destroy and annotate samples in bulk",
		Long: `samplectl drives the bulk sample-mutation engine. Storage, blob,
lock and progress backends come from the YAML file given by --config,
overridden by SAMPLECORE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML configuration")
	root.PersistentFlags().StringVar(&flags.actor, "as", "", "user id performing the operation")

	root.AddCommand(
		newGroupCmd(flags),
		newProjectCmd(flags),
		newSampleCmd(flags),
		newMemberCmd(flags),
		newTransferCmd(flags),
		newCloneCmd(flags),
		newDestroyCmd(flags),
		newMetadataCmd(flags),
		newReconcileCmd(flags),
		newMetricsCmd(flags),
	)
	return root
}

// withApp opens the configured backends for the duration of fn.
func (g *globalFlags) withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (g *globalFlags) requireActor() error {
	if g.actor == "" {
		return fmt.Errorf("--as is required")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
