package main

import (
	"fmt"
	"samplecore/internal/app"
	"samplecore/internal/core"
	"strings"

	"github.com/spf13/cobra"
)

type relocationFlags struct {
	scope       string
	destination string
	target      string
}

func (f *relocationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scope, "scope", "", "project or group namespace the samples are selected from")
	cmd.Flags().StringVar(&f.destination, "to", "", "destination project id")
	cmd.Flags().StringVar(&f.target, "broadcast", "", "progress stream name")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("to")
}

// printResult writes the result and turns a not_applied status into a
// non-zero exit.
func printResult(cmd *cobra.Command, res core.OperationResult) error {
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status == core.StatusNotApplied {
		return fmt.Errorf("operation not applied")
	}
	return nil
}

func newTransferCmd(g *globalFlags) *cobra.Command {
	var f relocationFlags
	cmd := &cobra.Command{
		Use:   "transfer SAMPLE_ID...",
		Short: "Move samples into a destination project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.Transfer(cmd.Context(), core.TransferRequest{
					ActorID:              g.actor,
					ScopeID:              f.scope,
					DestinationProjectID: f.destination,
					SampleIDs:            args,
					BroadcastTarget:      f.target,
				})
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newCloneCmd(g *globalFlags) *cobra.Command {
	var f relocationFlags
	cmd := &cobra.Command{
		Use:   "clone SAMPLE_ID...",
		Short: "Copy samples and their attachments into a destination project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.Clone(cmd.Context(), core.CloneRequest{
					ActorID:              g.actor,
					ScopeID:              f.scope,
					DestinationProjectID: f.destination,
					SampleIDs:            args,
					BroadcastTarget:      f.target,
				})
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newDestroyCmd(g *globalFlags) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "destroy SAMPLE_ID...",
		Short: "Soft-delete samples",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.Destroy(cmd.Context(), core.DestroyRequest{
					ActorID:   g.actor,
					ScopeID:   scope,
					SampleIDs: args,
				})
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "project or group namespace the samples are selected from")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func newMetadataCmd(g *globalFlags) *cobra.Command {
	var (
		scope    string
		source   string
		sourceID string
		force    bool
		sets     []string
	)
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Write metadata fields on samples",
		Long: `Each --set takes SAMPLE_ID:KEY=VALUE. An empty VALUE deletes the field.
Analysis writes outrank user writes; --force refreshes provenance on
unchanged values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			updates, err := parseSets(sets)
			if err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.UpdateMetadata(cmd.Context(), core.MetadataRequest{
					ActorID:  g.actor,
					ScopeID:  scope,
					Updates:  updates,
					Source:   core.MetadataSource(source),
					SourceID: sourceID,
					Force:    force,
				})
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "project or group namespace the samples are selected from")
	cmd.Flags().StringVar(&source, "source", string(core.SourceUser), "user or analysis")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "id recorded as provenance; defaults to --as")
	cmd.Flags().BoolVar(&force, "force", false, "refresh provenance even when the value is unchanged")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "SAMPLE_ID:KEY=VALUE, repeatable")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func parseSets(sets []string) (map[string]map[string]string, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("at least one --set is required")
	}
	updates := make(map[string]map[string]string)
	for _, s := range sets {
		id, field, ok := strings.Cut(s, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --set %q: want SAMPLE_ID:KEY=VALUE", s)
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q: want SAMPLE_ID:KEY=VALUE", s)
		}
		if updates[id] == nil {
			updates[id] = make(map[string]string)
		}
		updates[id][key] = value
	}
	return updates, nil
}

func newReconcileCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile NAMESPACE_ID",
		Short: "Recompute sample counts and metadata summaries under a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Service.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
