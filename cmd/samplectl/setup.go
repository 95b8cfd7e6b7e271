package main

import (
	"fmt"
	"samplecore/internal/app"
	"samplecore/internal/core"
	"time"

	"github.com/spf13/cobra"
)

var accessLevels = map[string]core.AccessLevel{
	"guest":      core.AccessGuest,
	"uploader":   core.AccessUploader,
	"analyst":    core.AccessAnalyst,
	"maintainer": core.AccessMaintainer,
	"owner":      core.AccessOwner,
}

func newGroupCmd(g *globalFlags) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "group NAME",
		Short: "Create a group namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				ns, err := a.Service.CreateGroup(cmd.Context(), g.actor, args[0], parent)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ns)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent group id; empty creates a root group")
	return cmd
}

func newProjectCmd(g *globalFlags) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "project NAME",
		Short: "Create a project under a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				p, err := a.Service.CreateProject(cmd.Context(), g.actor, args[0], parent)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "group", "", "parent group id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newSampleCmd(g *globalFlags) *cobra.Command {
	var (
		project     string
		description string
		metadata    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "sample NAME",
		Short: "Create a sample in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				s, err := a.Service.CreateSample(cmd.Context(), g.actor, project, core.SampleInput{
					Name:        args[0],
					Description: description,
					Metadata:    metadata,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "owning project id")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().StringToStringVar(&metadata, "metadata", nil, "initial metadata as key=value pairs")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newMemberCmd(g *globalFlags) *cobra.Command {
	var (
		namespace string
		level     string
		expires   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "member USER",
		Short: "Grant a user an access level at a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireActor(); err != nil {
				return err
			}
			lvl, ok := accessLevels[level]
			if !ok {
				return fmt.Errorf("unknown access level %q", level)
			}
			var expiresAt *time.Time
			if expires > 0 {
				t := time.Now().UTC().Add(expires)
				expiresAt = &t
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				m, err := a.Service.AddMember(cmd.Context(), g.actor, args[0], namespace, lvl, expiresAt)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), m)
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace id")
	cmd.Flags().StringVar(&level, "level", "analyst", "guest, uploader, analyst, maintainer or owner")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "membership lifetime; zero never expires")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}
