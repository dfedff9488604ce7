package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NodePath81/netcap/internal/app"
	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/config"
	"github.com/NodePath81/netcap/internal/render"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
	"github.com/NodePath81/netcap/internal/version"
)

func newSingleCmd(opts *globalOptions) *cobra.Command {
	var (
		sender float64
		links  []float64
		names  []string
	)
	cmd := &cobra.Command{
		Use:   "single",
		Short: "End-to-end throughput and bottleneck of a single path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(names) == 0 {
				names = nil
			}
			rep, err := scenario.SinglePath(sender, links, names)
			if err != nil {
				return err
			}
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return r.SinglePath(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().Float64Var(&sender, "rs", 0, "sender access rate (Mbps)")
	cmd.Flags().Float64SliceVar(&links, "links", nil, "link capacities along the path (Mbps)")
	cmd.Flags().StringSliceVar(&names, "names", nil, "optional link names, one per link")
	_ = cmd.MarkFlagRequired("rs")
	_ = cmd.MarkFlagRequired("links")
	return cmd
}

func newFairCmd(opts *globalOptions) *cobra.Command {
	var (
		sender, receiver, backbone float64
		flows                      []int
	)
	cmd := &cobra.Command{
		Use:   "fair",
		Short: "Per-flow throughput on a fairly shared backbone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := scenario.FairShare(sender, receiver, backbone, flows)
			if err != nil {
				return err
			}
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return r.FairShare(cmd.OutOrStdout(), rep)
		},
	}
	addSharedFlags(cmd, &sender, &receiver, &backbone, &flows)
	return cmd
}

func newEffectiveCmd(opts *globalOptions) *cobra.Command {
	var links, eff []float64
	cmd := &cobra.Command{
		Use:   "effective",
		Short: "Scale link capacities by protocol efficiency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := scenario.EffectiveLinks(links, eff)
			if err != nil {
				return err
			}
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return r.EffectiveLinks(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().Float64SliceVar(&links, "links", nil, "base link capacities (Mbps)")
	cmd.Flags().Float64SliceVar(&eff, "eff", nil, "efficiency per link in [0,1]")
	_ = cmd.MarkFlagRequired("links")
	_ = cmd.MarkFlagRequired("eff")
	return cmd
}

func newDoSCmd(opts *globalOptions) *cobra.Command {
	var (
		sender, receiver, backbone float64
		flows                      []int
		warn                       float64
		archivePath                string
	)
	cmd := &cobra.Command{
		Use:   "dos",
		Short: "Sweep flow counts and grade backbone exhaustion risk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rep, err := scenario.DoSSweep(risk.Params{
				SenderMbps:    sender,
				ReceiverMbps:  receiver,
				BackboneMbps:  backbone,
				FlowCounts:    flows,
				WarnThreshold: warn,
			})
			if err != nil {
				return err
			}
			warnShadowedBand(logger, warn)
			if archivePath != "" {
				store, err := archive.Open(archivePath)
				if err != nil {
					return err
				}
				defer store.Close()
				id, err := store.Save(cmd.Context(), rep)
				if err != nil {
					return err
				}
				logger.Info("sweep archived", "id", id, "path", archivePath)
			}
			logger.Debug("sweep evaluated", "flow_counts", len(rep.Results), "worst", rep.Worst())
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return r.Sweep(cmd.OutOrStdout(), rep)
		},
	}
	addSharedFlags(cmd, &sender, &receiver, &backbone, &flows)
	cmd.Flags().Float64Var(&warn, "warn-threshold", risk.DefaultWarnThreshold, "headroom ratio at or below which a row is WARN")
	cmd.Flags().StringVar(&archivePath, "archive", "", "append the report to this SQLite archive")
	return cmd
}

func addSharedFlags(cmd *cobra.Command, sender, receiver, backbone *float64, flows *[]int) {
	cmd.Flags().Float64Var(sender, "rs", 0, "sender access rate (Mbps)")
	cmd.Flags().Float64Var(receiver, "rc", 0, "receiver access rate (Mbps)")
	cmd.Flags().Float64Var(backbone, "backbone", 0, "shared backbone capacity (Mbps)")
	cmd.Flags().IntSliceVarP(flows, "flows", "N", nil, "flow counts to evaluate")
	for _, name := range []string{"rs", "rc", "backbone", "flows"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run every scenario in the --config document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireConfig(); err != nil {
				return err
			}
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			doc, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if doc.DoSSweep != nil {
				warnShadowedBand(logger, doc.DoSSweep.Threshold())
			}
			reps, err := scenario.RunAll(doc)
			if err != nil {
				return err
			}
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return render.All(cmd.OutOrStdout(), r, reps)
		},
	}
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the --config document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireConfig(); err != nil {
				return err
			}
			doc, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			names := doc.Scenarios()
			fmt.Fprintf(cmd.OutOrStdout(), "config valid: %d scenarios %v\n", len(names), names)
			return nil
		},
	}
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		archivePath string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived sweep reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if archivePath == "" && opts.configPath != "" {
				doc, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				archivePath = doc.Archive.Path
			}
			if archivePath == "" {
				return fmt.Errorf("--archive or archive.path in --config is required")
			}
			store, err := archive.Open(archivePath)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			r, err := opts.renderer()
			if err != nil {
				return err
			}
			return r.History(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "SQLite archive path (defaults to archive.path in --config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports (0 for all)")
	return cmd
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control server described by --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireConfig(); err != nil {
				return err
			}
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			supervisor := app.NewSupervisor(opts.configPath, logger)
			if err := supervisor.Start(); err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			logger.Info("shutdown requested")
			supervisor.Stop()
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}
