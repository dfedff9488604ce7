package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NodePath81/netcap/internal/render"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/util"
)

type globalOptions struct {
	json       bool
	logLevel   string
	configPath string
}

func (o *globalOptions) logger(w io.Writer) (util.Logger, error) {
	level, err := util.ParseLogLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	return util.NewLogger(w, level), nil
}

func (o *globalOptions) renderer() (render.Renderer, error) {
	format := render.FormatText
	if o.json {
		format = render.FormatJSON
	}
	return render.New(format)
}

func (o *globalOptions) requireConfig() error {
	if o.configPath == "" {
		return fmt.Errorf("--config is required")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "netcap",
		Short:         "Capacity and throughput analysis for multi-hop paths",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.BoolVar(&opts.json, "json", false, "render JSON instead of text")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.configPath, "config", "", "path to a scenario document (YAML or JSON)")

	root.AddCommand(
		newSingleCmd(opts),
		newFairCmd(opts),
		newEffectiveCmd(opts),
		newDoSCmd(opts),
		newReportCmd(opts),
		newCheckCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func warnShadowedBand(logger util.Logger, threshold float64) {
	if threshold < risk.CriticalHeadroom {
		logger.Warn("warn threshold below critical cutoff; WARN band is unreachable",
			"warn_threshold", threshold, "critical", risk.CriticalHeadroom)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		util.NewLogger(os.Stderr, slog.LevelInfo).Error("command failed", "error", err)
		os.Exit(1)
	}
}
