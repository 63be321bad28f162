package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-hlod/internal/config"
	"github.com/Faultbox/midgard-hlod/internal/logger"
	"github.com/Faultbox/midgard-hlod/internal/sim"
)

var (
	validate bool
	watch    bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the streaming simulation",
		RunE:  runSimulation,
	}
)

func init() {
	runCmd.Flags().BoolVar(&validate, "validate", false, "Audit tree invariants after every frame")
	runCmd.Flags().BoolVar(&watch, "watch", false, "Reload distances when the config file changes")
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, path, err := config.Load(&flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("=== Midgard HLOD simulator ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	opts := sim.Options{Flags: &flags, Validate: validate}
	if watch {
		if path == "" {
			logger.Warn("no config file to watch")
		} else {
			opts.ConfigPath = path
		}
	}

	s, err := sim.New(cfg, opts)
	if err != nil {
		logger.Error("failed to create simulator", zap.Error(err))
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := s.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulation error", zap.Error(err))
		return err
	}

	printReport(cmd, report)
	if report.InvariantErrors > 0 {
		return fmt.Errorf("%d invariant violations", report.InvariantErrors)
	}
	logger.Info("simulation finished normally")
	return nil
}

func printReport(cmd *cobra.Command, r sim.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "frames:        %d\n", r.Frames)
	fmt.Fprintf(out, "trees:         %d (%d nodes)\n", r.Trees, r.Nodes)
	if r.FirstLoadFrame >= 0 {
		fmt.Fprintf(out, "fully loaded:  frame %d\n", r.FirstLoadFrame)
	} else {
		fmt.Fprintf(out, "fully loaded:  never\n")
	}
	fmt.Fprintf(out, "loaded at end: %t\n", r.LoadedAtEnd)
	fmt.Fprintf(out, "peak visible:  %d\n", r.PeakVisible)
	fmt.Fprintf(out, "stalls:        %d\n", r.Stalls)
	fmt.Fprintf(out, "elapsed:       %s\n", r.Elapsed)
}
