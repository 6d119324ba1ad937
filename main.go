package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Run:
//
//	export ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH=go1.25
//	go run . train --config lgcl.yaml
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "lgcl",
		Short:        "Prompt-based continual learning guided by class and task language",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&root.configPath, "config", "c", "", "YAML config file; defaults apply when empty or missing")
	cmd.PersistentFlags().StringVar(&root.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newTrainCmd(root),
		newEvaluateCmd(root),
		newDemoCmd(root),
	)
	return cmd
}
