// Package cmd holds the treesync command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/treesync/internal/config"
)

type rootOpts struct {
	cfgFile string
}

var rootOpt rootOpts

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "treesync",
	Short:         "Keep a JSON-like tree in sync between a hub and its clients.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "treesync:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpt.cfgFile, "config", "c", "", "config file (defaults apply when empty)")
}

func loadConfig() (config.Config, error) {
	return config.Load(rootOpt.cfgFile)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
