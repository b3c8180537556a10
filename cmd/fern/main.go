// Package main provides the fern binary: the reconciliation API server and offline tooling around it.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
)

const (
	BuildTime = "dev"
	appName   = "fern"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Financial reconciliation matching engine",
		Long: `Fern pairs items from two sides of a dataset (bank lines and ledger
entries, invoices and payments) by scoring candidate pairs and sorting
them into review tiers.

Service settings come from the environment, a .env file, or the file
given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Service config file (env, yaml or json)")

	cmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		reconcileCmd(),
		validateConfigCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, app.Version, BuildTime)
			},
		},
	)

	return cmd
}
