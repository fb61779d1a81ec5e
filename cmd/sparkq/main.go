// Command sparkq is the CLI entry point mirroring the REST surface
// one-for-one (§6.4). Each subcommand is a thin REST client; none of them
// touch the store directly, so sparkq can drive a daemon running anywhere.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sparkq/sparkq/internal/errs"
)

var baseURL string

var rootCmd = &cobra.Command{
	Use:   "sparkq",
	Short: "sparkq is a local-first task queue and orchestration service",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, e.Message)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "http://127.0.0.1:5005", "base URL of the sparkq daemon")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(purgeCmd)

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(queueCmd)

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(peekCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(failCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(requeueCmd)
}
