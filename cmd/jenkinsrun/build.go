package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/host"
)

var (
	buildJob      string
	buildParams   []string
	buildOverride bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Trigger a job and follow it to completion",
	Long: `Trigger a Jenkins job, stream its console output to stdout and print the
build result as JSON once it finishes.

Parameters are given as key=value and split on the first '='. The command
exits non-zero when the build does not succeed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := engine.BuildRequest{
			Job:        buildJob,
			Parameters: engine.ParseParameters(buildParams),
			Override:   buildOverride,
		}
		outcome := a.runner.Build(ctx, host.SourceCLI, req, os.Stdout)
		return report(outcome)
	},
}

var buildDataCmd = &cobra.Command{
	Use:   "build-data",
	Short: "Report the last completed build of a job",
	Long: `Report the last completed build of a Jenkins job without triggering a new
one. Nothing is reported when that build was already seen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome := a.runner.BuildData(ctx, host.SourceCLI, buildJob, os.Stdout)
		return report(outcome)
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildJob, "job", "", "Job name, folders separated by '/'")
	buildCmd.Flags().StringArrayVar(&buildParams, "param", nil, "Build parameter as key=value (repeatable)")
	buildCmd.Flags().BoolVar(&buildOverride, "override", false, "Proceed when the job does not exist")
	_ = buildCmd.MarkFlagRequired("job")

	buildDataCmd.Flags().StringVar(&buildJob, "job", "", "Job name, folders separated by '/'")
	_ = buildDataCmd.MarkFlagRequired("job")
}

// report prints the canonical result and hands back the invocation error
func report(outcome *host.Outcome) error {
	if outcome.NotNeeded {
		fmt.Fprintln(os.Stderr, "Nothing to report")
	}
	if outcome.Result != nil {
		encoded, err := json.MarshalIndent(outcome.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(encoded))
	}
	return outcome.Err
}
