package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jenkinsrun/internal/storage"
)

var (
	historyLimit int
	historyJob   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent invocations",
	Long: `List recent invocations, newest first. With --job, list the output values
the last reported build of that job left behind instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if historyJob != "" {
			return printValues(historyJob)
		}

		invocations, err := storage.GetInvocations(historyLimit, 0)
		if err != nil {
			return fmt.Errorf("failed to get invocations: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSOURCE\tOPERATION\tJOB\tBUILD\tRESULT\tERROR")
		for _, inv := range invocations {
			build := "-"
			if inv.BuildNumber > 0 {
				build = fmt.Sprint(inv.BuildNumber)
			}
			result := inv.Result
			if result == "" {
				result = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				inv.StartedAt.Format("2006-01-02 15:04:05"), inv.Source, inv.Operation, inv.Job, build, result, inv.Error)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of invocations to show")
	historyCmd.Flags().StringVar(&historyJob, "job", "", "Show the stored output values of this job")
}

func printValues(job string) error {
	values, err := storage.GetOutputValues(job)
	if err != nil {
		return fmt.Errorf("failed to get output values: %w", err)
	}
	if len(values) == 0 {
		fmt.Fprintf(os.Stderr, "No output values stored for %s\n", job)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	for _, v := range values {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Key, v.Value, v.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
