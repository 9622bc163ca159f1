package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"redeploy/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [JOB]",
	Short: "Show recent deployments",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of deployments to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	h, err := history.NewHistory(settings.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history database %s: %w", settings.HistoryDB, err)
	}
	defer h.Close()

	job := ""
	if len(args) == 1 {
		job = args[0]
	}

	records, err := h.GetDeploymentHistory(cmd.Context(), job, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No deployments recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tBUILD\tSTATUS\tKIND\tRELEASE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Job,
			rec.BuildNumber,
			rec.Status,
			deref(rec.Kind),
			deref(rec.Release),
		)
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
