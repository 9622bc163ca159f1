package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"redeploy/internal/deployment"
	"redeploy/internal/history"
	"redeploy/internal/release"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Repoint the release link at the previous release",
	Long: `Repoint the release symlink at the newest published release older than
the one currently live, as recorded in the deployment history.

Releases whose directory has been removed are skipped. Running rollback
again keeps walking further back.`,
	Args: cobra.NoArgs,
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(settings.LogFile, settings.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	h, err := history.NewHistory(settings.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history database %s: %w", settings.HistoryDB, err)
	}
	defer h.Close()

	controller, err := deployment.NewController(settings,
		deployment.WithLogger(logger), deployment.WithHistory(h))
	if err != nil {
		return err
	}

	previous, _ := release.Current(settings.Symlink)

	restored, err := controller.Rollback(cmd.Context())
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Printf("\nRollback successful!\n")
	fmt.Printf("  Previous (current): %s\n", previous)
	fmt.Printf("  Restored to:        %s\n", restored)
	fmt.Printf("\nThe '%s' symlink now points to: %s\n", settings.Symlink, restored)

	return nil
}
