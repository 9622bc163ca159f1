package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"redeploy/internal/deployment"
	"redeploy/internal/history"
)

var deployCmd = &cobra.Command{
	Use:   "deploy TARBALL_URL",
	Short: "Deploy a single tarball and exit",
	Long: `Download, extract, assemble and publish one .tar.gz without asking the
build server about it. The release goes into a target named test-{unix time}.

Example:
  redeploy deploy https://ci.example.com/job/web/42/artifact/web-42.tar.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(settings.LogFile, settings.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	opts := []deployment.Option{deployment.WithLogger(logger)}
	h, err := history.NewHistory(settings.HistoryDB)
	if err != nil {
		logger.Warn("Deployment history unavailable", "db", settings.HistoryDB, "error", err)
	} else {
		defer h.Close()
		opts = append(opts, deployment.WithHistory(h))
	}

	controller, err := deployment.NewController(settings, opts...)
	if err != nil {
		return err
	}

	outcome := controller.DeployFromURL(cmd.Context(), args[0])
	if !outcome.OK() {
		return outcome.Err
	}

	fmt.Printf("Published %s\n", outcome.Release)
	for _, w := range outcome.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}
