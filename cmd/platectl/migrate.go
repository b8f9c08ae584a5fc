package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plate-market/api/internal/di"
	"github.com/plate-market/api/internal/platform/config"
	"github.com/plate-market/api/internal/services"
)

// errMigrationIncomplete reports a run that finished with failed records.
var errMigrationIncomplete = errors.New("regeneration finished with failures")

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Regenerate every stored plate image and print the run report",
		Long: `Regenerate every stored plate image and print the run report.

Configuration is read from PLATES_* environment variables and --env-file, the same
way the API server loads it. Progress is written to stderr; the JSON report to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := root.logger()

			cfg, err := config.Load(ctx, config.WithEnvFile(root.settings.GetString(keyEnvFile)))
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			root.applyAssetOverrides(&cfg)

			container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() { _ = container.Close(ctx) }()

			report, err := runMigration(cmd, container.Services.Migration)
			if err != nil {
				return err
			}
			if strict && report.Failed > 0 {
				return fmt.Errorf("%w: %d of %d", errMigrationIncomplete, report.Failed, report.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any record fails")
	return cmd
}

func runMigration(cmd *cobra.Command, svc services.PlateMigrationService) (services.MigrationReport, error) {
	stderr := cmd.ErrOrStderr()
	report, err := svc.RegenerateAll(cmd.Context(), func(p services.MigrationProgress) {
		if p.Done {
			fmt.Fprintf(stderr, "run %s: %d/%d done\n", p.RunID, p.Processed, p.Total)
			return
		}
		fmt.Fprintf(stderr, "run %s: %d/%d %s\n", p.RunID, p.Processed+1, p.Total, p.PlateID)
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil && err == nil {
		err = encErr
	}
	return report, err
}
