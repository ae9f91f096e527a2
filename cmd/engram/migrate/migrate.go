// Package migratecmder provides the migrate command for triggering a tier
// migration cycle on demand.
package migratecmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/migrate"
)

type migrateCommander struct {
	apiTarget string

	debug  bool
	logger *zap.Logger
}

const migrateLongDesc string = `Run a tier migration cycle now.

The scheduler normally migrates memories on an interval. This command asks
the running server to migrate immediately and prints the resulting report.
If a cycle is already in progress the server refuses and this command
reports the conflict.`

const migrateShortDesc string = "Run a migration cycle now"

func NewMigrateCmd() *cobra.Command {
	cmder := &migrateCommander{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") {
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func (c *migrateCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	report, err := MigrateAPI(c.apiTarget)
	if err != nil {
		return err
	}

	elapsed := report.EndTime.Sub(report.StartTime)
	fmt.Printf("Migration finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  migrated:     %d\n", report.TotalMigrated)
	for path, n := range report.PerPath {
		fmt.Printf("    %-22s %d\n", path, n)
	}
	fmt.Printf("  consolidated: %d\n", report.Consolidated)
	if len(report.Errors) > 0 {
		fmt.Printf("  errors:       %d\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("    %s\n", e)
		}
	}

	return nil
}

// MigrateAPI asks the engram API to run a migration cycle and returns the report.
func MigrateAPI(apiTarget string) (*migrate.Report, error) {
	runURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	runURL.Path = "/v1/migration/run"

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, runURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating migration request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("migration request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var report migrate.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to parse migration report: %w", err)
	}

	return &report, nil
}
