// Package statuscmder provides the status command showing server health and
// tier counts.
package statuscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
)

type statusCommander struct {
	apiTarget string

	debug  bool
	logger *zap.Logger
}

const statusLongDesc string = `Show the status of a running engram server.

Reports per-tier memory counts, the migration scheduler state, and the
vector index synchronizer queue. The migration and sync sections are
omitted when the server runs without those components.`

const statusShortDesc string = "Show server status"

func NewStatusCmd() *cobra.Command {
	cmder := &statusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
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

func (c *statusCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	var stats api.StatsResponse
	if err := getJSON(c.apiTarget, "/v1/stats", &stats); err != nil {
		return err
	}

	fmt.Printf("Memories: %d\n", stats.TotalMemories)
	tiers := make([]string, 0, len(stats.Tiers))
	for tier := range stats.Tiers {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		fmt.Printf("  %-10s %d\n", tier, stats.Tiers[tier])
	}

	var migration api.MigrationStatusResponse
	err := getJSON(c.apiTarget, "/v1/migration/status", &migration)
	switch {
	case err == nil:
		fmt.Println("\nMigration:")
		fmt.Printf("  running:  %t\n", migration.IsRunning)
		if migration.LastRunAt != "" {
			fmt.Printf("  last run: %s\n", migration.LastRunAt)
		}
		if migration.NextRunAt != "" {
			fmt.Printf("  next run: %s\n", migration.NextRunAt)
		}
	case isUnavailable(err):
		// Scheduler disabled on this server.
	default:
		return err
	}

	var sync api.SyncStatusResponse
	err = getJSON(c.apiTarget, "/v1/sync/status", &sync)
	switch {
	case err == nil:
		fmt.Println("\nSync:")
		fmt.Printf("  queued:       %d\n", sync.QueueDepth)
		fmt.Printf("  dead letters: %d\n", sync.DeadLetters)
	case isUnavailable(err):
		// No vector index configured.
	default:
		return err
	}

	return nil
}

// unavailableError marks a 503 response so the caller can skip optional sections.
type unavailableError struct {
	path string
}

func (e unavailableError) Error() string {
	return fmt.Sprintf("%s is unavailable on this server", e.path)
}

func isUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

func getJSON(apiTarget, path string, out any) error {
	target, err := url.Parse(apiTarget)
	if err != nil {
		return fmt.Errorf("invalid API target URL: %w", err)
	}
	target.Path = path

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return unavailableError{path: path}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed (HTTP %d): %s", path, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
