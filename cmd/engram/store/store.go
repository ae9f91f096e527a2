// Package storecmder provides the store command for writing a memory via the API.
package storecmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
)

type storeCommander struct {
	content    string
	memContext string
	importance float64
	metadata   []string

	apiTarget string

	debug  bool
	logger *zap.Logger
}

const storeLongDesc string = `Store a memory via the engram API.

The memory enters the working tier and ages toward session and long-term
storage based on access patterns. Memories below the configured importance
threshold are rejected, which is reported as a non-error outcome.

Example:
  engram store "prefers tabs over spaces" --context preference
  engram store "staging db lives on host db-3" --context decision --importance 0.8
  engram store "release cut every other Tuesday" --context general --meta source=standup`

const storeShortDesc string = "Store a memory"

func NewStoreCmd() *cobra.Command {
	cmder := &storeCommander{}

	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: storeShortDesc,
		Long:  storeLongDesc,
		Args:  cobra.ExactArgs(1),
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
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.content = args[0]
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.memContext, "context", "c", "", "Memory context (general, preference, decision, code-symbol, code-pattern, conversation, task)")
	cmd.Flags().Float64VarP(&cmder.importance, "importance", "i", 0.5, "Importance score in [0, 1]")
	cmd.Flags().StringArrayVar(&cmder.metadata, "meta", nil, "Metadata key=value pair (repeatable)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Engram API server URL")

	_ = cmd.MarkFlagRequired("context")

	return cmd
}

func (c *storeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	metadata := make(map[string]any, len(c.metadata))
	for _, pair := range c.metadata {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid --meta %q: expected key=value", pair)
		}
		metadata[key] = value
	}

	resp, err := StoreAPI(c.apiTarget, api.StoreMemoryRequest{
		Content:    c.content,
		Context:    c.memContext,
		Importance: c.importance,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}

	if !resp.Stored {
		fmt.Printf("Not stored: %s\n", resp.Reason)
		return nil
	}

	fmt.Printf("Stored %s\n", resp.ID)
	return nil
}

// StoreAPI posts a memory to the engram API and returns the parsed response.
func StoreAPI(apiTarget string, reqBody api.StoreMemoryRequest) (*api.StoreMemoryResponse, error) {
	storeURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	storeURL.Path = "/v1/memories"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, storeURL.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var out api.StoreMemoryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse store response: %w", err)
	}

	return &out, nil
}
