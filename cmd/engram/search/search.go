// Package searchcmder provides the search command for hybrid recall over memories.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/utils"
)

type searchCommander struct {
	query      string
	memContext string
	tiers      string
	topK       int
	quiet      bool
	rerank     bool
	session    string

	apiTarget string

	debug  bool
	logger *zap.Logger
}

const searchLongDesc string = `Search memories via the engram API.

Recall blends three signals: exact substring match, full-text relevance,
and semantic similarity over embeddings. Results show the fused score and
which signals contributed to each hit.

Use --rerank to re-order results by conversational relevance (recency,
recall frequency, session context); --session names the conversation so
repeat searches boost related memories.

Use --quiet to output only memory IDs, one per line, for piping into other
commands.

Example:
  engram search "database credentials"
  engram search "tabs or spaces" --context preference
  engram search "deploy process" --tiers session,longterm --top 10
  engram search "standup notes" --rerank --session team-sync
  engram search "api keys" --quiet`

const searchShortDesc string = "Search memories"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
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
			cmder.query = args[0]
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().StringVarP(&cmder.memContext, "context", "c", "", "Restrict to one memory context")
	cmd.Flags().StringVar(&cmder.tiers, "tiers", "", "Comma-separated tiers to search (working, session, longterm)")
	cmd.Flags().BoolVar(&cmder.rerank, "rerank", false, "Re-order results by conversational relevance")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Conversation ID for session-aware reranking (implies --rerank)")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only memory IDs, one per line (for piping)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func (c *searchCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	output, err := SearchAPI(c.apiTarget, c.query, c.memContext, c.tiers, c.topK, c.rerank, c.session)
	if err != nil {
		return err
	}

	if output.Count == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range output.Results {
			fmt.Println(result.Memory.ID)
		}
		return nil
	}

	fmt.Printf("\nSearch results for %q\n\n", c.query)
	for i, result := range output.Results {
		c.printResult(i+1, result)
	}

	return nil
}

func (c *searchCommander) printResult(rank int, result api.SearchResultResponse) {
	signals := make([]string, 0, len(result.Signals))
	for name := range result.Signals {
		signals = append(signals, name)
	}

	content := strings.ReplaceAll(result.Memory.Content, "\n", " ")
	content = utils.Truncate(content, 80)

	fmt.Printf("  #%d  score: %.4f  %s  [%s]\n", rank, result.Score, result.Memory.ID, result.MatchType)
	fmt.Printf("      %s\n", content)
	fmt.Printf("      context: %s  tier: %s  importance: %.2f  signals: %s\n\n",
		result.Memory.Context,
		result.Memory.Tier,
		result.Memory.Importance,
		strings.Join(signals, ","),
	)
}

// SearchAPI calls the engram search API and returns the parsed output.
func SearchAPI(apiTarget, query, memContext, tiers string, topK int, rerank bool, session string) (*api.SearchOutput, error) {
	searchURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	searchURL.Path = "/v1/search"
	q := searchURL.Query()
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(topK))
	if memContext != "" {
		q.Set("context", memContext)
	}
	if tiers != "" {
		q.Set("tiers", tiers)
	}
	if rerank {
		q.Set("rerank", "true")
	}
	if session != "" {
		q.Set("session", session)
	}
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
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
		return nil, fmt.Errorf("search request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var output api.SearchOutput
	if err := json.Unmarshal(body, &output); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	return &output, nil
}
