// Package engramcmder assembles the engram root command and its subcommands.
package engramcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/engramhq/engram/cmd/engram/config"
	migratecmder "github.com/engramhq/engram/cmd/engram/migrate"
	searchcmder "github.com/engramhq/engram/cmd/engram/search"
	servecmder "github.com/engramhq/engram/cmd/engram/serve"
	statuscmder "github.com/engramhq/engram/cmd/engram/status"
	storecmder "github.com/engramhq/engram/cmd/engram/store"
	versioncmder "github.com/engramhq/engram/cmd/version"
)

const engramLongDesc string = `Engram is tiered, hybrid-search memory for your agents.

Memories are stored with an importance score and a context, age through
working, session, and long-term tiers, and are recalled with fused exact,
full-text, and semantic search.

Run the server using:
  engram serve         Run the API and MCP servers`

const engramShortDesc string = "Engram - Agent Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(storecmder.NewStoreCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
