// Package servecmder provides the serve command running the engram servers.
package servecmder

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/api/mcp"
	"github.com/engramhq/engram/pkg/bootstrap"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
)

type ServeCommander struct {
	apiListen       string
	mcpListen       string
	noMCP           bool
	storageProvider string
	sqlitePath      string
	postgresURL     string
	vectorProvider  string
	vectorTarget    string
	embedProvider   string
	embedTarget     string
	embedModel      string
	embedDims       uint
	eventsProvider  string
	eventsBrokers   string
	debug           bool
	logger          *zap.Logger
}

const serveLongDesc string = `Run the engram servers.

Starts the HTTP API server, the MCP server, the dual-write vector index
synchronizer, and the tier migration scheduler. Configuration comes from
flags, ENGRAM_* environment variables, and config.toml in the .engram/
directory, in that order of precedence.`

const serveShortDesc string = "Run the engram servers"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.DefaultFlags, []string{
				config.FlagAPIListen,
				config.FlagStorageProvider,
				config.FlagSQLite,
				config.FlagPostgres,
				config.FlagVectorStoreProv,
				config.FlagVectorStoreTgt,
				config.FlagEmbeddingProv,
				config.FlagEmbeddingTgt,
				config.FlagEmbeddingModel,
				config.FlagEmbeddingDims,
				config.FlagEventsProvider,
				config.FlagEventsBrokers,
			})

			var cfg config.Config
			if err := v.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("unmarshaling config: %w", err)
			}

			return cmder.run(&cfg)
		},
	}

	cmd.Flags().StringVar(&cmder.mcpListen, "mcp-listen", ":8082", "Address for the MCP server to listen on")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP server")

	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagAPIListen, &cmder.apiListen)

	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagPostgres, &cmder.postgresURL)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.DefaultFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, config.DefaultFlags, config.FlagEventsBrokers, &cmder.eventsBrokers)

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Start(ctx)
	defer rt.Stop()

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
	}, rt.Store, rt.Engine, rt.Scheduler, rt.Syncer, c.logger)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	var mcpHTTP *http.Server
	if !c.noMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Store:  rt.Store,
			Engine: rt.Engine,
			Logger: c.logger,
		})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}

		mcpHTTP = &http.Server{
			Addr:    c.mcpListen,
			Handler: mcpServer.Handler(),
		}

		c.logger.Info("starting MCP server",
			zap.String("listen", c.mcpListen),
		)
		go func() {
			if err := mcpHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("MCP server error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	if mcpHTTP != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("MCP server shutdown error", zap.Error(err))
		}
	}
	return apiServer.Shutdown()
}
