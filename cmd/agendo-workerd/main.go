// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agendo/workerd/internal/adapter"
	"github.com/agendo/workerd/internal/config"
	"github.com/agendo/workerd/internal/dispatch"
	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/logging"
	"github.com/agendo/workerd/internal/mcphealth"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/queue"
	"github.com/agendo/workerd/internal/sseserver"
	"github.com/agendo/workerd/internal/store"
	"github.com/agendo/workerd/internal/zombie"
)

var version = "0.1.0"

var (
	configPath string
	mcpConfig  string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:     "agendo-workerd",
		Short:   "Runs one node's worth of Agendo session supervisors",
		Version: version,
		RunE:    runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: auto-detect)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the worker: boot-time reconciliation, then serve the session stream/control boundary",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&mcpConfig, "mcp-config", "", "path to an mcpServers JSON file to probe at startup")
	root.AddCommand(serveCmd)

	root.AddCommand(initCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()

	if configPath == "" {
		found, err := loader.FindConfig()
		if err != nil {
			return fmt.Errorf("find config: %w", err)
		}
		configPath = found
	}

	cfg, err := loader.LoadWithDefaults(cmd.Context(), configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logging.Init(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Pretty:    cfg.Logging.Format != "json",
		LogToFile: true,
		LogDir:    cfg.LogDir,
		WorkerID:  cfg.WorkerID,
	})
	log := logging.Logger
	log.Info().Str("config", configPath).Msg("starting agendo-workerd")

	sessionsDir := filepath.Join(cfg.LogDir, "sessions-state")
	executionsDir := filepath.Join(cfg.LogDir, "executions-state")

	sessions, err := store.NewFileStore(sessionsDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	executions, err := store.NewFileExecutionStore(executionsDir)
	if err != nil {
		return fmt.Errorf("open execution store: %w", err)
	}

	bus := eventbus.New()
	defer bus.Close()

	q := queue.New(int64(cfg.Slots))

	prober := mcphealth.New(loadMCPServers(mcpConfig, log), log)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	prober.Connect(ctx)
	defer prober.Close()

	d := dispatch.New(dispatch.Config{
		WorkerID:   cfg.WorkerID,
		Store:      sessions,
		Bus:        bus,
		LogDir:     cfg.LogDir,
		Queue:      q,
		NewAdapter: newAdapterFactory(cfg, log),
		MCPHealth:  prober.Unhealthy,
		Logger:     log,
	})

	reconciler := &zombie.Reconciler{
		Sessions:   sessions,
		Executions: executions,
		Probe:      adapter.ProbeAlive,
		Reenqueue:  d.Start,
		RecoveryPrompt: func(sess *model.Session) string {
			return fmt.Sprintf("[resumed after worker restart] %s", sess.InitialPrompt)
		},
		Logger: log,
	}
	if err := reconciler.Run(ctx, cfg.WorkerID); err != nil {
		return fmt.Errorf("zombie reconciliation: %w", err)
	}

	srv := sseserver.New(bus, sessions, log)
	router := mux.NewRouter()
	srv.Routes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("serving session stream/control boundary")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newAdapterFactory dispatches on the AdapterConfig named by each
// session's AgentID, constructing the matching Adapter variant per
// spec.md §4.3.
func newAdapterFactory(cfg *config.Config, log zerolog.Logger) func(sess *model.Session) adapter.Adapter {
	return func(sess *model.Session) adapter.Adapter {
		ac, ok := cfg.Adapters[sess.AgentID]
		if !ok {
			log.Error().Str("agentId", sess.AgentID).Msg("no adapter configured for agent id, defaulting to ndjson")
		}
		switch ac.Kind {
		case "jsonrpc":
			return adapter.NewJSONRPC(adapter.JSONRPCConfig{Binary: ac.Binary})
		case "template":
			return adapter.NewTemplate(adapter.TemplateConfig{CommandTemplate: ac.CommandTemplate})
		default:
			return adapter.NewNDJSON(adapter.NDJSONConfig{Binary: ac.Binary})
		}
	}
}

func loadMCPServers(path string, log zerolog.Logger) map[string]mcphealth.ServerConfig {
	if path == "" {
		return nil
	}
	servers, err := mcphealth.ParseConfigFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to parse mcp config, starting with no MCP servers")
		return nil
	}
	return servers
}
