package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ossp-agi/agentmesh/internal/api"
	"github.com/ossp-agi/agentmesh/internal/discovery"
	"github.com/ossp-agi/agentmesh/internal/meshtrace"
	"github.com/ossp-agi/agentmesh/internal/registry"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry, discovery service, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	v, err := loadViper(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := meshtrace.New(loggerConfigFromViper(v), "meshd")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	store := registry.New(registryConfigFromViper(v), logger)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing registry: %w", err)
	}
	defer store.Shutdown(context.Background())

	discSvc := discovery.New(discoveryConfigFromViper(v), store)

	server := api.NewServer(apiConfigFromViper(v), store, discSvc, logger)

	addr := fmt.Sprintf("%s:%d", v.GetString("api.host"), v.GetInt("api.port"))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Engine(),
	}

	logger.Info("serve", "starting http server", map[string]any{"addr": addr})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("serve", "received shutdown signal", map[string]any{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
