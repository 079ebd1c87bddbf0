package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omicscout/omicscout/internal/api"
	"github.com/omicscout/omicscout/internal/llm"
	"github.com/omicscout/omicscout/internal/store"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Example: `  omicscout serve
  omicscout serve --listen :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "bind address (default from config)")

	return cmd
}

func runServer(listenAddr string) error {
	cfg := initConfig()
	if listenAddr == "" {
		listenAddr = cfg.ListenAddr
	}
	logger := newLogger()

	var recorder llm.AnalysisRecorder
	var analyses api.AnalysisLister
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("analysis db path: %w", err)
		}
		dbPath = p
	}
	analysisStore, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open analysis store: %w", err)
	}
	defer analysisStore.Close()
	recorder = analysisStore
	analyses = analysisStore

	svc, err := buildService(cfg, recorder, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(svc, analyses, logger)
	server := api.NewServer(listenAddr, handler, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	return server.Start()
}
