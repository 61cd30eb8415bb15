package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"productrag/app/server"
	"productrag/config"
	"productrag/loader/service"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Start the ingestion HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")

	return cmd
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeFn, err := service.Open(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeFn()

	s := server.NewServer(cfg.ServerAddr, svc, cfg.DocumentExt, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.Run)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal, shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return s.Stop(shutdownCtx)
	})
	if cfg.ServerWatch {
		g.Go(func() error { return svc.Watch(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
