package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/issuemirror/issuemirror/internal/api"
	"github.com/issuemirror/issuemirror/internal/db"
	"github.com/issuemirror/issuemirror/internal/notify"
	"github.com/issuemirror/issuemirror/internal/webhook"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server for near-real-time mirror updates",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to the configured listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Initialize(ctx); err != nil {
		return err
	}

	var discuss webhook.DiscussionFetcher
	if cfg.GitHubToken != "" {
		discuss = api.NewDiscussionFetcher(cfg.GitHubToken)
	}
	notifier := notify.NewRetrying(notify.NewLogger(logger), 3)
	router := webhook.NewRouter(database, nil, discuss, notifier, logger)
	server := webhook.NewServer(webhook.ServerConfig{
		Router: router,
		Secret: []byte(cfg.WebhookSecret),
		Log:    logger,
	})

	logger.Info().Str("addr", addr).Msg("webhook server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.Start(addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutCtx)
	})

	return g.Wait()
}
