package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

const defaultHookAddr = ":8787"

var hookAddr string

func init() {
	hookCmd.Flags().StringVar(&hookAddr, "addr", "", "listen address (default from config, else "+defaultHookAddr+")")
	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Serve the webhook receiver",
	Long:  "Accept signed event envelopes on POST /events and apply them to a local cache through the event bridge.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sess, err := session(cfg)
		if err != nil {
			return err
		}
		if cfg.Webhook.Secret == "" {
			return fmt.Errorf("no webhook secret, run 'handbook config set webhook.secret <secret>' or set %s", envWebhookSecret)
		}

		logger := newLogger()
		out := cmd.OutOrStdout()

		receiver, err := handbook.NewWebhookReceiver(cfg.Webhook.Secret, nil, logger)
		if err != nil {
			return err
		}
		cache := handbook.NewQueryCache(handbook.WithCacheLogger(logger))
		bridge := handbook.NewBridge(cache,
			handbook.WithNotifier(printNotifier(out)),
			handbook.WithBridgeLogger(logger),
		)
		bridge.Attach(receiver, sess)
		defer bridge.Detach()

		addr := valueOrDefault(hookAddr, valueOrDefault(cfg.Webhook.Addr, defaultHookAddr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           receiver.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx := cmd.Context()
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Fprintf(out, "Listening on %s\n", addr)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
		}

		stats := bridge.Stats()
		fmt.Fprintf(out, "Handled %d events, %d failed\n", stats.Handled, stats.Failed)
		return nil
	},
}
