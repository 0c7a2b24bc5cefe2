package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, check whether the session token is expired, and reach the backend with it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, handbook.DefaultBaseURL+" (default)"))
		fmt.Fprintf(out, "  Transport:   %s\n", valueOrDefault(cfg.Default.Transport, "ws"))
		if cfg.Webhook.Secret != "" {
			fmt.Fprintf(out, "  Webhook:     %s\n", valueOrDefault(cfg.Webhook.Addr, defaultHookAddr))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		if cfg.Auth.Token == "" {
			fmt.Fprintln(out, "  Token:       (not set)")
			return nil
		}
		fmt.Fprintf(out, "  Token:       %s\n", maskToken(cfg.Auth.Token))

		sess, err := handbook.ParseSession(cfg.Auth.Token)
		if err != nil {
			fmt.Fprintf(out, "  Session:     invalid (%v)\n", err)
			return nil
		}
		fmt.Fprintf(out, "  User ID:     %s\n", sess.UserID)
		switch {
		case sess.ExpiresAt.IsZero():
			fmt.Fprintln(out, "  Session:     valid (no expiry)")
		case sess.Expired(time.Now()):
			fmt.Fprintf(out, "  Session:     EXPIRED (expired %s)\n", sess.ExpiresAt.Format(time.RFC3339))
			return nil
		default:
			fmt.Fprintf(out, "  Session:     valid (expires %s)\n", sess.ExpiresAt.Format(time.RFC3339))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		client := newClient(cfg, newLogger())
		page, err := client.Conversations.Page(ctx, sess.UserID, 1)
		if err != nil {
			fmt.Fprintf(out, "  Error reaching backend: %v\n", err)
			return nil
		}
		more := ""
		if page.HasMore {
			more = "+"
		}
		fmt.Fprintf(out, "  Conversations: %d%s\n", len(page.Items), more)
		return nil
	},
}
