package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

var initBaseURL string

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "API root, e.g. https://api.handbook.vn/api/v1")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store a session token in ~/.handbook/config.toml",
	Long:  "Initialize the Handbook CLI by storing your session token and the user it belongs to.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := handbook.ParseSession(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = sess.Token
		cfg.Auth.UserID = sess.UserID
		cfg.Auth.TokenExpires = ""
		if !sess.ExpiresAt.IsZero() {
			cfg.Auth.TokenExpires = sess.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if cfg.Default.Transport == "" {
			cfg.Default.Transport = "ws"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s, token saved to %s\n", sess.UserID, path)
		return nil
	},
}
