package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var configReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	configShowCmd.Flags().BoolVar(&configReveal, "reveal", false, "print the token and webhook secret unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Handbook configuration",
	Long:  "View or modify the Handbook CLI configuration stored in ~/.handbook/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print the configuration after applying .env and HANDBOOK_* overrides.\n" +
		"Values taken from the environment are marked (env). Secrets are masked unless --reveal is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) && !envOverrides()[envToken] {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'handbook init <token>' to create one.")
			return nil
		}
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
		printConfig(cmd.OutOrStdout(), cfg, envOverrides(), configReveal)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: handbook config set default.base_url https://api.handbook.vn/api/v1",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if secretKeys[key] {
			value = maskToken(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var secretKeys = map[string]bool{
	"auth.token":     true,
	"webhook.secret": true,
}

// envOverrides reports which HANDBOOK_* variables are set.
func envOverrides() map[string]bool {
	set := make(map[string]bool)
	for _, name := range []string{envToken, envBaseURL, envWebhookSecret} {
		if os.Getenv(name) != "" {
			set[name] = true
		}
	}
	return set
}

// printConfig writes cfg in TOML layout. Unset values are omitted.
func printConfig(w io.Writer, cfg *Config, fromEnv map[string]bool, reveal bool) {
	secret := func(v string) string {
		if reveal || v == "" {
			return v
		}
		return maskToken(v)
	}
	line := func(key, value string, env bool) {
		if value == "" {
			return
		}
		suffix := ""
		if env {
			suffix = "  # (env)"
		}
		fmt.Fprintf(w, "%s = %q%s\n", key, value, suffix)
	}

	fmt.Fprintln(w, "[default]")
	line("base_url", cfg.Default.BaseURL, fromEnv[envBaseURL])
	line("transport", cfg.Default.Transport, false)

	fmt.Fprintln(w, "\n[auth]")
	line("token", secret(cfg.Auth.Token), fromEnv[envToken])
	line("user_id", cfg.Auth.UserID, false)
	line("token_expires", cfg.Auth.TokenExpires, false)

	fmt.Fprintln(w, "\n[webhook]")
	line("secret", secret(cfg.Webhook.Secret), fromEnv[envWebhookSecret])
	line("addr", cfg.Webhook.Addr, false)
}
