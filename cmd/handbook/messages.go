package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

var messagesPages int

func init() {
	messagesCmd.Flags().IntVarP(&messagesPages, "pages", "p", 1, "number of pages to load")
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print the latest messages of a conversation",
	Long:  "Load pages of a conversation through the query cache and print them newest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if _, err := session(cfg); err != nil {
			return err
		}
		if messagesPages < 1 {
			return fmt.Errorf("--pages must be at least 1")
		}

		convID := args[0]
		logger := newLogger()
		client := newClient(cfg, logger)
		cache := handbook.NewQueryCache(handbook.WithCacheLogger(logger))

		ctx := cmd.Context()
		for i := 0; i < messagesPages; i++ {
			_, more, err := client.Messages.LoadNext(ctx, cache, convID)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}

		page, _ := handbook.GetAs[handbook.Paginated[handbook.Message]](cache, handbook.MessagesKey(convID))
		msgs := page.Flatten()
		out := cmd.OutOrStdout()
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages.")
			return nil
		}
		for _, m := range msgs {
			pin := " "
			if m.IsPinned {
				pin = "*"
			}
			fmt.Fprintf(out, "%s %s  %-24s %s\n", pin, m.CreatedAt.Local().Format(time.DateTime), m.SenderID, m.Text)
		}
		return nil
	},
}
