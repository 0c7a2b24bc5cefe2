package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

var (
	watchTransport     string
	watchConversations []string
)

func init() {
	watchCmd.Flags().StringVarP(&watchTransport, "transport", "t", "", "ws or sse (default from config, else ws)")
	watchCmd.Flags().StringSliceVarP(&watchConversations, "conversation", "c", nil, "conversation rooms to join (ws only)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow real-time events and print toasts",
	Long:  "Connect to the real-time endpoint, keep a local cache in sync through the event bridge and print every toast until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sess, err := session(cfg)
		if err != nil {
			return err
		}

		transport := valueOrDefault(watchTransport, valueOrDefault(cfg.Default.Transport, "ws"))
		logger := newLogger()
		client := newClient(cfg, logger)
		rtCfg := &handbook.RealtimeConfig{AutoReconnect: true, MaxReconnectAttempts: -1}

		var (
			sock handbook.Socket
			ws   *handbook.WSSocket
		)
		switch transport {
		case "ws":
			ws = client.Realtime.WS(rtCfg)
			sock = ws
		case "sse":
			if len(watchConversations) > 0 {
				return fmt.Errorf("--conversation needs the ws transport")
			}
			sock = client.Realtime.SSE(rtCfg)
		default:
			return fmt.Errorf("unknown transport %q (valid: ws, sse)", transport)
		}

		out := cmd.OutOrStdout()
		cache := handbook.NewQueryCache(handbook.WithCacheLogger(logger))
		bridge := handbook.NewBridge(cache,
			handbook.WithNotifier(printNotifier(out)),
			handbook.WithBridgeLogger(logger),
			handbook.WithCallHandler(func(_ context.Context, sig *handbook.CallSignal) {
				fmt.Fprintf(out, "[call] %s from %s in %s\n", sig.Kind, sig.From, sig.ConversationID)
			}),
			handbook.WithErrorHandler(func(err error) {
				fmt.Fprintf(out, "[error] %v\n", err)
			}),
		)

		ctx := cmd.Context()
		sock.OnConnected(func() {
			fmt.Fprintf(out, "Connected (%s) as %s\n", transport, sess.UserID)
			if ws == nil {
				return
			}
			for _, id := range watchConversations {
				if err := ws.JoinConversation(ctx, id); err != nil {
					fmt.Fprintf(out, "[error] join %s: %v\n", id, err)
				}
			}
		})
		sock.OnDisconnected(func(code int, reason string) {
			fmt.Fprintf(out, "Disconnected (%d): %s\n", code, reason)
		})
		sock.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(out, "Reconnecting (attempt %d, in %s)\n", attempt, delay.Round(time.Millisecond))
		})

		bridge.Attach(sock, sess)
		defer bridge.Detach()

		if err := sock.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		<-ctx.Done()
		_ = sock.Disconnect()

		stats := bridge.Stats()
		fmt.Fprintf(out, "Handled %d events, %d failed\n", stats.Handled, stats.Failed)
		return nil
	},
}

// printNotifier renders toasts as single lines.
func printNotifier(w io.Writer) handbook.Notifier {
	return handbook.NotifierFunc(func(_ context.Context, t handbook.Toast) {
		line := fmt.Sprintf("[%s] %s", t.Level, t.Title)
		if t.Body != "" {
			line += ": " + t.Body
		}
		if t.Sound != handbook.SoundNone {
			line += " (" + string(t.Sound) + ")"
		}
		fmt.Fprintln(w, line)
	})
}
