package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/usecase"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/wsclient"
)

// newSignInitDataCmd - produces a credential accepted by POST /auth, for local testing without Telegram.
func newSignInitDataCmd() *cobra.Command {
	var (
		botToken  string
		userID    int64
		firstName string
		username  string
	)

	cmd := &cobra.Command{
		Use:   "sign-init-data",
		Short: "Print signed Telegram init data for a test user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := json.Marshal(map[string]any{
				"id":         userID,
				"first_name": firstName,
				"username":   username,
			})
			if err != nil {
				return fmt.Errorf("failed to encode user: %w", err)
			}

			values := url.Values{
				"auth_date": {strconv.FormatInt(time.Now().Unix(), 10)},
				"user":      {string(user)},
			}

			fmt.Fprintln(cmd.OutOrStdout(), service.SignInitData(botToken, values))

			return nil
		},
	}

	cmd.Flags().StringVar(&botToken, "bot-token", os.Getenv("TELEGRAM_BOT_TOKEN"), "bot token (env: TELEGRAM_BOT_TOKEN)")
	cmd.Flags().Int64Var(&userID, "user-id", 1, "Telegram user id")
	cmd.Flags().StringVar(&firstName, "first-name", "Tester", "first name")
	cmd.Flags().StringVar(&username, "username", "", "username")

	return cmd
}

// newWatchCmd - binds to a lobby as the given user and prints every snapshot it receives.
func newWatchCmd() *cobra.Command {
	var (
		serverURL string
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "watch <lobby-code>",
		Short: "Follow a lobby over the persistent connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			out := json.NewEncoder(cmd.OutOrStdout())

			client := wsclient.New(logger, wsclient.DefaultOptions(serverURL, userID, args[0]), func(msg usecase.Message) {
				if err := out.Encode(msg); err != nil {
					logger.Warn("failed to print message", "error", err)
				}
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return client.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "ws://localhost:3000/ws", "WebSocket endpoint")
	cmd.Flags().StringVar(&userID, "user-id", "", "id of an authenticated lobby member")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}
