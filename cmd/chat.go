package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"loncachat/pkg/config"
	"loncachat/pkg/logger"
	"loncachat/pkg/runtime"
	"loncachat/pkg/transport"
	"loncachat/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var chatRegion string

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long:  "Loads configuration, connects to the backend, and opens a full-screen chat with image, audio and region controls.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if err := applyRegionFlag(cfg, chatRegion); err != nil {
			fmt.Println(err)
			return
		}

		// The chat screen owns the terminal, so logs only go to a file.
		appLogger, closeLog, err := logger.New(cfg.Logging, logger.Options{
			Fallback: io.Discard,
			Command:  "chat",
			Backend:  cfg.Backend.MessageURL(),
		})
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closeLog.Close()
		slog.SetDefault(appLogger)

		client, err := transport.New(cfg.Backend)
		if err != nil {
			fmt.Printf("failed to initialize backend client: %v\n", err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, err := runtime.StartLocalSessionWithClient(ctx, cfg, appLogger, client, true)
		if err != nil {
			fmt.Printf("failed to start session: %v\n", err)
			return
		}
		defer session.Close()

		events, unsubscribe := session.Events(ctx, 64)
		defer unsubscribe()

		err = chat.RunInteractive(ctx, chat.Options{
			Conversation: session.Conversation(),
			Events:       events,
			Regions:      cfg.Conversation,
			Endpoint:     client.Endpoint(),
		})
		if err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatRegion, "region", "r", "", "region sent with every message (default from config)")
}

// applyRegionFlag validates a --region value and makes it the session default.
func applyRegionFlag(cfg *config.Config, region string) error {
	if region == "" {
		return nil
	}

	canonical, err := cfg.Conversation.ValidateRegion(region)
	if err != nil {
		return fmt.Errorf("invalid --region: %w", err)
	}
	cfg.Conversation.Region = canonical

	return nil
}
