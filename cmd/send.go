package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loncachat/pkg/attachment"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"
	"loncachat/pkg/logger"
	"loncachat/pkg/protocol"
	"loncachat/pkg/runtime"

	"github.com/spf13/cobra"
)

var (
	messageText string
	imagePath   string
	audioPath   string
	sendRegion  string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send one message and print the conversation",
	Long:  "Sends one message, optionally with an image or audio file, waits while the backend is still answering, and prints the resulting history.",
	Run: func(cmd *cobra.Command, args []string) {
		draft, err := resolveDraft(args)
		if err != nil {
			fmt.Println(err)
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if err := applyRegionFlag(cfg, sendRegion); err != nil {
			fmt.Println(err)
			return
		}

		appLogger, closeLog, err := logger.New(cfg.Logging, logger.Options{
			Command: "send",
			Backend: cfg.Backend.MessageURL(),
		})
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closeLog.Close()
		slog.SetDefault(appLogger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, err := runtime.StartLocalSession(ctx, cfg, appLogger, true)
		if err != nil {
			fmt.Printf("failed to start session: %v\n", err)
			return
		}
		defer session.Close()

		snapshot, err := session.Send(ctx, draft)
		printHistory(os.Stdout, snapshot.History)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Printf("send failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&messageText, "message", "m", "", "message text to send")
	sendCmd.Flags().StringVar(&imagePath, "image", "", "image file to attach")
	sendCmd.Flags().StringVar(&audioPath, "audio", "", "audio file to attach")
	sendCmd.Flags().StringVarP(&sendRegion, "region", "r", "", "region sent with the message (default from config)")
	sendCmd.MarkFlagsMutuallyExclusive("image", "audio")
}

// resolveDraft builds the draft from flags and positional text.
func resolveDraft(args []string) (conversation.Draft, error) {
	draft := conversation.Draft{Text: resolveMessage(args)}

	switch {
	case imagePath != "" && audioPath != "":
		return conversation.Draft{}, errors.New("use either --image or --audio, not both")
	case imagePath != "":
		if kind := attachment.KindFromPath(imagePath); kind != attachment.KindImage {
			return conversation.Draft{}, fmt.Errorf("--image %s is not a supported image type", imagePath)
		}
		draft.Attachment = attachment.Image(attachment.File(imagePath))
	case audioPath != "":
		if kind := attachment.KindFromPath(audioPath); kind != attachment.KindAudio {
			return conversation.Draft{}, fmt.Errorf("--audio %s is not a supported audio type", audioPath)
		}
		draft.Attachment = attachment.Audio(attachment.File(audioPath))
	}

	if draft.IsEmpty() {
		return conversation.Draft{}, errors.New("nothing to send: pass text, --image or --audio")
	}

	return draft, nil
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(messageText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func printHistory(w io.Writer, history []protocol.Message) {
	for _, message := range history {
		label := "you"
		if message.Role != protocol.RoleUser {
			label = "assistant"
		}

		lines := messageLines(message)
		for _, line := range lines {
			fmt.Fprintf(w, "%s> %s\n", label, line)
		}
		if len(lines) > 0 {
			fmt.Fprintln(w)
		}
	}
}

func messageLines(message protocol.Message) []string {
	var lines []string
	if trimmed := strings.TrimSpace(message.Content); trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}
	if protocol.IsDisplayable(message.Image) {
		lines = append(lines, "[image]")
	}
	if message.HasAudio() {
		lines = append(lines, "[audio]")
	}

	return lines
}
