package chat

import (
	"context"
	"errors"
	"fmt"

	"loncachat/pkg/attachment"
	"loncachat/pkg/bus"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Conversation is the part of a conversation the chat screen drives.
type Conversation interface {
	SetText(text string)
	SelectImage(blob attachment.Blob)
	SelectAudio(blob attachment.Blob)
	ClearAttachment()
	SetRegion(region string)
	Submit(ctx context.Context) (conversation.Snapshot, error)
	CancelPolling() bool
	Snapshot() conversation.Snapshot
}

// Options wires the chat screen to a running session.
type Options struct {
	Conversation Conversation
	// Events triggers redraws; the screen re-reads the snapshot on each one.
	Events <-chan bus.Event
	// Regions validates /region input.
	Regions  config.ConversationConfig
	Endpoint string
}

func RunInteractive(ctx context.Context, opts Options) error {
	if opts.Conversation == nil {
		return errors.New("conversation is required")
	}

	program := tea.NewProgram(newModel(ctx, opts), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("Thanks for chatting with Loncachat")
}
