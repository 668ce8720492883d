package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"loncachat/pkg/attachment"
	"loncachat/pkg/bus"
	"loncachat/pkg/channel"
	"loncachat/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// Adapter bridges Telegram updates into conversation inbound/outbound messages.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// mediaRef is a Telegram file still to be downloaded.
type mediaRef struct {
	kind   string
	fileID string
	name   string
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages through the shared channel handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, bot, handler, update)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, bot *telego.Bot, handler channel.Handler, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	inbound, ref, ok := inboundFromMessage(update.UpdateID, message)
	if !ok {
		a.log.Debug("Ignoring message without text or supported media", "chat_id", message.Chat.ID)
		return
	}

	a.log.Info("Received message",
		"chat_id", inbound.ChatID,
		"sender_id", senderID,
		"session_key", inbound.SessionKey,
		"content", previewText(inbound.Content),
		"media", ref.kind,
	)

	stopTyping := a.startTypingIndicator(ctx, bot, message.Chat.ID)
	defer stopTyping()

	if ref.fileID != "" {
		data, err := downloadFile(ctx, bot, ref.fileID)
		if err != nil {
			a.log.Error("Failed to download telegram file", "chat_id", inbound.ChatID, "kind", ref.kind, "error", err)
			a.reply(ctx, bot, message.Chat.ID, inbound.SessionKey, bus.OutboundMessage{Error: "could not download the attachment"})
			return
		}
		inbound.Media = []bus.Media{{Kind: ref.kind, Name: ref.name, Data: data}}
	}

	outbound, err := handler(ctx, inbound)
	if err != nil {
		a.log.Error("Failed to process inbound message", "error", err)
		outbound = bus.OutboundMessage{Error: err.Error()}
	}

	stopTyping()
	a.reply(ctx, bot, message.Chat.ID, inbound.SessionKey, outbound)
}

func (a *Adapter) reply(ctx context.Context, bot *telego.Bot, chatID int64, key string, outbound bus.OutboundMessage) {
	responseText := strings.TrimSpace(outbound.Content)
	if responseText == "" {
		responseText = strings.TrimSpace(outbound.Error)
	}

	if responseText != "" {
		a.log.Info("Sending message", "chat_id", chatID, "session_key", key, "content", previewText(responseText))
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), responseText)); err != nil {
			a.log.Error("Failed to send telegram message", "error", err)
		}
	}

	for i, image := range outbound.Images {
		data, err := decodeImage(image)
		if err != nil {
			a.log.Warn("Skipping undecodable reply image", "chat_id", chatID, "index", i, "error", err)
			continue
		}

		photo := tu.File(tu.NameReader(bytes.NewReader(data), fmt.Sprintf("reply-%d.png", i+1)))
		if _, err := bot.SendPhoto(ctx, tu.Photo(tu.ID(chatID), photo)); err != nil {
			a.log.Error("Failed to send telegram photo", "error", err)
		}
	}
}

// inboundFromMessage maps a Telegram message to an inbound message and the
// file to fetch for it. The largest photo size wins; voice notes and audio
// files both go to the audio slot.
func inboundFromMessage(updateID int, message *telego.Message) (bus.InboundMessage, mediaRef, bool) {
	var ref mediaRef
	switch {
	case len(message.Photo) > 0:
		largest := message.Photo[0]
		for _, size := range message.Photo[1:] {
			if size.Width*size.Height > largest.Width*largest.Height {
				largest = size
			}
		}
		ref = mediaRef{kind: bus.MediaImage, fileID: largest.FileID, name: "photo.jpg"}
	case message.Voice != nil:
		ref = mediaRef{kind: bus.MediaAudio, fileID: message.Voice.FileID, name: "voice.ogg"}
	case message.Audio != nil:
		name := message.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		ref = mediaRef{kind: bus.MediaAudio, fileID: message.Audio.FileID, name: name}
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		content = strings.TrimSpace(message.Caption)
	}
	if content == "" && ref.fileID == "" {
		return bus.InboundMessage{}, mediaRef{}, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	inbound := bus.InboundMessage{
		Channel:    channelName,
		ChatID:     chatID,
		SessionKey: sessionKey(chatID),
		Content:    content,
		Metadata: map[string]string{
			"update_id": strconv.Itoa(updateID),
		},
	}
	if message.From != nil {
		inbound.SenderID = strconv.FormatInt(message.From.ID, 10)
	}

	return inbound, ref, true
}

func downloadFile(ctx context.Context, bot *telego.Bot, fileID string) ([]byte, error) {
	file, err := bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	data, err := tu.DownloadFile(bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}

	return data, nil
}

// decodeImage turns a displayable reply image back into bytes.
func decodeImage(image string) ([]byte, error) {
	payload := attachment.StripDataURIPrefix(image)
	if payload == "" {
		return nil, errors.New("empty image payload")
	}

	return base64.StdEncoding.DecodeString(payload)
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one backend conversation.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
