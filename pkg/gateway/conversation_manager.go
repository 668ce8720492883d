package gateway

import (
	"context"
	"log/slog"
	"sync"

	"loncachat/pkg/bus"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"
	"loncachat/pkg/transport"
)

// conversationManager owns one backend conversation per chat session key.
type conversationManager struct {
	ctx    context.Context
	client transport.Exchanger
	cfg    *config.Config
	events *bus.MessageBus
	log    *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*chatConversation
}

// chatConversation serializes sends for one chat so a second message waits
// for the first cycle instead of being rejected as busy.
type chatConversation struct {
	conversation *conversation.Conversation
	sendMu       sync.Mutex
}

func newConversationManager(ctx context.Context, cfg *config.Config, client transport.Exchanger, events *bus.MessageBus, log *slog.Logger) *conversationManager {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	return &conversationManager{
		ctx:           ctx,
		client:        client,
		cfg:           cfg,
		events:        events,
		log:           log.With("component", "gateway.conversations"),
		conversations: make(map[string]*chatConversation),
	}
}

// Send routes one draft to the conversation for sessionKey and waits for the
// backend to finish answering it.
func (m *conversationManager) Send(ctx context.Context, sessionKey string, draft conversation.Draft) (conversation.Snapshot, error) {
	chat := m.conversationFor(sessionKey)

	chat.sendMu.Lock()
	defer chat.sendMu.Unlock()

	return chat.conversation.Send(ctx, draft)
}

// conversationFor returns an existing conversation or lazily starts a new one.
func (m *conversationManager) conversationFor(sessionKey string) *chatConversation {
	m.mu.RLock()
	chat, ok := m.conversations[sessionKey]
	m.mu.RUnlock()
	if ok {
		return chat
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok = m.conversations[sessionKey]
	if ok {
		return chat
	}

	chat = &chatConversation{
		conversation: conversation.New(m.ctx, m.client, conversation.Options{
			Key:          sessionKey,
			Region:       m.cfg.Conversation.Region,
			PollInterval: m.cfg.Conversation.PollInterval(),
			MaxPolls:     m.cfg.Conversation.MaxPolls,
			Events:       m.events,
			Log:          m.log,
		}),
	}
	m.conversations[sessionKey] = chat
	m.log.Debug("Conversation started", "session_key", sessionKey)

	return chat
}

// Len reports how many chats have a conversation.
func (m *conversationManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.conversations)
}

// Close stops polling in every conversation and drops them.
func (m *conversationManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionKey, chat := range m.conversations {
		chat.conversation.Close()
		delete(m.conversations, sessionKey)
	}
}
