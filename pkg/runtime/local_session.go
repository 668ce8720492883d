package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"loncachat/pkg/bus"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"
	"loncachat/pkg/transport"

	"github.com/google/uuid"
)

const localKeyPrefix = "local-"

// LocalSession coordinates a single local CLI session.
//
// It owns:
//   - one conversation against the backend,
//   - one in-process event bus,
//   - and (optionally) one goroutine logging bus events.
//
// The UI reads state through Conversation and listens for changes through
// Events, so both share the same event stream the log observer sees.
type LocalSession struct {
	conversation *conversation.Conversation
	messageBus   *bus.MessageBus
	client       transport.Exchanger
	key          string
	log          *slog.Logger

	cancelObserver context.CancelFunc
	observerDone   chan struct{}
}

// StartLocalSession builds the transport from cfg and starts a session.
func StartLocalSession(ctx context.Context, cfg *config.Config, log *slog.Logger, observeEvents bool) (*LocalSession, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	client, err := transport.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	return StartLocalSessionWithClient(ctx, cfg, log, client, observeEvents)
}

// StartLocalSessionWithClient starts a session over an existing exchanger.
func StartLocalSessionWithClient(ctx context.Context, cfg *config.Config, log *slog.Logger, client transport.Exchanger, observeEvents bool) (*LocalSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if client == nil {
		return nil, errors.New("backend client is required")
	}
	if log == nil {
		log = slog.Default()
	}

	key := localKeyPrefix + uuid.NewString()[:8]
	messageBus := bus.NewMessageBus()

	session := &LocalSession{
		messageBus:     messageBus,
		client:         client,
		key:            key,
		log:            log.With("component", "runtime", "session_key", key),
		cancelObserver: func() {},
	}

	session.conversation = conversation.New(ctx, client, conversation.Options{
		Key:          key,
		Region:       cfg.Conversation.Region,
		PollInterval: cfg.Conversation.PollInterval(),
		MaxPolls:     cfg.Conversation.MaxPolls,
		Events:       messageBus,
		Log:          log,
	})

	if observeEvents {
		observerCtx, cancel := context.WithCancel(ctx)
		session.cancelObserver = cancel
		session.observerDone = make(chan struct{})
		go func() {
			defer close(session.observerDone)
			observeConversationEvents(observerCtx, messageBus)
		}()
	}

	session.log.Debug("Local session started", "region", cfg.Conversation.Region)

	return session, nil
}

// Conversation returns the conversation driven by this session.
func (s *LocalSession) Conversation() *conversation.Conversation {
	return s.conversation
}

// Events subscribes to the session's lifecycle events.
func (s *LocalSession) Events(ctx context.Context, buffer int) (<-chan bus.Event, func()) {
	return s.messageBus.SubscribeEvents(ctx, buffer)
}

// Key identifies this session in logs and events.
func (s *LocalSession) Key() string {
	return s.key
}

// Send stages draft, submits it and waits for the backend to finish.
func (s *LocalSession) Send(ctx context.Context, draft conversation.Draft) (conversation.Snapshot, error) {
	if s == nil {
		return conversation.Snapshot{}, errors.New("local session is nil")
	}

	return s.conversation.Send(ctx, draft)
}

// Close stops polling, the event observer and the bus.
func (s *LocalSession) Close() {
	if s == nil {
		return
	}

	s.conversation.Close()
	s.cancelObserver()
	s.messageBus.Close()

	if s.observerDone != nil {
		<-s.observerDone
	}
}
