package runtime

import (
	"context"
	"log/slog"

	"loncachat/pkg/bus"
)

func observeConversationEvents(ctx context.Context, messageBus *bus.MessageBus) {
	log := slog.Default().With("component", "bus.events")
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	// Same attribute set for every type so logs correlate by request and session.
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"session_key", event.SessionKey,
		"session_id", event.SessionID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.State != "" {
		attrs = append(attrs, "state", event.State)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventExchangeFailed:
		log.Error("Conversation event", append(attrs, "error", event.Error)...)
	case bus.EventCycleCompleted:
		if event.Error != "" {
			log.Warn("Conversation event", append(attrs, "error", event.Error)...)
			return
		}
		log.Info("Conversation event", attrs...)
	case bus.EventExchangeStarted, bus.EventPollingCanceled:
		log.Info("Conversation event", attrs...)
	default:
		log.Debug("Conversation event", attrs...)
	}
}
