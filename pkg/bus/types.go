package bus

import "time"

// InboundMessage is one user message arriving from a channel adapter.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []Media           `json:"media,omitempty"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Media is a binary attachment downloaded by a channel adapter.
type Media struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

const (
	MediaImage = "image"
	MediaAudio = "audio"
)

// OutboundMessage is the reply a channel adapter delivers back to its user.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Images     []string          `json:"images,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type EventType string

const (
	EventExchangeStarted   EventType = "exchange_started"
	EventExchangeCompleted EventType = "exchange_completed"
	EventExchangeFailed    EventType = "exchange_failed"
	EventPollScheduled     EventType = "poll_scheduled"
	EventCycleCompleted    EventType = "cycle_completed"
	EventPollingCanceled   EventType = "polling_canceled"
)

// Event describes one step of a conversation cycle.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	SessionKey string            `json:"session_key,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	State      string            `json:"state,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}
