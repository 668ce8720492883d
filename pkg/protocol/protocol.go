// Package protocol defines the JSON contract spoken with the conversational
// backend.
//
// Every reply carries the full conversation history, not a delta, together with
// a pending flag that tells the client to poll again.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn as returned by the backend.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Image   string    `json:"image,omitempty"`
	Audio   *AudioRef `json:"audio,omitempty"`
}

// HasAudio reports whether the turn carried an audio clip.
func (m Message) HasAudio() bool {
	return m.Audio != nil && m.Audio.Attached()
}

// AudioRef marks audio on a turn. Backends send either a boolean flag or the
// clip itself as a string.
type AudioRef struct {
	Flag bool
	Data string
}

// Attached reports whether any audio is referenced.
func (a AudioRef) Attached() bool {
	return a.Flag || a.Data != ""
}

func (a AudioRef) MarshalJSON() ([]byte, error) {
	if a.Data != "" {
		return json.Marshal(a.Data)
	}

	return json.Marshal(a.Flag)
}

func (a *AudioRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = AudioRef{}
		return nil
	}

	var flag bool
	if err := json.Unmarshal(trimmed, &flag); err == nil {
		*a = AudioRef{Flag: flag}
		return nil
	}

	var payload string
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return fmt.Errorf("audio must be a boolean or string: %w", err)
	}

	*a = AudioRef{Flag: payload != "", Data: payload}
	return nil
}

// Envelope is one outbound request. A poll is an envelope with an empty message
// and no attachment.
type Envelope struct {
	Message   string  `json:"message"`
	Image     *string `json:"image"`
	AudioData *string `json:"audio_data"`
	Region    string  `json:"region"`
	SessionID *string `json:"session_id"`
}

// IsPoll reports whether the envelope carries no user input.
func (e Envelope) IsPoll() bool {
	return e.Message == "" && e.Image == nil && e.AudioData == nil
}

// Session returns the session id carried by the envelope, or "".
func (e Envelope) Session() string {
	if e.SessionID == nil {
		return ""
	}

	return *e.SessionID
}

// Reply is the backend response to any envelope.
type Reply struct {
	Messages  []Message `json:"messages"`
	Pending   bool      `json:"pending"`
	SessionID string    `json:"session_id,omitempty"`
}
