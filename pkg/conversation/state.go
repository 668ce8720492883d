package conversation

import (
	"errors"
	"slices"

	"loncachat/pkg/attachment"
	"loncachat/pkg/protocol"
)

// State is the orchestration phase of a conversation.
type State int

const (
	// StateIdle accepts a new submission.
	StateIdle State = iota
	// StateSubmitting has a user submission in flight.
	StateSubmitting
	// StateAwaitingCompletion is polling a backend that reported pending.
	StateAwaitingCompletion
	// StateError follows a failed exchange. It only stops polling; the user
	// can submit again.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Busy reports whether an exchange or a scheduled poll is outstanding.
func (s State) Busy() bool {
	return s == StateSubmitting || s == StateAwaitingCompletion
}

var (
	// ErrEmptySubmission rejects a submit with no text and no attachment.
	// Callers treat it as a no-op rather than a failure.
	ErrEmptySubmission = errors.New("conversation: nothing to submit")
	// ErrBusy rejects a submit while another exchange or poll is outstanding.
	ErrBusy = errors.New("conversation: a request is already in progress")
	// ErrClosed rejects use after Close.
	ErrClosed = errors.New("conversation: closed")
	// ErrPollLimit ends a cycle whose backend stayed pending past MaxPolls.
	ErrPollLimit = errors.New("conversation: backend still pending after poll limit")
)

// Draft is the user input staged for the next submission.
type Draft struct {
	Text       string
	Attachment attachment.Attachment
}

// IsEmpty reports whether the draft has neither text nor an attachment.
// Whitespace counts as text.
func (d Draft) IsEmpty() bool {
	return d.Text == "" && d.Attachment.IsNone()
}

// Snapshot is a consistent copy of the conversation at one point in time.
type Snapshot struct {
	State     State
	History   []protocol.Message
	SessionID string
	Region    string
	Draft     Draft
	// Polls counts the polls issued in the current or most recent cycle.
	Polls int
	// Err is the most recent failure. It is cleared when a new cycle starts.
	Err error
}

// LastAssistantReplies returns the assistant turns after the most recent user
// turn, in order.
func (s Snapshot) LastAssistantReplies() []protocol.Message {
	start := 0
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == protocol.RoleUser {
			start = i + 1
			break
		}
	}

	var replies []protocol.Message
	for _, msg := range s.History[start:] {
		if msg.Role == protocol.RoleAssistant {
			replies = append(replies, msg)
		}
	}

	return slices.Clip(replies)
}
