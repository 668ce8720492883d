// Package conversation drives one backend session: it stages user input,
// submits it, and keeps polling while the backend reports that the answer is
// still being computed.
//
// A Conversation allows a single outstanding exchange at a time. Submit runs
// the user exchange on the caller's goroutine; when the reply is pending the
// follow-up polls run on a goroutine owned by the Conversation, which
// CancelPolling and Close stop.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"loncachat/pkg/attachment"
	"loncachat/pkg/bus"
	"loncachat/pkg/protocol"
	"loncachat/pkg/session"
	"loncachat/pkg/transport"
)

const DefaultPollInterval = time.Second

const (
	exchangeSubmit = "submit"
	exchangePoll   = "poll"
)

// Options configures a Conversation.
type Options struct {
	// Key labels events and logs, for example a chat id in gateway mode.
	Key    string
	Region string
	// PollInterval is the delay before each poll. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// MaxPolls bounds polls per cycle. Zero polls until the backend resolves.
	MaxPolls int
	Events   *bus.MessageBus
	Log      *slog.Logger
}

// Conversation is the client side of one backend session.
type Conversation struct {
	client       transport.Exchanger
	key          string
	pollInterval time.Duration
	maxPolls     int
	events       *bus.MessageBus
	log          *slog.Logger
	session      session.Store

	lifetime context.Context
	shutdown context.CancelFunc

	exchangeSeq atomic.Uint64

	mu       sync.Mutex
	state    State
	history  []protocol.Message
	region   string
	draft    Draft
	draftRev uint64
	lastErr  error
	polls    int
	closed   bool
	cycle    *cycle
}

// cycle is one submission plus the polls it triggers.
type cycle struct {
	done        chan struct{}
	finished    bool
	interrupted bool
	err         error

	cancelPoll context.CancelFunc
	pollExited chan struct{}
}

// New creates an idle conversation. Polls run under ctx; canceling it stops
// polling the same way Close does.
func New(ctx context.Context, client transport.Exchanger, opts Options) *Conversation {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	maxPolls := opts.MaxPolls
	if maxPolls < 0 {
		maxPolls = 0
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "conversation")
	if opts.Key != "" {
		log = log.With("session_key", opts.Key)
	}

	lifetime, shutdown := context.WithCancel(ctx)

	return &Conversation{
		client:       client,
		key:          opts.Key,
		pollInterval: interval,
		maxPolls:     maxPolls,
		events:       opts.Events,
		log:          log,
		lifetime:     lifetime,
		shutdown:     shutdown,
		region:       opts.Region,
	}
}

// SetText replaces the staged message text.
func (c *Conversation) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.draft.Text = text
	c.draftRev++
}

// SelectImage stages an image, replacing any staged audio.
func (c *Conversation) SelectImage(blob attachment.Blob) {
	c.setAttachment(attachment.Image(blob))
}

// SelectAudio stages an audio clip, replacing any staged image.
func (c *Conversation) SelectAudio(blob attachment.Blob) {
	c.setAttachment(attachment.Audio(blob))
}

// ClearAttachment drops the staged attachment.
func (c *Conversation) ClearAttachment() {
	c.setAttachment(attachment.None())
}

// Stage replaces the whole draft.
func (c *Conversation) Stage(draft Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.draft = draft
	c.draftRev++
}

func (c *Conversation) setAttachment(a attachment.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.draft.Attachment = a
	c.draftRev++
}

// SetRegion changes the region sent with every following envelope, polls of
// the current cycle included. It does not start a new session.
func (c *Conversation) SetRegion(region string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.region = region
}

// SessionID returns the backend-assigned session id, or "" before the first
// successful exchange that carried one.
func (c *Conversation) SessionID() string {
	id, _ := c.session.Get()
	return id
}

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		History:   slices.Clone(c.history),
		SessionID: c.SessionID(),
		Region:    c.region,
		Draft:     c.draft,
		Polls:     c.polls,
		Err:       c.lastErr,
	}
}

// Submit sends the staged draft.
//
// It returns ErrEmptySubmission without contacting the backend when the draft
// is empty, ErrBusy while another exchange or poll is outstanding, an
// *attachment.EncodingError when the attachment cannot be read, and a
// *transport.Error when the exchange fails. The draft is kept on every
// failure and cleared on success. When the reply is pending, polling starts
// in the background; use Await to wait for the final history.
func (c *Conversation) Submit(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrClosed
	}
	if c.state.Busy() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrBusy
	}
	draft := c.draft
	if draft.IsEmpty() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrEmptySubmission
	}

	draftRev := c.draftRev
	region := c.region
	cyc := &cycle{done: make(chan struct{})}
	c.cycle = cyc
	c.state = StateSubmitting
	c.lastErr = nil
	c.polls = 0
	c.mu.Unlock()

	image, audio, err := attachment.EncodeAttachment(draft.Attachment)
	if err != nil {
		c.log.Warn("Attachment encoding failed", "attachment", draft.Attachment.Name(), "error", err)

		c.mu.Lock()
		c.state = StateIdle
		c.lastErr = err
		c.finishCycleLocked(cyc, err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publishCycleCompleted(snap)
		return snap, err
	}

	reply, err := c.exchange(ctx, c.envelope(draft.Text, image, audio, region), exchangeSubmit)
	if err != nil {
		c.mu.Lock()
		c.failLocked(cyc, err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publishCycleCompleted(snap)
		return snap, err
	}

	c.mu.Lock()
	c.applyReplyLocked(reply)
	if c.draftRev == draftRev {
		c.draft = Draft{}
	}

	if !reply.Pending || c.closed {
		c.state = StateIdle
		c.finishCycleLocked(cyc, nil)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publishCycleCompleted(snap)
		return snap, nil
	}

	c.state = StateAwaitingCompletion
	pollCtx, cancelPoll := context.WithCancel(c.lifetime)
	cyc.cancelPoll = cancelPoll
	cyc.pollExited = make(chan struct{})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	go c.pollLoop(pollCtx, cyc)

	return snap, nil
}

// Await blocks until the current cycle ends and returns the resulting state.
// The error is the failure that ended the cycle, if any. With no cycle
// started yet it returns immediately.
func (c *Conversation) Await(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	cyc := c.cycle
	c.mu.Unlock()

	if cyc == nil {
		return c.Snapshot(), nil
	}

	select {
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	case <-cyc.done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), cyc.err
}

// Send stages draft, submits it and waits until the backend stops reporting
// pending.
func (c *Conversation) Send(ctx context.Context, draft Draft) (Snapshot, error) {
	c.Stage(draft)

	snap, err := c.Submit(ctx)
	if err != nil {
		return snap, err
	}
	if snap.State != StateAwaitingCompletion {
		return snap, nil
	}

	return c.Await(ctx)
}

// CancelPolling stops a scheduled or in-flight poll and returns to Idle. It
// reports whether polling was running.
func (c *Conversation) CancelPolling() bool {
	c.mu.Lock()
	if c.state != StateAwaitingCompletion || c.cycle == nil || c.cycle.cancelPoll == nil {
		c.mu.Unlock()
		return false
	}
	cyc := c.cycle
	c.mu.Unlock()

	canceled := c.stopPolling(cyc)
	if canceled {
		c.publish(bus.Event{Type: bus.EventPollingCanceled, State: StateIdle.String()})
		c.log.Info("Polling canceled")
	}

	return canceled
}

// Close stops polling and rejects further submissions. It is safe to call
// more than once.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cyc := c.cycle
	polling := cyc != nil && cyc.cancelPoll != nil
	c.mu.Unlock()

	if polling {
		c.stopPolling(cyc)
	}
	c.shutdown()
}

// stopPolling cancels the poll goroutine of cyc and waits for it to exit. It
// reports whether the cancellation interrupted the cycle.
func (c *Conversation) stopPolling(cyc *cycle) bool {
	cyc.cancelPoll()
	<-cyc.pollExited

	c.mu.Lock()
	defer c.mu.Unlock()

	return cyc.interrupted
}

// settleInterrupted returns a cycle whose polling stopped early to Idle.
func (c *Conversation) settleInterrupted(cyc *cycle, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cycle != cyc || c.state != StateAwaitingCompletion {
		return
	}

	cyc.interrupted = true
	c.state = StateIdle
	c.finishCycleLocked(cyc, cause)
}

func (c *Conversation) pollLoop(ctx context.Context, cyc *cycle) {
	defer close(cyc.pollExited)
	defer func() {
		if err := ctx.Err(); err != nil {
			c.settleInterrupted(cyc, err)
		}
	}()

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		// The limit is checked before waiting so an exhausted cycle fails now.
		c.mu.Lock()
		if c.cycle != cyc || c.state != StateAwaitingCompletion {
			c.mu.Unlock()
			return
		}
		if c.maxPolls > 0 && c.polls >= c.maxPolls {
			c.log.Warn("Poll limit reached", "polls", c.polls, "max_polls", c.maxPolls)
			c.failLocked(cyc, ErrPollLimit)
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.publishCycleCompleted(snap)
			return
		}
		c.mu.Unlock()

		c.publish(bus.Event{
			Type:    bus.EventPollScheduled,
			State:   StateAwaitingCompletion.String(),
			Payload: map[string]string{"delay_ms": strconv.FormatInt(c.pollInterval.Milliseconds(), 10)},
		})

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.cycle != cyc || c.state != StateAwaitingCompletion {
			c.mu.Unlock()
			return
		}
		c.polls++
		envelope := c.envelope("", nil, nil, c.region)
		c.mu.Unlock()

		reply, err := c.exchange(ctx, envelope, exchangePoll)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.cycle != cyc || c.state != StateAwaitingCompletion {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.failLocked(cyc, err)
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.publishCycleCompleted(snap)
			return
		}

		c.applyReplyLocked(reply)
		if !reply.Pending {
			c.state = StateIdle
			c.finishCycleLocked(cyc, nil)
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.publishCycleCompleted(snap)
			return
		}
		c.mu.Unlock()

		timer.Reset(c.pollInterval)
	}
}

func (c *Conversation) envelope(text string, image *string, audio *string, region string) protocol.Envelope {
	envelope := protocol.Envelope{
		Message:   text,
		Image:     image,
		AudioData: audio,
		Region:    region,
	}
	if id, ok := c.session.Get(); ok {
		envelope.SessionID = &id
	}

	return envelope
}

func (c *Conversation) exchange(ctx context.Context, envelope protocol.Envelope, kind string) (protocol.Reply, error) {
	requestID := strconv.FormatUint(c.exchangeSeq.Add(1), 10)
	startedAt := time.Now()

	c.publish(bus.Event{
		Type:      bus.EventExchangeStarted,
		RequestID: requestID,
		Payload:   map[string]string{"kind": kind, "region": envelope.Region},
	})

	reply, err := c.client.Exchange(ctx, envelope)
	if err != nil && kind == exchangePoll && ctx.Err() != nil {
		// Canceled poll; the caller settles the cycle.
		return protocol.Reply{}, err
	}
	if err != nil {
		if !transport.IsTransportError(err) && !errors.Is(err, context.Canceled) {
			err = &transport.Error{Op: "exchange", Err: err}
		}
		c.log.Debug("Exchange failed", "kind", kind, "request_id", requestID, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		c.publish(bus.Event{
			Type:      bus.EventExchangeFailed,
			RequestID: requestID,
			Payload:   map[string]string{"kind": kind},
			Error:     err.Error(),
		})
		return protocol.Reply{}, err
	}

	c.log.Debug("Exchange completed",
		"kind", kind,
		"request_id", requestID,
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"pending", reply.Pending,
		"messages", len(reply.Messages),
	)
	c.publish(bus.Event{
		Type:      bus.EventExchangeCompleted,
		RequestID: requestID,
		SessionID: reply.SessionID,
		Payload: map[string]string{
			"kind":     kind,
			"pending":  strconv.FormatBool(reply.Pending),
			"messages": strconv.Itoa(len(reply.Messages)),
		},
	})

	return reply, nil
}

// applyReplyLocked commits a successful reply. The backend returns the whole
// history every time, so it replaces rather than extends the local copy.
func (c *Conversation) applyReplyLocked(reply protocol.Reply) {
	if reply.SessionID != "" && c.session.SetIfAbsent(reply.SessionID) {
		c.log.Info("Session established", "session_id", reply.SessionID)
	}

	c.history = protocol.NormalizeAll(reply.Messages)
}

func (c *Conversation) failLocked(cyc *cycle, err error) {
	c.log.Error("Exchange failed", "state", c.state.String(), "error", err)
	c.state = StateError
	c.lastErr = err
	c.finishCycleLocked(cyc, err)
}

func (c *Conversation) finishCycleLocked(cyc *cycle, err error) {
	if cyc.finished {
		return
	}

	cyc.finished = true
	cyc.err = err
	close(cyc.done)
}

func (c *Conversation) publishCycleCompleted(snap Snapshot) {
	event := bus.Event{
		Type:    bus.EventCycleCompleted,
		State:   snap.State.String(),
		Payload: map[string]string{"polls": strconv.Itoa(snap.Polls), "messages": strconv.Itoa(len(snap.History))},
	}
	if snap.Err != nil {
		event.Error = snap.Err.Error()
	}

	c.publish(event)
}

func (c *Conversation) publish(event bus.Event) {
	if c.events == nil {
		return
	}

	event.SessionKey = c.key
	if event.SessionID == "" {
		event.SessionID = c.SessionID()
	}

	_ = c.events.PublishEvent(context.Background(), event)
}
