package runtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"loncachat/pkg/bus"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"
	"loncachat/pkg/protocol"
)

type fakeExchanger struct {
	mu      sync.Mutex
	replies []protocol.Reply
	err     error
	calls   int
}

func (f *fakeExchanger) Exchange(ctx context.Context, envelope protocol.Envelope) (protocol.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return protocol.Reply{}, f.err
	}
	if len(f.replies) == 0 {
		return protocol.Reply{}, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Conversation.PollIntervalMS = 1
	return cfg
}

func TestStartLocalSessionRequiresConfigAndClient(t *testing.T) {
	if _, err := StartLocalSessionWithClient(context.Background(), nil, nil, &fakeExchanger{}, false); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := StartLocalSessionWithClient(context.Background(), testConfig(), nil, nil, false); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestStartLocalSessionRejectsBadBackendURL(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.BaseURL = "ftp://example.com"

	if _, err := StartLocalSession(context.Background(), cfg, nil, false); err == nil {
		t.Fatal("expected error for non-http backend url")
	}
}

func TestLocalSessionSendWaitsThroughPolling(t *testing.T) {
	client := &fakeExchanger{replies: []protocol.Reply{
		{Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "hello"}}, Pending: true, SessionID: "abc123"},
		{Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "hello"}, {Role: protocol.RoleAssistant, Content: "hi"}}},
	}}

	session, err := StartLocalSessionWithClient(context.Background(), testConfig(), nil, client, true)
	if err != nil {
		t.Fatalf("StartLocalSessionWithClient error: %v", err)
	}
	defer session.Close()

	if !strings.HasPrefix(session.Key(), localKeyPrefix) {
		t.Fatalf("key = %q, want %q prefix", session.Key(), localKeyPrefix)
	}

	snap, err := session.Send(context.Background(), conversation.Draft{Text: "hello"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if snap.State != conversation.StateIdle {
		t.Fatalf("state = %v, want idle", snap.State)
	}
	if len(snap.History) != 2 || snap.History[1].Content != "hi" {
		t.Fatalf("history = %+v", snap.History)
	}
	if snap.SessionID != "abc123" {
		t.Fatalf("session id = %q, want abc123", snap.SessionID)
	}
	if snap.Region != "Turkey" {
		t.Fatalf("region = %q, want configured default", snap.Region)
	}
}

func TestLocalSessionEventsReachSubscribers(t *testing.T) {
	client := &fakeExchanger{}
	session, err := StartLocalSessionWithClient(context.Background(), testConfig(), nil, client, false)
	if err != nil {
		t.Fatalf("StartLocalSessionWithClient error: %v", err)
	}
	defer session.Close()

	events, unsubscribe := session.Events(context.Background(), 16)
	defer unsubscribe()

	if _, err := session.Send(context.Background(), conversation.Draft{Text: "ping"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case event := <-events:
			if event.SessionKey != session.Key() {
				t.Fatalf("event session key = %q, want %q", event.SessionKey, session.Key())
			}
			if event.Type == bus.EventCycleCompleted {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for cycle_completed")
		}
	}
}

func TestLocalSessionSendPropagatesError(t *testing.T) {
	wantErr := errors.New("backend down")
	session, err := StartLocalSessionWithClient(context.Background(), testConfig(), nil, &fakeExchanger{err: wantErr}, false)
	if err != nil {
		t.Fatalf("StartLocalSessionWithClient error: %v", err)
	}
	defer session.Close()

	snap, err := session.Send(context.Background(), conversation.Draft{Text: "ping"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if snap.State != conversation.StateError {
		t.Fatalf("state = %v, want error", snap.State)
	}
}

func TestLocalSessionCloseIsIdempotent(t *testing.T) {
	session, err := StartLocalSessionWithClient(context.Background(), testConfig(), nil, &fakeExchanger{}, true)
	if err != nil {
		t.Fatalf("StartLocalSessionWithClient error: %v", err)
	}

	session.Close()
	session.Close()

	if _, err := session.Send(context.Background(), conversation.Draft{Text: "late"}); !errors.Is(err, conversation.ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed", err)
	}
}

func TestLogEventLevels(t *testing.T) {
	recorder := &recordingHandler{}
	log := slog.New(recorder)

	logEvent(log, bus.Event{Type: bus.EventExchangeStarted, RequestID: "1"})
	if got := recorder.LastLevel(); got != slog.LevelInfo {
		t.Fatalf("started event level = %v, want %v", got, slog.LevelInfo)
	}

	logEvent(log, bus.Event{Type: bus.EventPollScheduled, RequestID: "2"})
	if got := recorder.LastLevel(); got != slog.LevelDebug {
		t.Fatalf("poll event level = %v, want %v", got, slog.LevelDebug)
	}

	logEvent(log, bus.Event{Type: bus.EventExchangeFailed, RequestID: "3", Error: "boom"})
	if got := recorder.LastLevel(); got != slog.LevelError {
		t.Fatalf("failed event level = %v, want %v", got, slog.LevelError)
	}

	logEvent(log, bus.Event{Type: bus.EventCycleCompleted, Error: "poll limit"})
	if got := recorder.LastLevel(); got != slog.LevelWarn {
		t.Fatalf("failed cycle level = %v, want %v", got, slog.LevelWarn)
	}

	logEvent(log, bus.Event{Type: bus.EventCycleCompleted})
	if got := recorder.LastLevel(); got != slog.LevelInfo {
		t.Fatalf("cycle level = %v, want %v", got, slog.LevelInfo)
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func (h *recordingHandler) LastLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Level
}
