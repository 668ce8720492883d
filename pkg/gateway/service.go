package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"loncachat/pkg/attachment"
	"loncachat/pkg/bus"
	"loncachat/pkg/channel"
	"loncachat/pkg/config"
	"loncachat/pkg/conversation"
	"loncachat/pkg/protocol"
	"loncachat/pkg/transport"
)

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	events   *bus.MessageBus
	manager  *conversationManager
	channels []channel.Adapter

	mu              sync.RWMutex
	startedAt       time.Time
	backendLastOKAt time.Time
	backendLastErr  string
	channelStates   map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Conversations   int                     `json:"conversations"`
	BackendLastOKAt string                  `json:"backend_last_ok_at,omitempty"`
	BackendLastErr  string                  `json:"backend_last_error,omitempty"`
	Channels        map[string]channelState `json:"channels"`
}

func NewService(ctx context.Context, cfg *config.Config, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	client, err := transport.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("initialize backend client: %w", err)
	}

	return newService(ctx, cfg, client, adapters, log)
}

func newService(ctx context.Context, cfg *config.Config, client transport.Exchanger, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	events := bus.NewMessageBus()

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		events:        events,
		manager:       newConversationManager(ctx, cfg, client, events, log),
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	defer s.events.Close()
	defer s.manager.Close()

	backendEvents, unsubscribe := s.events.SubscribeEvents(ctx, 64)
	defer unsubscribe()
	go s.trackBackendHealth(backendEvents)

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	outbound := bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
	}

	snapshot, err := s.manager.Send(ctx, inbound.SessionKey, draftFromInbound(inbound))
	if snapshot.SessionID != "" {
		outbound.Metadata = map[string]string{"session_id": snapshot.SessionID}
	}
	if err != nil {
		outbound.Error = err.Error()
		return outbound, err
	}

	var texts []string
	for _, reply := range snapshot.LastAssistantReplies() {
		if text := strings.TrimSpace(reply.Content); text != "" {
			texts = append(texts, text)
		}
		if protocol.IsDisplayable(reply.Image) {
			outbound.Images = append(outbound.Images, reply.Image)
		}
	}
	outbound.Content = strings.Join(texts, "\n\n")

	return outbound, nil
}

// draftFromInbound stages the message text and its first supported media.
func draftFromInbound(inbound bus.InboundMessage) conversation.Draft {
	draft := conversation.Draft{Text: inbound.Content}

	for _, media := range inbound.Media {
		blob := attachment.Bytes(media.Name, media.Data)
		switch media.Kind {
		case bus.MediaImage:
			draft.Attachment = attachment.Image(blob)
		case bus.MediaAudio:
			draft.Attachment = attachment.Audio(blob)
		default:
			continue
		}
		break
	}

	return draft
}

// trackBackendHealth records the outcome of every exchange so readiness
// reflects whether the backend is currently answering.
func (s *Service) trackBackendHealth(events <-chan bus.Event) {
	for event := range events {
		switch event.Type {
		case bus.EventExchangeCompleted:
			s.recordBackendResult(nil)
		case bus.EventExchangeFailed:
			s.recordBackendResult(errors.New(event.Error))
		}
	}
}

func (s *Service) recordBackendResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.backendLastErr = err.Error()
		return
	}

	s.backendLastErr = ""
	s.backendLastOKAt = time.Now().UTC()
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	addr := StatusAddress(s.cfg.Gateway)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

// StatusAddress is the listen address of the health and readiness server.
func StatusAddress(cfg config.GatewayConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = config.DefaultGatewayHost
	}

	port := cfg.Port
	if port <= 0 {
		port = config.DefaultGatewayPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	conversations := 0
	if s.manager != nil {
		conversations = s.manager.Len()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	backendLastOK := ""
	if !s.backendLastOKAt.IsZero() {
		backendLastOK = s.backendLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		Conversations:   conversations,
		BackendLastOKAt: backendLastOK,
		BackendLastErr:  s.backendLastErr,
		Channels:        channels,
	}
}

// isReady requires a running channel and no failure on the latest exchange.
// A gateway that has not talked to the backend yet counts as ready.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	return s.backendLastErr == ""
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
