package cmd

import (
	"context"
	"testing"

	channelpkg "loncachat/pkg/channel"
	"loncachat/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	if got := enabledChannelNames(adapters); got != "telegram,slack" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,slack")
	}
}

func TestEnabledAdaptersRequiresTelegramToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Telegram.Enabled = true
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when telegram is enabled without a token")
	}

	cfg.Channels.Telegram.Token = "123:abc"
	adapters, err := enabledAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Name() != telegramChannelName {
		t.Fatalf("adapters = %v", adapters)
	}
}

func TestApplyGatewayFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		region   string
		host     string
		port     int
		wantErr  bool
		wantHost string
		wantPort int
		wantReg  string
	}{
		{name: "no overrides", wantHost: config.DefaultGatewayHost, wantPort: config.DefaultGatewayPort, wantReg: "Turkey"},
		{name: "all overrides", region: "europe", host: " 127.0.0.1 ", port: 9090, wantHost: "127.0.0.1", wantPort: 9090, wantReg: "Europe"},
		{name: "unknown region", region: "Atlantis", wantErr: true},
		{name: "port out of range", port: 70000, wantErr: true},
		{name: "negative port", port: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			err := applyGatewayFlags(cfg, tt.region, tt.host, tt.port)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("applyGatewayFlags error: %v", err)
			}
			if cfg.Gateway.Host != tt.wantHost || cfg.Gateway.Port != tt.wantPort || cfg.Conversation.Region != tt.wantReg {
				t.Fatalf("gateway = %s:%d region %q, want %s:%d region %q",
					cfg.Gateway.Host, cfg.Gateway.Port, cfg.Conversation.Region, tt.wantHost, tt.wantPort, tt.wantReg)
			}
		})
	}
}
