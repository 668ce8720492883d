package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loncachat/pkg/channel"
	"loncachat/pkg/channel/telegram"
	"loncachat/pkg/config"
	"loncachat/pkg/gateway"
	"loncachat/pkg/logger"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var (
	gatewayRegion string
	gatewayHost   string
	gatewayPort   int
)

// gatewayCmd bridges chat channels to the backend.
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Bridge chat channels to the backend",
	Long:  "Bridges enabled chat channels to the backend, one conversation per chat, and serves health and readiness endpoints. Every chat starts in the configured region unless --region overrides it.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if err := applyGatewayFlags(cfg, gatewayRegion, gatewayHost, gatewayPort); err != nil {
			fmt.Println(err)
			return
		}

		appLogger, closeLog, err := logger.New(cfg.Logging, logger.Options{
			Command: "gateway",
			Backend: cfg.Backend.MessageURL(),
		})
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closeLog.Close()
		slog.SetDefault(appLogger)
		log := appLogger.With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(runCtx, cfg, adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"region", cfg.Conversation.Region,
			"poll_interval_ms", cfg.Conversation.PollIntervalMS,
			"max_polls", cfg.Conversation.MaxPolls,
			"status_address", gateway.StatusAddress(cfg.Gateway),
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway stopped", "error", err)
		}
	},
}

func init() {
	gatewayCmd.Flags().StringVarP(&gatewayRegion, "region", "r", "", "region every new chat starts in")
	gatewayCmd.Flags().StringVar(&gatewayHost, "host", "", "status server bind host")
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 0, "status server port")
	rootCmd.AddCommand(gatewayCmd)
}

// applyGatewayFlags layers command-line overrides onto the loaded config.
// Empty values keep the config.
func applyGatewayFlags(cfg *config.Config, region, host string, port int) error {
	if err := applyRegionFlag(cfg, region); err != nil {
		return err
	}

	if host = strings.TrimSpace(host); host != "" {
		cfg.Gateway.Host = host
	}

	switch {
	case port == 0:
	case port < 0 || port > 65535:
		return fmt.Errorf("invalid --port %d: must be between 1 and 65535", port)
	default:
		cfg.Gateway.Port = port
	}

	return nil
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	var adapters []channel.Adapter

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
