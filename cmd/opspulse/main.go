package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/alerting"
	"github.com/opspulse/opspulse/pkg/alerts"
	"github.com/opspulse/opspulse/pkg/api"
	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/lifecycle"
	"github.com/opspulse/opspulse/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "/etc/opspulse/opspulse.json", "Path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	defer func() {
		_ = logger.Sync()
	}()

	var cfg config.AppConfig

	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		logger.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	ctx := context.Background()

	registry := prometheus.NewRegistry()

	collector := metrics.NewCollector(metrics.Config{
		BufferSize:    cfg.BufferSize,
		ResetInterval: time.Duration(cfg.ResetInterval),
	}, logger, registry)

	channels, closers, err := buildChannels(ctx, cfg.Channels, logger)
	if err != nil {
		logger.Fatal("failed to build notification channels", zap.Error(err))
	}

	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Error("failed to close channel", zap.Error(err))
			}
		}
	}()

	manager := alerting.NewManager(alerting.Config{
		EvaluationInterval: time.Duration(cfg.EvaluationInterval),
		DispatchTimeout:    time.Duration(cfg.DispatchTimeout),
	}, collector, channels, logger)

	server := api.NewServer(cfg.ListenAddr, collector, collector, manager, registry, logger)

	services := []lifecycle.Service{
		server,
		lifecycle.ServiceFunc(func(ctx context.Context) error {
			collector.Run(ctx)
			return nil
		}),
		managerService{manager: manager},
	}

	if cfg.RuleOverridePath != "" {
		services = append(services, lifecycle.ServiceFunc(func(ctx context.Context) error {
			return manager.WatchOverrides(ctx, cfg.RuleOverridePath)
		}))
	}

	if err := lifecycle.Run(ctx, logger, services...); err != nil {
		logger.Fatal("shutdown with error", zap.Error(err))
	}
}

type managerService struct {
	manager *alerting.Manager
}

func (s managerService) Start(ctx context.Context) error {
	s.manager.Run(ctx)
	return nil
}

func (s managerService) Stop(context.Context) error {
	s.manager.Stop(lifecycle.ShutdownTimeout / 2)
	return nil
}

// buildChannels constructs every configured notification channel. External
// sinks get a circuit breaker so a dead endpoint stops being hammered.
func buildChannels(ctx context.Context, cfg config.ChannelsConfig, logger *zap.Logger) (map[string]alerts.AlertService, []func() error, error) {
	channels := map[string]alerts.AlertService{
		"log": alerts.NewLogAlerter(logger),
	}

	var closers []func() error

	if cfg.Webhook != nil {
		channels["webhook"] = alerts.NewBreakerAlerter("webhook", alerts.NewWebhookAlerter(*cfg.Webhook))
	}

	if cfg.DiscordURL != "" {
		channels["discord"] = alerts.NewBreakerAlerter("discord", alerts.NewDiscordWebhook(cfg.DiscordURL, 0))
	}

	if cfg.Email != nil {
		email, err := alerts.NewEmailAlerter(ctx, *cfg.Email)
		if err != nil {
			return nil, closers, err
		}

		channels["email"] = alerts.NewBreakerAlerter("email", email)
	}

	if cfg.Redis != nil {
		redisChan := alerts.NewRedisAlerter(*cfg.Redis)
		channels["redis"] = alerts.NewBreakerAlerter("redis", redisChan)
		closers = append(closers, redisChan.Close)
	}

	if cfg.Archive != nil {
		archive, err := alerts.NewArchiveAlerter(*cfg.Archive)
		if err != nil {
			return nil, closers, err
		}

		channels["archive"] = archive
		closers = append(closers, archive.Close)
	}

	return channels, closers, nil
}
