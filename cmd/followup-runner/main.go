package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"followup-dispatcher/internal/common/config"
	"followup-dispatcher/internal/common/logger"
	"followup-dispatcher/internal/common/observability"
)

func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("FOLLOWUP_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Error("config load failed", zap.Error(err))
		_ = bootLog.Sync()
		return 2
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"trigger": cfg.App.Trigger,
	})

	log.Info("starting follow-up dispatcher", map[string]interface{}{
		"campaign": cfg.Campaign.ID,
		"store":    cfg.Store.Driver,
		"policy":   cfg.Campaign.Stage3Policy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.Observability.ServiceName, log)
	tracing, err := observability.InitTracing(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint, cfg.App.Version, log)
	if err != nil {
		log.Warn("tracing disabled", map[string]interface{}{"error": err})
	} else {
		obs.WithTracing(tracing)
	}
	defer obs.Shutdown()

	svc, cleanup, err := buildService(ctx, cfg, log, obs)
	if err != nil {
		log.Error("failed to initialise dispatcher", map[string]interface{}{"error": err})
		return 1
	}
	defer cleanup()

	switch cfg.App.Trigger {
	case config.TriggerOnce:
		if _, err := svc.runOnce(ctx, config.TriggerOnce); err != nil {
			return 1
		}
		return 0
	case config.TriggerCron:
		err = serveCron(ctx, cfg, svc, log)
	case config.TriggerCamunda:
		err = serveCamunda(ctx, cfg, svc, log)
	}
	if err != nil {
		log.Error("trigger failed", map[string]interface{}{"error": err})
		return 1
	}

	log.Info("follow-up dispatcher stopped gracefully", nil)
	return 0
}
