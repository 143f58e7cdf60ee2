package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"followup-dispatcher/internal/common/camunda"
	"followup-dispatcher/internal/common/config"
	"followup-dispatcher/internal/common/logger"
	fd "followup-dispatcher/internal/workers/campaign/followup-dispatch"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err
	l.log.Error("cron: "+msg, fields)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// newScheduler registers job on schedule. Runs never overlap: a tick that
// fires while the previous run is active is skipped.
func newScheduler(schedule string, job func(), log logger.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, job); err != nil {
		return nil, fmt.Errorf("invalid campaign.schedule %q: %w", schedule, err)
	}
	return c, nil
}

func serveCron(ctx context.Context, cfg *config.Config, svc *runService, log logger.Logger) error {
	sched, err := newScheduler(cfg.Campaign.Schedule, func() {
		_, _ = svc.runOnce(ctx, config.TriggerCron)
	}, log)
	if err != nil {
		return err
	}

	srv := newHealthServer(cfg.App.HTTPListen, log)
	srv.start()

	sched.Start()
	srv.markReady()
	log.Info("cron trigger scheduled", map[string]interface{}{"schedule": cfg.Campaign.Schedule})

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for active run", nil)

	stopped := sched.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn("active run did not finish before shutdown timeout", nil)
	}
	return srv.shutdown()
}

func serveCamunda(ctx context.Context, cfg *config.Config, svc *runService, log logger.Logger) error {
	client, err := camunda.NewClient(ctx, camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("Zeebe client connected successfully", map[string]interface{}{"broker": cfg.Camunda.BrokerAddress})

	wcfg := fd.LoadConfig(cfg)
	handler := fd.NewHandler(wcfg, svc.dispatcher, log, svc.observe(config.TriggerCamunda))
	w := camunda.OpenWorker(client, camunda.WorkerOptions{
		TaskType:      fd.TaskType,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       wcfg.Timeout,
	}, handler, log)

	srv := newHealthServer(cfg.App.HTTPListen, log)
	if err := srv.publishActivities(fd.Registry()); err != nil {
		w.Close()
		return err
	}
	srv.start()
	srv.markReady()

	<-ctx.Done()
	log.Info("shutdown signal received, stopping worker", nil)
	w.Close()
	return srv.shutdown()
}
