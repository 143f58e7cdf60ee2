package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"

	"followup-dispatcher/internal/campaign"
	"followup-dispatcher/internal/campaign/audit"
	"followup-dispatcher/internal/campaign/dedupe"
	"followup-dispatcher/internal/campaign/store"
	awsx "followup-dispatcher/internal/common/aws"
	"followup-dispatcher/internal/common/config"
	"followup-dispatcher/internal/common/database"
	"followup-dispatcher/internal/common/logger"
	"followup-dispatcher/internal/common/observability"
)

// runService runs the dispatcher under a timeout and reports each outcome.
type runService struct {
	dispatcher *campaign.Dispatcher
	timeout    time.Duration
	obs        *observability.Observability
	alerter    *awsx.RunAlerter
	log        logger.Logger
}

func (s *runService) runOnce(ctx context.Context, trigger string) (*campaign.RunReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.dispatcher.Run(ctx)
	s.observe(trigger)(ctx, report, err)
	return report, err
}

// observe returns the callback that records metrics and alerts for a run.
func (s *runService) observe(trigger string) func(context.Context, *campaign.RunReport, error) {
	return func(ctx context.Context, report *campaign.RunReport, err error) {
		status := "completed"
		var duration time.Duration
		if report != nil {
			duration = report.FinishedAt.Sub(report.StartedAt)
			if len(report.Failures) > 0 {
				status = "completed_with_failures"
			}
		}
		if err != nil {
			status = "failed"
		}
		s.obs.RecordRun(ctx, trigger, status, duration)

		if s.alerter == nil {
			return
		}
		alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if aerr := s.alerter.Notify(alertCtx, report, err); aerr != nil {
			s.log.Warn("failed to publish run alert", map[string]interface{}{"error": aerr})
		}
	}
}

// buildService connects every backend the configuration enables and wires
// the dispatcher. The returned cleanup closes them.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger, obs *observability.Observability) (*runService, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	awsCfg, err := awsx.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, cleanup, fmt.Errorf("load AWS config: %w", err)
	}

	recordStore, closeStore, err := buildStore(ctx, cfg, awsCfg, log)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeStore)

	var transport campaign.Transport = awsx.NewSESTransport(awsCfg, cfg.AWS.SES.ConfigurationSet)

	if cfg.Database.Redis.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(ctx, func() error {
			return rc.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			_ = rc.Close()
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = rc.Close() })
		ttl := time.Duration(cfg.Database.Redis.DedupeTTLHours) * time.Hour
		transport = dedupe.NewTransport(transport, rc.Client, ttl, log.WithFields(map[string]interface{}{"component": "dedupe"}))
		log.Info("Redis connected successfully", map[string]interface{}{"dedupeTTL": ttl.String()})
	}

	var auditSink campaign.AuditSink
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return nil, cleanup, err
		}
		auditSink = audit.NewSink(esClient.Client, cfg.Database.Elasticsearch.Index)
		log.Info("Elasticsearch connected successfully", map[string]interface{}{"index": cfg.Database.Elasticsearch.Index})
	}

	var alerter *awsx.RunAlerter
	if cfg.AWS.SNS.TopicARN != "" {
		alerter = awsx.NewRunAlerter(awsCfg, cfg.AWS.SNS.TopicARN)
	}

	tiers, err := campaign.LoadTierTable(cfg.Campaign.TiersFile)
	if err != nil {
		return nil, cleanup, err
	}

	policy, err := campaign.ParseStage3Policy(cfg.Campaign.Stage3Policy)
	if err != nil {
		return nil, cleanup, err
	}

	c := cfg.Campaign
	dispatcher, err := campaign.NewDispatcher(campaign.Options{
		Campaign:  c.ID,
		Store:     recordStore,
		Transport: transport,
		Templates: campaign.NewFileTemplateSource(c.TemplateDir, map[campaign.Stage]string{
			campaign.Stage2: c.Stage2Subject,
			campaign.Stage3: c.Stage3Subject,
		}, c.CacheTemplates),
		Tiers: tiers,
		Evaluator: campaign.Evaluator{
			Policy:             policy,
			Stage2After:        c.Stage2AfterDays,
			Stage3AfterStage2:  c.Stage3AfterStage2Days,
			Stage3AfterApplied: c.Stage3AfterAppliedDays,
		},
		Renderer: &campaign.Renderer{
			List:           c.List,
			UnsubscribeURL: c.UnsubscribeURL,
			DeadlineDays:   c.DeadlineDays,
			Anchor:         campaign.ParseDeadlineAnchor(c.DeadlineAnchor),
		},
		Sender: campaign.Sender{
			From:    c.FromAddress,
			ReplyTo: c.ReplyTo,
			BCC:     splitAddresses(c.BCC),
		},
		Audit:         auditSink,
		Logger:        log,
		SendsPerPause: c.SendsPerPause,
		Pause:         config.GetDuration(c.PauseMillis),
	})
	if err != nil {
		return nil, cleanup, err
	}

	return &runService{
		dispatcher: dispatcher,
		timeout:    config.GetDuration(c.RunTimeout),
		obs:        obs,
		alerter:    alerter,
		log:        log,
	}, cleanup, nil
}

func buildStore(ctx context.Context, cfg *config.Config, awsCfg awsv2.Config, log logger.Logger) (campaign.RecordStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverDynamoDB:
		client := database.NewDynamoDB(awsCfg, cfg.Store.DynamoDB)
		log.Info("using DynamoDB record store", map[string]interface{}{"table": cfg.Store.DynamoDB.Table})
		return store.NewDynamoDB(client, cfg.Store.DynamoDB.Table, cfg.Store.DynamoDB.KeyPrefix, cfg.Campaign.ID), func() {}, nil

	default:
		var pg *database.PostgresClient
		err := retryWithBackoff(ctx, func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return nil, func() {}, err
		}
		if err := pg.EnsureApplicationsTable(ctx, cfg.Store.PostgresTable); err != nil {
			_ = pg.Close()
			return nil, func() {}, err
		}
		log.Info("PostgreSQL connected successfully", map[string]interface{}{"table": cfg.Store.PostgresTable})
		return store.NewPostgres(pg.DB, cfg.Store.PostgresTable, cfg.Campaign.ID), func() { _ = pg.Close() }, nil
	}
}

func splitAddresses(list string) []string {
	var out []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
