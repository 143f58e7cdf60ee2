package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "followup-dispatcher/internal/common/errors"
	"followup-dispatcher/internal/common/logger"
	"followup-dispatcher/internal/common/metrics"
)

const tracerName = "followup-dispatcher/campaign"

// Sender is the envelope identity used for every campaign message.
type Sender struct {
	From    string
	ReplyTo string
	BCC     []string
}

// Options wires a Dispatcher. Store, Transport, Templates, Tiers and
// Renderer are required.
type Options struct {
	Campaign  string
	Store     RecordStore
	Transport Transport
	Templates TemplateSource
	Tiers     *TierTable
	Evaluator Evaluator
	Renderer  *Renderer
	Sender    Sender
	Audit     AuditSink
	Logger    logger.Logger

	// SendsPerPause and Pause configure the per-stage throttle.
	SendsPerPause int
	Pause         time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error

	Now      func() time.Time
	NewRunID func() string
}

// Dispatcher runs the follow-up campaign over every record of the store.
// It is not safe for concurrent Runs; each trigger runs it sequentially.
type Dispatcher struct {
	campaign  string
	store     RecordStore
	transport Transport
	templates TemplateSource
	tiers     *TierTable
	evaluator Evaluator
	renderer  *Renderer
	sender    Sender
	audit     AuditSink
	logger    logger.Logger

	sendsPerPause int
	pause         time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	now      func() time.Time
	newRunID func() string
	tracer   trace.Tracer
}

// NewDispatcher validates opts and builds a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("record store is required")
	case opts.Transport == nil:
		return nil, fmt.Errorf("transport is required")
	case opts.Templates == nil:
		return nil, fmt.Errorf("template source is required")
	case opts.Tiers == nil:
		return nil, fmt.Errorf("tier table is required")
	case opts.Renderer == nil:
		return nil, fmt.Errorf("renderer is required")
	case opts.Sender.From == "":
		return nil, fmt.Errorf("sender address is required")
	}

	d := &Dispatcher{
		campaign:      opts.Campaign,
		store:         opts.Store,
		transport:     opts.Transport,
		templates:     opts.Templates,
		tiers:         opts.Tiers,
		evaluator:     opts.Evaluator,
		renderer:      opts.Renderer,
		sender:        opts.Sender,
		audit:         opts.Audit,
		logger:        opts.Logger,
		sendsPerPause: opts.SendsPerPause,
		pause:         opts.Pause,
		sleep:         opts.Sleep,
		now:           opts.Now,
		newRunID:      opts.NewRunID,
		tracer:        otel.Tracer(tracerName),
	}
	if d.logger == nil {
		d.logger = logger.NewNoOpLogger()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newRunID == nil {
		d.newRunID = func() string { return uuid.New().String() }
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	d.logger = d.logger.WithFields(map[string]interface{}{"campaign": d.campaign})
	return d, nil
}

// Run processes the whole campaign once. Only a failure to obtain the record
// list is returned as an error (RECORD_FETCH_FAILED); per-record failures
// are logged and listed in the report. If ctx ends mid-run the partial
// report is returned with the context error.
func (d *Dispatcher) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     d.newRunID(),
		Campaign:  d.campaign,
		StartedAt: d.now(),
	}
	log := d.logger.WithFields(map[string]interface{}{"runId": report.RunID})

	ctx, span := d.tracer.Start(ctx, "followup.run", trace.WithAttributes(
		attribute.String("campaign", d.campaign),
		attribute.String("run.id", report.RunID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.RunDuration.WithLabelValues(d.campaign).Observe(time.Since(start).Seconds())
	}()

	records, err := d.store.ListApplications(ctx)
	if err != nil {
		fatal := apperrors.NewRecordFetchFailedError(d.campaign, err)
		log.Error("failed to fetch campaign records", map[string]interface{}{
			"error":     err,
			"errorCode": string(fatal.Code),
		})
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Message)
		metrics.RunsTotal.WithLabelValues(d.campaign, "failed").Inc()
		report.FinishedAt = d.now()
		return report, fatal
	}

	report.Records = len(records)
	log.Info("found applications", map[string]interface{}{"count": len(records)})

	throttle := &Throttle{Limit: d.sendsPerPause, Pause: d.pause, Sleep: d.sleep}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return d.abort(report, span, log, err)
		}
		if err := d.processRecord(ctx, report, throttle, rec, log); err != nil {
			return d.abort(report, span, log, err)
		}
	}

	report.FinishedAt = d.now()
	span.SetAttributes(
		attribute.Int("sent.stage2", report.Stage2Sent),
		attribute.Int("sent.stage3", report.Stage3Sent),
		attribute.Int("failures", len(report.Failures)),
	)
	metrics.RunsTotal.WithLabelValues(d.campaign, "completed").Inc()
	log.Info("run finished", map[string]interface{}{
		"stage2Sent":   report.Stage2Sent,
		"stage3Sent":   report.Stage3Sent,
		"deduplicated": report.Deduplicated,
		"failures":     len(report.Failures),
		"pauses":       report.Pauses,
	})
	return report, nil
}

func (d *Dispatcher) abort(report *RunReport, span trace.Span, log logger.Logger, err error) (*RunReport, error) {
	report.FinishedAt = d.now()
	span.RecordError(err)
	span.SetStatus(codes.Error, "run interrupted")
	metrics.RunsTotal.WithLabelValues(d.campaign, "interrupted").Inc()
	log.Warn("run interrupted", map[string]interface{}{
		"error":      err,
		"stage2Sent": report.Stage2Sent,
		"stage3Sent": report.Stage3Sent,
	})
	return report, err
}

// processRecord evaluates one record and dispatches its due stages. The
// returned error is only ever a context error from the throttle pause.
func (d *Dispatcher) processRecord(ctx context.Context, report *RunReport, throttle *Throttle, rec ApplicationRecord, log logger.Logger) error {
	log = log.WithFields(map[string]interface{}{"email": rec.Email})
	now := d.now()

	due, err := d.evaluator.Evaluate(rec, now)
	if err != nil {
		d.recordFailure(ctx, report, rec, "evaluate", err, log)
		return nil
	}
	if applied, perr := ParseTimestamp(rec.Applied); perr == nil {
		log.Debug("processing application", map[string]interface{}{
			"daysSinceApplication": ElapsedDays(applied, now),
			"stage2Due":            due.Stage2,
			"stage3Due":            due.Stage3,
		})
	}

	for _, stage := range Stages {
		if !due.Has(stage) {
			continue
		}

		receipt, err := d.dispatch(ctx, report.RunID, rec, stage)
		delivered := err == nil || apperrors.CodeOf(err) == apperrors.ErrCodeMarkerUpdateFailed

		if err != nil {
			d.recordFailure(ctx, report, rec, stage.String(), err, log)
		} else {
			d.recordSuccess(ctx, report, rec, stage, receipt, log)
		}

		if delivered && !receipt.Deduplicated {
			paused, perr := throttle.Sent(ctx, stage)
			if paused {
				report.Pauses++
				metrics.RateLimitPauses.WithLabelValues(stage.String()).Inc()
				log.Info("rate limiting, pausing", map[string]interface{}{
					"stage": stage.String(),
					"sent":  throttle.Count(stage),
					"pause": d.pause.String(),
				})
			}
			if perr != nil {
				return perr
			}
		}
	}
	return nil
}

// dispatch runs tier lookup, render, send and mark for one due stage.
func (d *Dispatcher) dispatch(ctx context.Context, runID string, rec ApplicationRecord, stage Stage) (Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "followup.dispatch", trace.WithAttributes(
		attribute.String("stage", stage.String()),
		attribute.String("tier", rec.Assistance),
	))
	defer span.End()

	receipt, err := d.send(ctx, runID, rec, stage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
	}
	return receipt, err
}

func (d *Dispatcher) send(ctx context.Context, runID string, rec ApplicationRecord, stage Stage) (Receipt, error) {
	pricing, err := d.tiers.Lookup(rec.Assistance)
	if err != nil {
		return Receipt{}, err
	}

	set, err := d.templates.Load(stage)
	if err != nil {
		return Receipt{}, apperrors.Normalize(err)
	}

	rendered := d.renderer.RenderMessage(set, RenderContext{Record: rec, Pricing: pricing, Stage: stage})
	if rendered.Subject == "" || (rendered.HTMLBody == "" && rendered.TextBody == "") {
		return Receipt{}, apperrors.NewTemplateRenderFailedError(
			fmt.Sprintf("%s rendered an empty subject or body", stage.Edition()))
	}

	receipt, err := d.transport.Send(ctx, Message{
		To:      rec.Email,
		From:    d.sender.From,
		ReplyTo: d.sender.ReplyTo,
		BCC:     d.sender.BCC,
		Subject: rendered.Subject,
		HTML:    rendered.HTMLBody,
		Text:    rendered.TextBody,
		Tags: map[string]string{
			"campaign": d.campaign,
			"stage":    stage.String(),
			"email":    rec.Email,
			"runId":    runID,
		},
	})
	if err != nil {
		return Receipt{}, apperrors.NewNotificationSendFailedError(stage.String(), err)
	}

	if err := d.store.MarkStageSent(ctx, rec.Email, stage, d.now()); err != nil {
		return receipt, apperrors.NewMarkerUpdateFailedError(stage.String(), err)
	}
	return receipt, nil
}

func (d *Dispatcher) recordSuccess(ctx context.Context, report *RunReport, rec ApplicationRecord, stage Stage, receipt Receipt, log logger.Logger) {
	status := StatusSent
	if receipt.Deduplicated {
		status = StatusDeduplicated
		report.Deduplicated++
		metrics.NotificationsDeduplicated.WithLabelValues(stage.String()).Inc()
		log.Info("stage already delivered, marker repaired", map[string]interface{}{"stage": stage.String()})
	} else {
		report.addSent(stage)
		metrics.NotificationsSent.WithLabelValues(stage.String()).Inc()
		log.Info("notification sent", map[string]interface{}{
			"stage":     stage.String(),
			"messageId": receipt.MessageID,
		})
	}

	d.recordAttempt(ctx, log, Attempt{
		RunID:       report.RunID,
		Campaign:    d.campaign,
		Email:       rec.Email,
		Stage:       stage.String(),
		Status:      status,
		MessageID:   receipt.MessageID,
		AttemptedAt: d.now(),
	})
}

func (d *Dispatcher) recordFailure(ctx context.Context, report *RunReport, rec ApplicationRecord, stage string, err error, log logger.Logger) {
	stdErr := apperrors.Normalize(err)
	report.Failures = append(report.Failures, Failure{
		Email:   rec.Email,
		Stage:   stage,
		Code:    string(stdErr.Code),
		Message: stdErr.Error(),
	})
	metrics.NotificationsFailed.WithLabelValues(stage, string(stdErr.Code)).Inc()
	log.Error("failed to dispatch follow-up", map[string]interface{}{
		"stage":         stage,
		"errorCode":     string(stdErr.Code),
		"errorCategory": apperrors.GetErrorCategory(stdErr.Code),
		"error":         stdErr.Error(),
		"tier":          rec.Assistance,
	})

	d.recordAttempt(ctx, log, Attempt{
		RunID:       report.RunID,
		Campaign:    d.campaign,
		Email:       rec.Email,
		Stage:       stage,
		Status:      StatusFailed,
		ErrorCode:   string(stdErr.Code),
		Error:       stdErr.Error(),
		AttemptedAt: d.now(),
	})
}

func (d *Dispatcher) recordAttempt(ctx context.Context, log logger.Logger, a Attempt) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(ctx, a); err != nil {
		log.Warn("failed to record delivery audit", map[string]interface{}{"error": err, "stage": a.Stage})
	}
}
