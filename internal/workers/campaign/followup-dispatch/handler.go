package followupdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"followup-dispatcher/internal/campaign"
	apperrors "followup-dispatcher/internal/common/errors"
	"followup-dispatcher/internal/common/logger"
	"followup-dispatcher/internal/common/metrics"
)

const (
	TaskType = "followup-dispatch"
)

type Runner interface {
	Run(ctx context.Context) (*campaign.RunReport, error)
}

// RunObserver is told about every run the worker performs.
type RunObserver func(ctx context.Context, report *campaign.RunReport, err error)

type Handler struct {
	config       *Config
	runner       Runner
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
	observe      RunObserver
}

func NewHandler(config *Config, runner Runner, log logger.Logger, observe RunObserver) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
		observe:      observe,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
		"retries":     job.Retries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	result, err := Activity.ValidateInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, apperrors.NewConfigInvalidError(fmt.Sprintf("parse job variables: %v", err)))
		return
	}
	if !result.Valid {
		h.fail(ctx, client, job, apperrors.NewConfigInvalidError("invalid job variables: "+result.Summary()))
		return
	}

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.fail(ctx, client, job, apperrors.NewConfigInvalidError(fmt.Sprintf("parse job variables: %v", err)))
			return
		}
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":   job.Key,
		"status":   output.Status,
		"duration": time.Since(start).String(),
	})
}

// Execute runs one dispatch pass and shapes the report as job output.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.CampaignID != "" && input.CampaignID != h.config.CampaignID {
		return nil, apperrors.NewConfigInvalidError(
			fmt.Sprintf("job targets campaign %q but worker serves %q", input.CampaignID, h.config.CampaignID))
	}

	report, err := h.runner.Run(ctx)
	if h.observe != nil {
		h.observe(ctx, report, err)
	}
	if err != nil {
		return nil, err
	}
	return buildOutput(report), nil
}

func buildOutput(report *campaign.RunReport) *Output {
	out := &Output{
		RunID:        report.RunID,
		Status:       StatusCompleted,
		Records:      report.Records,
		Stage2Sent:   report.Stage2Sent,
		Stage3Sent:   report.Stage3Sent,
		Deduplicated: report.Deduplicated,
		Failures:     len(report.Failures),
		FinishedAt:   report.FinishedAt.UTC().Format(time.RFC3339),
	}
	if len(report.Failures) > 0 {
		out.Status = StatusCompletedWithFailures
		seen := make(map[string]bool)
		for _, f := range report.Failures {
			if !seen[f.Code] {
				seen[f.Code] = true
				out.FailureCodes = append(out.FailureCodes, f.Code)
			}
		}
		sort.Strings(out.FailureCodes)
	}
	return out
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
