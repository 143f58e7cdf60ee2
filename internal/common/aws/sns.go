// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"followup-dispatcher/internal/campaign"
)

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// RunAlerter publishes run summaries and fatal run errors to an SNS topic.
type RunAlerter struct {
	client   SNSService
	topicARN string
}

func NewRunAlerter(cfg aws.Config, topicARN string) *RunAlerter {
	return NewRunAlerterWithClient(sns.NewFromConfig(cfg), topicARN)
}

func NewRunAlerterWithClient(client SNSService, topicARN string) *RunAlerter {
	return &RunAlerter{client: client, topicARN: topicARN}
}

type runAlert struct {
	Event  string              `json:"event"`
	Error  string              `json:"error,omitempty"`
	Report *campaign.RunReport `json:"report,omitempty"`
}

// Notify publishes the outcome of a run. Runs that finished cleanly with no
// failures are not published.
func (a *RunAlerter) Notify(ctx context.Context, report *campaign.RunReport, runErr error) error {
	alert := runAlert{Event: "run_completed_with_failures", Report: report}
	switch {
	case runErr != nil:
		alert.Event = "run_failed"
		alert.Error = runErr.Error()
	case report == nil || len(report.Failures) == 0:
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := "Follow-up run failed"
	event := alert.Event
	if runErr == nil {
		subject = fmt.Sprintf("Follow-up run finished with %d failures", len(report.Failures))
	}

	_, err = a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(event)},
		},
	})
	return err
}
