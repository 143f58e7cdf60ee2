// internal/common/aws/ses.go
package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"followup-dispatcher/internal/campaign"
)

const charset = "UTF-8"

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport delivers campaign messages through SES.
type SESTransport struct {
	client           SESService
	configurationSet string
	now              func() time.Time
}

// LoadConfig resolves credentials from the default AWS chain.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

func NewSESTransport(cfg aws.Config, configurationSet string) *SESTransport {
	return NewSESTransportWithClient(ses.NewFromConfig(cfg), configurationSet)
}

func NewSESTransportWithClient(client SESService, configurationSet string) *SESTransport {
	return &SESTransport{client: client, configurationSet: configurationSet, now: time.Now}
}

func (t *SESTransport) Send(ctx context.Context, msg campaign.Message) (campaign.Receipt, error) {
	out, err := t.client.SendEmail(ctx, buildSendEmailInput(msg, t.configurationSet))
	if err != nil {
		return campaign.Receipt{}, err
	}
	return campaign.Receipt{MessageID: aws.ToString(out.MessageId), SentAt: t.now().UTC()}, nil
}

func buildSendEmailInput(msg campaign.Message, configurationSet string) *ses.SendEmailInput {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Charset: aws.String(charset), Data: aws.String(msg.HTML)}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Charset: aws.String(charset), Data: aws.String(msg.Text)}
	}

	input := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses:  []string{msg.To},
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String(charset), Data: aws.String(msg.Subject)},
			Body:    body,
		},
		Source: aws.String(msg.From),
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if configurationSet != "" {
		input.ConfigurationSetName = aws.String(configurationSet)
	}
	for _, name := range []string{"campaign", "stage"} {
		if v := msg.Tags[name]; v != "" {
			input.Tags = append(input.Tags, types.MessageTag{Name: aws.String(name), Value: aws.String(v)})
		}
	}
	return input
}
