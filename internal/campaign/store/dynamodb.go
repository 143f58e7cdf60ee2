package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"followup-dispatcher/internal/campaign"
)

type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDB reads campaign records from a single-table layout: every record
// of a campaign shares the partition key <prefix><campaign> and is sorted by
// email.
type DynamoDB struct {
	client DynamoDBAPI
	table  string
	pk     string
}

func NewDynamoDB(client DynamoDBAPI, table, keyPrefix, campaignID string) *DynamoDB {
	return &DynamoDB{client: client, table: table, pk: keyPrefix + campaignID}
}

// ListApplications pages through the partition until no continuation key
// remains. Any page failure fails the whole listing.
func (d *DynamoDB) ListApplications(ctx context.Context) ([]campaign.ApplicationRecord, error) {
	var (
		records []campaign.ApplicationRecord
		startAt map[string]types.AttributeValue
	)
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(d.table),
			KeyConditionExpression:    aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: d.pk}},
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         startAt,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", d.pk, err)
		}
		for _, item := range out.Items {
			records = append(records, recordFromItem(item))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startAt = out.LastEvaluatedKey
	}
}

// MarkStageSent sets email2Sent or email3Sent. The write is conditional on
// the attribute being absent; a failed condition means it is already marked.
func (d *DynamoDB) MarkStageSent(ctx context.Context, email string, stage campaign.Stage, at time.Time) error {
	attr, err := markerAttribute(stage)
	if err != nil {
		return err
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: d.pk},
			"sk": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression:          aws.String("SET #m = :ts"),
		ConditionExpression:       aws.String("attribute_exists(pk) AND attribute_not_exists(#m)"),
		ExpressionAttributeNames:  map[string]string{"#m": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":ts": &types.AttributeValueMemberS{Value: FormatMarker(at)}},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", attr, err)
	}
	return nil
}

func markerAttribute(stage campaign.Stage) (string, error) {
	switch stage {
	case campaign.Stage2:
		return "email2Sent", nil
	case campaign.Stage3:
		return "email3Sent", nil
	default:
		return "", fmt.Errorf("unknown stage %d", stage)
	}
}

func recordFromItem(item map[string]types.AttributeValue) campaign.ApplicationRecord {
	email := stringAttr(item, "email")
	if email == "" {
		email = stringAttr(item, "sk")
	}
	return campaign.ApplicationRecord{
		Email:        email,
		Name:         stringAttr(item, "name"),
		Website:      stringAttr(item, "website"),
		LinkedIn:     stringAttr(item, "linkedin"),
		Assistance:   stringAttr(item, "assistance"),
		Applied:      timeAttr(item, "applied"),
		Stage2SentAt: timeAttr(item, "email2Sent"),
		Stage3SentAt: timeAttr(item, "email3Sent"),
	}
}

// stringAttr reads a string or number attribute; assistance tiers are
// sometimes stored as numbers.
func stringAttr(item map[string]types.AttributeValue, name string) string {
	switch v := item[name].(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

// timeAttr reads a timestamp attribute. Numeric values are epoch
// milliseconds and are rewritten in the marker layout.
func timeAttr(item map[string]types.AttributeValue, name string) string {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return stringAttr(item, name)
	}
	ms, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(n.Value, 64)
		if ferr != nil {
			return n.Value
		}
		ms = int64(f)
	}
	return FormatMarker(time.UnixMilli(ms))
}
