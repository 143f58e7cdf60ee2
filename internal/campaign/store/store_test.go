package store

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followup-dispatcher/internal/campaign"
)

var markedAt = time.Date(2026, 3, 2, 9, 30, 0, 123000000, time.UTC)

func TestFormatMarker(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	assert.Equal(t, "2026-03-02T09:30:00.123Z", FormatMarker(markedAt))
	assert.Equal(t, "2026-03-02T17:30:00.123Z", FormatMarker(markedAt.In(loc).Add(8*time.Hour)))
}

// ==========================
// PostgreSQL
// ==========================

func recordColumns() []string {
	return []string{"email", "name", "website", "linkedin", "assistance", "applied_at", "stage2_sent_at", "stage3_sent_at"}
}

func TestPostgres_ListApplications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM campaign_applications WHERE campaign = $1`)).
		WithArgs("ai-accelerator").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`(?s)SELECT email, name, website, linkedin, assistance.*ORDER BY campaign, email`).
		WithArgs("ai-accelerator").
		WillReturnRows(sqlmock.NewRows(recordColumns()).
			AddRow("ada@example.com", "Ada", "ada.dev", "in/ada", "50", "2026-03-01T10:00:00.000Z", nil, nil).
			AddRow("bob@example.com", "Bob", "", "", "0", "2026-02-20T10:00:00.000Z", "2026-02-21T10:00:00.000Z", nil))
	mock.ExpectRollback()

	store := NewPostgres(db, "campaign_applications", "ai-accelerator")
	records, err := store.ListApplications(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ada@example.com", records[0].Email)
	assert.Equal(t, "50", records[0].Assistance)
	assert.Empty(t, records[0].Stage2SentAt)
	assert.Equal(t, "2026-02-21T10:00:00.000Z", records[1].Stage2SentAt)
	assert.Empty(t, records[1].Stage3SentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListApplications_ShortRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT email`).
		WillReturnRows(sqlmock.NewRows(recordColumns()).
			AddRow("ada@example.com", "Ada", "", "", "0", "2026-03-01", nil, nil))
	mock.ExpectRollback()

	store := NewPostgres(db, "campaign_applications", "ai-accelerator")
	records, err := store.ListApplications(context.Background())

	assert.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "read 1 of 3")
}

func TestPostgres_ListApplications_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = NewPostgres(db, "campaign_applications", "ai-accelerator").ListApplications(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkStageSent(t *testing.T) {
	tests := []struct {
		name     string
		stage    campaign.Stage
		column   string
		affected int64
	}{
		{name: "stage 2 marked", stage: campaign.Stage2, column: "stage2_sent_at", affected: 1},
		{name: "stage 3 marked", stage: campaign.Stage3, column: "stage3_sent_at", affected: 1},
		{name: "already marked is a no-op", stage: campaign.Stage2, column: "stage2_sent_at", affected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(
				`UPDATE campaign_applications SET `+tt.column+` = $1 WHERE campaign = $2 AND email = $3 AND `+tt.column+` IS NULL`)).
				WithArgs("2026-03-02T09:30:00.123Z", "ai-accelerator", "ada@example.com").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = NewPostgres(db, "campaign_applications", "ai-accelerator").
				MarkStageSent(context.Background(), "ada@example.com", tt.stage, markedAt)

			assert.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_MarkStageSent_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE campaign_applications`).WillReturnError(errors.New("deadlock detected"))

	err = NewPostgres(db, "campaign_applications", "ai-accelerator").
		MarkStageSent(context.Background(), "ada@example.com", campaign.Stage3, markedAt)
	assert.Error(t, err)
}

// ==========================
// DynamoDB
// ==========================

type MockDynamoDB struct {
	QueryFunc      func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItemFunc func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

func (m *MockDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.QueryFunc(ctx, params, optFns...)
}

func (m *MockDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return m.UpdateItemFunc(ctx, params, optFns...)
}

func item(email, assistance, applied string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":         &types.AttributeValueMemberS{Value: "application#ai-accelerator"},
		"sk":         &types.AttributeValueMemberS{Value: email},
		"email":      &types.AttributeValueMemberS{Value: email},
		"name":       &types.AttributeValueMemberS{Value: "Ada"},
		"assistance": &types.AttributeValueMemberN{Value: assistance},
		"applied":    &types.AttributeValueMemberS{Value: applied},
	}
}

func TestDynamoDB_ListApplications_Paginates(t *testing.T) {
	calls := 0
	mock := &MockDynamoDB{
		QueryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			calls++
			assert.Equal(t, "www.innovationbound.com", aws.ToString(params.TableName))
			pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
			assert.Equal(t, "application#ai-accelerator", pk.Value)

			if calls == 1 {
				assert.Nil(t, params.ExclusiveStartKey)
				return &dynamodb.QueryOutput{
					Items:            []map[string]types.AttributeValue{item("ada@example.com", "50", "2026-03-01T10:00:00.000Z")},
					LastEvaluatedKey: map[string]types.AttributeValue{"sk": &types.AttributeValueMemberS{Value: "ada@example.com"}},
				}, nil
			}
			assert.NotNil(t, params.ExclusiveStartKey)
			second := item("bob@example.com", "75", "2026-02-20T10:00:00.000Z")
			second["email2Sent"] = &types.AttributeValueMemberS{Value: "2026-02-21T10:00:00.000Z"}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{second}}, nil
		},
	}

	store := NewDynamoDB(mock, "www.innovationbound.com", "application#", "ai-accelerator")
	records, err := store.ListApplications(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, records, 2)
	assert.Equal(t, "50", records[0].Assistance)
	assert.Equal(t, "bob@example.com", records[1].Email)
	assert.Equal(t, "2026-02-21T10:00:00.000Z", records[1].Stage2SentAt)
}

func TestDynamoDB_ListApplications_NumericTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	applied := now.Add(-48 * time.Hour)

	rec := item("ada@example.com", "50", "")
	rec["applied"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(applied.UnixMilli(), 10)}
	rec["email2Sent"] = &types.AttributeValueMemberN{Value: "1772445600000.0"}
	mock := &MockDynamoDB{
		QueryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{rec}}, nil
		},
	}

	records, err := NewDynamoDB(mock, "t", "application#", "ai-accelerator").ListApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-03-08T12:00:00.000Z", records[0].Applied)
	assert.Equal(t, "2026-03-02T10:00:00.000Z", records[0].Stage2SentAt)

	delete(rec, "email2Sent")
	records, err = NewDynamoDB(mock, "t", "application#", "ai-accelerator").ListApplications(context.Background())
	require.NoError(t, err)
	due, err := campaign.DefaultEvaluator().Evaluate(records[0], now)
	require.NoError(t, err)
	assert.Equal(t, campaign.Due{Stage2: true}, due)
}

func TestDynamoDB_ListApplications_PageError(t *testing.T) {
	calls := 0
	mock := &MockDynamoDB{
		QueryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("ProvisionedThroughputExceededException")
			}
			return &dynamodb.QueryOutput{
				Items:            []map[string]types.AttributeValue{item("ada@example.com", "0", "2026-03-01")},
				LastEvaluatedKey: map[string]types.AttributeValue{"sk": &types.AttributeValueMemberS{Value: "ada@example.com"}},
			}, nil
		},
	}

	records, err := NewDynamoDB(mock, "t", "application#", "ai-accelerator").ListApplications(context.Background())
	assert.Error(t, err)
	assert.Nil(t, records)
}

func TestDynamoDB_MarkStageSent(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	mock := &MockDynamoDB{
		UpdateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}

	err := NewDynamoDB(mock, "t", "application#", "ai-accelerator").
		MarkStageSent(context.Background(), "ada@example.com", campaign.Stage3, markedAt)

	require.NoError(t, err)
	assert.Equal(t, "email3Sent", captured.ExpressionAttributeNames["#m"])
	assert.Equal(t, "ada@example.com", captured.Key["sk"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2026-03-02T09:30:00.123Z", captured.ExpressionAttributeValues[":ts"].(*types.AttributeValueMemberS).Value)
	assert.Contains(t, aws.ToString(captured.ConditionExpression), "attribute_not_exists(#m)")
}

func TestDynamoDB_MarkStageSent_AlreadyMarked(t *testing.T) {
	mock := &MockDynamoDB{
		UpdateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		},
	}

	err := NewDynamoDB(mock, "t", "application#", "ai-accelerator").
		MarkStageSent(context.Background(), "ada@example.com", campaign.Stage2, markedAt)
	assert.NoError(t, err)
}

func TestDynamoDB_MarkStageSent_Error(t *testing.T) {
	mock := &MockDynamoDB{
		UpdateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("ResourceNotFoundException")
		},
	}

	err := NewDynamoDB(mock, "t", "application#", "ai-accelerator").
		MarkStageSent(context.Background(), "ada@example.com", campaign.Stage2, markedAt)
	assert.Error(t, err)
}
