package database

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"followup-dispatcher/internal/common/config"
)

// NewDynamoDB builds a client from the shared AWS config. A non-empty
// endpoint points it at a local DynamoDB.
func NewDynamoDB(awsCfg aws.Config, cfg config.DynamoDBConfig) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}
