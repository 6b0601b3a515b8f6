package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const tokenTTL = 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoTokenStore claims dispatch tokens with a conditional put. Items
// carry a TTL so the table does not grow without bound.
type DynamoTokenStore struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoTokenStore builds a store backed by the provided DynamoDB client.
func NewDynamoTokenStore(client dynamoAPI, tableName string) *DynamoTokenStore {
	if client == nil {
		panic("dispatch: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("dispatch: table name cannot be empty")
	}
	return &DynamoTokenStore{
		client:    client,
		tableName: tableName,
	}
}

// Claim puts the token item, returning false when it already exists.
func (s *DynamoTokenStore) Claim(ctx context.Context, token string) (bool, error) {
	now := time.Now().UTC()
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"token":     &types.AttributeValueMemberS{Value: token},
			"claimedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"expiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(tokenTTL).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#t)"),
		ExpressionAttributeNames: map[string]string{
			"#t": "token",
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: claim token: %w", err)
	}
	return true, nil
}
