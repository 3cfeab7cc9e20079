package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/smsotp/internal/models"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client the OTP repository uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoOTPRepository keeps one item per phone number in a single table keyed
// by PK=OTP#<phone>, SK=METADATA. The TTL attribute lets DynamoDB reap items
// once the retention window after expiry has passed.
type DynamoOTPRepository struct {
	client    DynamoDBAPI
	tableName string
	retention time.Duration
	logger    *logrus.Logger
}

func NewDynamoOTPRepository(client DynamoDBAPI, tableName string, retention time.Duration, logger *logrus.Logger) *DynamoOTPRepository {
	return &DynamoOTPRepository{
		client:    client,
		tableName: tableName,
		retention: retention,
		logger:    logger,
	}
}

func otpKey(phoneNumber string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "OTP#" + phoneNumber},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func (r *DynamoOTPRepository) Save(ctx context.Context, record *models.OTPRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	for k, v := range otpKey(record.Phone) {
		item[k] = v
	}
	item["TTL"] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(record.ExpiresAt.Add(r.retention).Unix(), 10),
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *DynamoOTPRepository) Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            otpKey(phoneNumber),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get OTP from DynamoDB")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if len(result.Item) == 0 {
		return nil, ErrOTPNotFound
	}

	var record models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
	}

	return &record, nil
}

// DeleteIfMatch deletes the item only while its code_hash still equals
// codeHash. A missing or replaced item fails the condition and is reported as
// not removed.
func (r *DynamoOTPRepository) DeleteIfMatch(ctx context.Context, phoneNumber, codeHash string) (bool, error) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 otpKey(phoneNumber),
		ConditionExpression: aws.String("code_hash = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: codeHash},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			r.logger.WithField("table", r.tableName).Error("OTP table does not exist")
		}
		return false, fmt.Errorf("failed to delete OTP: %w", err)
	}

	return true, nil
}
