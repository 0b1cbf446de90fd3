// Package dedup implements the at-most-once inbound-message guard (C2):
// a TTL-backed DynamoDB table keyed by (tenant, platform message id) that
// lets the chat-platform webhook ignore a retried delivery.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

const defaultTTL = 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// record is the persisted shape of a claimed message id.
type record struct {
	Key       string `dynamodbav:"messageKey"`
	TenantID  string `dynamodbav:"tenantId"`
	MessageID string `dynamodbav:"messageId"`
	ClaimedAt string `dynamodbav:"claimedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// Store claims inbound platform message ids, grounded on the teacher's
// internal/conversation.JobStore conditional-put pattern, generalized from
// job records to a single-purpose claim table.
type Store struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
}

// New builds a Store backed by the given DynamoDB client and table.
func New(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("dedup: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("dedup: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, ttl: defaultTTL, logger: logger}
}

// WithTTL overrides the default 24h retention window.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.ttl = ttl
	return s
}

// Claim attempts to atomically record (tenantID, messageID) as processed.
// It returns (true, nil) the first time a message id is seen, and
// (false, nil) on every subsequent delivery of the same id — the caller
// must treat false as "already handled, drop silently" per spec §4.2.
//
// On any DynamoDB error other than a failed condition check, Claim fails
// open: it returns (true, err) so the webhook still processes the message
// rather than silently dropping traffic because the dedup table is
// unavailable. Callers must log err and proceed.
func (s *Store) Claim(ctx context.Context, tenantID, messageID string) (bool, error) {
	if tenantID == "" || messageID == "" {
		return false, errors.New("dedup: tenantID and messageID required")
	}
	now := time.Now().UTC()
	rec := record{
		Key:       key(tenantID, messageID),
		TenantID:  tenantID,
		MessageID: messageID,
		ClaimedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return true, fmt.Errorf("dedup: marshal claim: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(messageKey)"),
	})
	if err == nil {
		return true, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return false, nil
	}

	s.logger.Error("dedup: claim failed, failing open", "error", err, "tenant_id", tenantID)
	return true, fmt.Errorf("dedup: put claim: %w", err)
}

func key(tenantID, messageID string) string {
	return tenantID + "#" + messageID
}
