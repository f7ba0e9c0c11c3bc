// Package idempotency implements the executor's idempotency-key store:
// two calls with the same
// (queue_item_id, draft_id, action_type) tuple within 30 days yield one
// side effect. Uses the same DynamoDB single-table pattern as
// internal/emailconnector, since both need durable, TTL-expiring
// key/value state.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const ttl = 30 * 24 * time.Hour

// ErrReplay is returned by Store.Begin when the key has already been
// recorded; Result carries the prior call's stored result.
var ErrReplay = errors.New("idempotency: replay of prior key")

// Key computes idem_key = hash(queue_item_id, draft_id, action_type).
func Key(queueItemID, draftID, actionType string) string {
	h := sha256.Sum256([]byte(queueItemID + "|" + draftID + "|" + actionType))
	return hex.EncodeToString(h[:])
}

type record struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ResultRaw string `dynamodbav:"result"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// Store persists idempotency keys and their recorded results in DynamoDB,
// using the table's TTL attribute to expire entries after 30 days.
type Store struct {
	ddb       *dynamodb.Client
	tableName string
}

// New creates a Store backed by client/tableName. The table must have a
// TTL attribute named "expires_at" configured (see cmd/server wiring).
func New(client *dynamodb.Client, tableName string) *Store {
	return &Store{ddb: client, tableName: tableName}
}

// Begin attempts to claim key. On first claim it returns (nil, nil) and
// the caller proceeds with the side effect, then calls Complete. On a
// replay within the TTL window it returns (priorResult, ErrReplay) so the
// caller can return the prior result verbatim without repeating the
// side effect.
func (s *Store) Begin(ctx context.Context, key string) (json.RawMessage, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: "IDEMKEY#" + key},
			"SK": &ddbtypes.AttributeValueMemberS{Value: "IDEMKEY"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency begin: %w", err)
	}
	if out.Item != nil {
		var rec record
		if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
			return nil, fmt.Errorf("idempotency begin: %w", err)
		}
		return json.RawMessage(rec.ResultRaw), ErrReplay
	}

	rec := record{
		PK:        "IDEMKEY#" + key,
		SK:        "IDEMKEY",
		ResultRaw: "null",
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("idempotency begin: %w", err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return s.replayAfterRace(ctx, key)
		}
		return nil, fmt.Errorf("idempotency begin: %w", err)
	}
	return nil, nil
}

func (s *Store) replayAfterRace(ctx context.Context, key string) (json.RawMessage, error) {
	prior, err := s.Begin(ctx, key)
	if err != nil && !errors.Is(err, ErrReplay) {
		return nil, err
	}
	return prior, ErrReplay
}

// Complete stores the side effect's result against key so future
// replays within the TTL window return it without re-executing.
func (s *Store) Complete(ctx context.Context, key string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	rec := record{
		PK:        "IDEMKEY#" + key,
		SK:        "IDEMKEY",
		ResultRaw: string(raw),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av})
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}
