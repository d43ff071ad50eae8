package dynamo

import (
	"context"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"time"
)

type sessionItem struct {
	UserID   int64          `dynamodbav:"user_id"`
	WorkerID string         `dynamodbav:"worker_id"`
	LastSeen int64          `dynamodbav:"last_seen"`
	Info     map[string]any `dynamodbav:"info"`
}

type dynamoWorkerStore struct {
	db    API
	table string
}

// NewDynamoWorkerStore creates a WorkerStore over a table keyed by (user_id, worker_id).
func NewDynamoWorkerStore(db API, table string) store.WorkerStore {
	return &dynamoWorkerStore{db: db, table: table}
}

func (s *dynamoWorkerStore) Upsert(ctx context.Context, userID int64, workerID string, info map[string]any, seenAt time.Time) error {
	if info == nil {
		info = map[string]any{}
	}
	item, err := attributevalue.MarshalMap(sessionItem{
		UserID:   userID,
		WorkerID: workerID,
		LastSeen: seenAt.UnixNano(),
		Info:     info,
	})
	if err != nil {
		return err
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("upsert worker session %s: %w", workerID, err)
	}
	return nil
}

func (s *dynamoWorkerStore) Find(ctx context.Context, userID int64, workerID string) (*types.WorkerSession, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"user_id":   numberValue(userID),
			"worker_id": &ddbtypes.AttributeValueMemberS{Value: workerID},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var it sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	session := it.toSession()
	return &session, nil
}

func (s *dynamoWorkerStore) ListByUser(ctx context.Context, userID int64) ([]types.WorkerSession, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uid": numberValue(userID),
		},
	}

	var sessions []types.WorkerSession
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		var items []sessionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			sessions = append(sessions, it.toSession())
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSeen.After(sessions[j].LastSeen)
	})
	return sessions, nil
}

func (it sessionItem) toSession() types.WorkerSession {
	return types.WorkerSession{
		WorkerID: it.WorkerID,
		UserID:   it.UserID,
		LastSeen: fromNanos(it.LastSeen),
		Info:     it.Info,
	}
}
