package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// taskItem is the stored shape of a Task. Timestamps are unix nanoseconds; zero means unset.
type taskItem struct {
	ID          string         `dynamodbav:"id"`
	UserID      int64          `dynamodbav:"user_id"`
	Kind        string         `dynamodbav:"kind"`
	Parameters  string         `dynamodbav:"parameters"`
	Status      string         `dynamodbav:"status"`
	Progress    map[string]any `dynamodbav:"progress"`
	Result      string         `dynamodbav:"result,omitempty"`
	Error       string         `dynamodbav:"error,omitempty"`
	WorkerID    string         `dynamodbav:"worker_id,omitempty"`
	Attempts    int            `dynamodbav:"attempts"`
	CreatedAt   int64          `dynamodbav:"created_at"`
	Seq         int64          `dynamodbav:"seq"`
	StartedAt   int64          `dynamodbav:"started_at,omitempty"`
	UpdatedAt   int64          `dynamodbav:"updated_at"`
	CompletedAt int64          `dynamodbav:"completed_at,omitempty"`
}

func (it taskItem) toTask() *types.Task {
	task := &types.Task{
		ID:        it.ID,
		UserID:    it.UserID,
		Kind:      types.TaskKind(it.Kind),
		Status:    state.TaskStatus(it.Status),
		Progress:  it.Progress,
		Error:     it.Error,
		WorkerID:  it.WorkerID,
		Attempts:  it.Attempts,
		CreatedAt: fromNanos(it.CreatedAt),
		UpdatedAt: fromNanos(it.UpdatedAt),
	}
	if it.Parameters != "" {
		task.Parameters = json.RawMessage(it.Parameters)
	}
	if it.Result != "" {
		task.Result = json.RawMessage(it.Result)
	}
	if it.StartedAt != 0 {
		started := fromNanos(it.StartedAt)
		task.StartedAt = &started
	}
	if it.CompletedAt != 0 {
		completed := fromNanos(it.CompletedAt)
		task.CompletedAt = &completed
	}
	return task
}

type dynamoTaskStore struct {
	db        API
	table     string
	userIndex string
	seq       atomic.Int64
	now       func() time.Time
}

// NewDynamoTaskStore creates a TaskStore over the given table and its (user_id, created_at) index.
func NewDynamoTaskStore(db API, table, userIndex string) store.TaskStore {
	s := &dynamoTaskStore{db: db, table: table, userIndex: userIndex, now: time.Now}
	s.seq.Store(time.Now().UnixNano())
	return s
}

func (s *dynamoTaskStore) key(taskID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"id": &ddbtypes.AttributeValueMemberS{Value: taskID},
	}
}

func (s *dynamoTaskStore) Insert(ctx context.Context, task *types.Task) error {
	params := string(task.Parameters)
	if params == "" {
		params = "{}"
	}
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	item, err := attributevalue.MarshalMap(taskItem{
		ID:         task.ID,
		UserID:     task.UserID,
		Kind:       task.Kind.String(),
		Parameters: params,
		Status:     state.StatusQueued.String(),
		Progress:   map[string]any{},
		CreatedAt:  createdAt.UnixNano(),
		Seq:        s.seq.Add(1),
		UpdatedAt:  createdAt.UnixNano(),
	})
	if err != nil {
		return err
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *dynamoTaskStore) FindByID(ctx context.Context, taskID string) (*types.Task, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(taskID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}

	var it taskItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return it.toTask(), nil
}

// ClaimNext walks the user's queued tasks oldest first and tries a conditional update on
// each. Losing the condition means another worker got there first, so it moves on.
func (s *dynamoTaskStore) ClaimNext(ctx context.Context, userID int64, workerID string) (*types.Task, error) {
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(s.userIndex),
			KeyConditionExpression: aws.String("user_id = :uid"),
			FilterExpression:       aws.String("#st = :queued"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":uid":    numberValue(userID),
				":queued": &ddbtypes.AttributeValueMemberS{Value: state.StatusQueued.String()},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query queued tasks for user %d: %w", userID, err)
		}

		var candidates []taskItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &candidates); err != nil {
			return nil, err
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].CreatedAt != candidates[j].CreatedAt {
				return candidates[i].CreatedAt < candidates[j].CreatedAt
			}
			return candidates[i].Seq < candidates[j].Seq
		})

		for _, c := range candidates {
			task, err := s.claim(ctx, c.ID, workerID)
			if err != nil {
				return nil, err
			}
			if task != nil {
				return task, nil
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *dynamoTaskStore) claim(ctx context.Context, taskID, workerID string) (*types.Task, error) {
	now := s.now().UnixNano()
	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(taskID),
		ConditionExpression: aws.String("#st = :queued"),
		UpdateExpression:    aws.String("SET #st = :processing, worker_id = :wid, attempts = attempts + :one, started_at = :now, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":queued":     &ddbtypes.AttributeValueMemberS{Value: state.StatusQueued.String()},
			":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
			":wid":        &ddbtypes.AttributeValueMemberS{Value: workerID},
			":one":        numberValue(1),
			":now":        numberValue(now),
		},
		ReturnValues: ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task %s: %w", taskID, err)
	}

	var it taskItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, err
	}
	return it.toTask(), nil
}

// MergeProgress sets each field as a top-level key of the progress map, which matches the
// shallow overwrite semantics of the other stores.
func (s *dynamoTaskStore) MergeProgress(ctx context.Context, taskID string, attempt int, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return s.Touch(ctx, taskID, attempt)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := map[string]string{"#st": "status"}
	values := map[string]ddbtypes.AttributeValue{
		":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
		":attempt":    numberValue(int64(attempt)),
		":now":        numberValue(s.now().UnixNano()),
	}
	expr := "SET updated_at = :now"
	for i, k := range keys {
		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return false, fmt.Errorf("encode progress key %q: %w", k, err)
		}
		name := "#k" + strconv.Itoa(i)
		value := ":v" + strconv.Itoa(i)
		names[name] = k
		values[value] = av
		expr += ", progress." + name + " = " + value
	}

	return s.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(taskID),
		ConditionExpression:       aws.String(runningAttempt),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
}

// runningAttempt is the condition shared by every update a worker's report can cause.
const runningAttempt = "#st = :processing AND attempts = :attempt"

func (s *dynamoTaskStore) Touch(ctx context.Context, taskID string, attempt int) (bool, error) {
	return s.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(taskID),
		ConditionExpression: aws.String(runningAttempt),
		UpdateExpression:    aws.String("SET updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
			":attempt":    numberValue(int64(attempt)),
			":now":        numberValue(s.now().UnixNano()),
		},
	})
}

func (s *dynamoTaskStore) Finalize(ctx context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error) {
	if !state.IsValidTransition(state.StatusProcessing, status) || !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize task %s as %s", taskID, status)
	}

	now := numberValue(s.now().UnixNano())
	values := map[string]ddbtypes.AttributeValue{
		":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
		":status":     &ddbtypes.AttributeValueMemberS{Value: status.String()},
		":attempt":    numberValue(int64(attempt)),
		":now":        now,
	}
	set := "SET #st = :status, completed_at = :now, updated_at = :now"
	var remove []string
	if len(result) > 0 {
		set += ", #res = :res"
		values[":res"] = &ddbtypes.AttributeValueMemberS{Value: string(result)}
	} else {
		remove = append(remove, "#res")
	}
	if errMsg != "" {
		set += ", #err = :err"
		values[":err"] = &ddbtypes.AttributeValueMemberS{Value: errMsg}
	} else {
		remove = append(remove, "#err")
	}
	expr := set
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	return s.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(taskID),
		ConditionExpression: aws.String(runningAttempt),
		UpdateExpression:    aws.String(expr),
		ExpressionAttributeNames: map[string]string{
			"#st":  "status",
			"#res": "result",
			"#err": "error",
		},
		ExpressionAttributeValues: values,
	})
}

func (s *dynamoTaskStore) Requeue(ctx context.Context, taskID string) (bool, error) {
	return s.conditionalUpdate(ctx, s.requeueInput(taskID, nil))
}

func (s *dynamoTaskStore) requeueInput(taskID string, staleBefore *time.Time) *dynamodb.UpdateItemInput {
	cond := "#st = :processing"
	values := map[string]ddbtypes.AttributeValue{
		":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
		":queued":     &ddbtypes.AttributeValueMemberS{Value: state.StatusQueued.String()},
		":empty":      &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{}},
		":now":        numberValue(s.now().UnixNano()),
	}
	if staleBefore != nil {
		cond += " AND updated_at < :cutoff"
		values[":cutoff"] = numberValue(staleBefore.UnixNano())
	}
	return &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(taskID),
		ConditionExpression: aws.String(cond),
		UpdateExpression:    aws.String("SET #st = :queued, progress = :empty, updated_at = :now REMOVE worker_id, started_at"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: values,
	}
}

// RequeueStale scans for abandoned processing tasks. Each re-queue repeats the staleness
// check in its condition, so a report landing between the scan and the update wins.
func (s *dynamoTaskStore) RequeueStale(ctx context.Context, staleBefore time.Time) ([]string, error) {
	var (
		ids      []string
		startKey map[string]ddbtypes.AttributeValue
	)
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			FilterExpression:     aws.String("#st = :processing AND updated_at < :cutoff"),
			ProjectionExpression: aws.String("id"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":processing": &ddbtypes.AttributeValueMemberS{Value: state.StatusProcessing.String()},
				":cutoff":     numberValue(staleBefore.UnixNano()),
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan stale tasks: %w", err)
		}

		var stale []taskItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &stale); err != nil {
			return nil, err
		}
		for _, it := range stale {
			ok, err := s.conditionalUpdate(ctx, s.requeueInput(it.ID, &staleBefore))
			if err != nil {
				return ids, err
			}
			if ok {
				ids = append(ids, it.ID)
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *dynamoTaskStore) queryUser(ctx context.Context, userID int64, status state.TaskStatus, newestFirst bool) ([]taskItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.userIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uid": numberValue(userID),
		},
		ScanIndexForward: aws.Bool(!newestFirst),
	}
	if status != "" {
		input.FilterExpression = aws.String("#st = :status")
		input.ExpressionAttributeNames = map[string]string{"#st": "status"}
		input.ExpressionAttributeValues[":status"] = &ddbtypes.AttributeValueMemberS{Value: status.String()}
	}

	var items []taskItem
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		var page []taskItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *dynamoTaskStore) ListByUser(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error) {
	if page < 1 {
		page = 1
	}
	items, err := s.queryUser(ctx, userID, status, true)
	if err != nil {
		return nil, err
	}

	var tasks []types.Task
	start := (page - 1) * pageSize
	for i := start; i < len(items) && i < start+pageSize; i++ {
		tasks = append(tasks, *items[i].toTask())
	}
	return types.NewPaginationResult(tasks, len(items), page, pageSize), nil
}

func (s *dynamoTaskStore) CountAllGroupedByStatus(ctx context.Context, userID int64) (map[state.TaskStatus]int, error) {
	items, err := s.queryUser(ctx, userID, "", false)
	if err != nil {
		return nil, err
	}
	result := make(map[state.TaskStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	for _, it := range items {
		result[state.TaskStatus(it.Status)]++
	}
	return result, nil
}

func (s *dynamoTaskStore) Close() error {
	return nil
}

func (s *dynamoTaskStore) conditionalUpdate(ctx context.Context, input *dynamodb.UpdateItemInput) (bool, error) {
	if _, err := s.db.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isConditionFailed(err error) bool {
	var cfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}

func numberValue(n int64) *ddbtypes.AttributeValueMemberN {
	return &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
