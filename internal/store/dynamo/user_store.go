package dynamo

import (
	"context"
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"golang.org/x/crypto/bcrypt"
	"strconv"
	"time"
)

const userCounterKey = "counter#users"

type userItem struct {
	PK        string `dynamodbav:"pk"`
	ID        int64  `dynamodbav:"id"`
	Email     string `dynamodbav:"email"`
	Password  string `dynamodbav:"password"`
	APIKey    string `dynamodbav:"api_key"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

type dynamoUserStore struct {
	db    API
	table string
}

// NewDynamoUserStore creates a UserStore over a table keyed by pk.
func NewDynamoUserStore(db API, table string) store.UserStore {
	return &dynamoUserStore{db: db, table: table}
}

func userIDKey(id int64) string { return "user#" + strconv.FormatInt(id, 10) }
func emailKey(email string) string { return "email#" + email }
func apiKeyKey(key string) string { return "apikey#" + key }

// Create writes the three lookup copies in one transaction so a taken email or API key
// leaves nothing behind.
func (s *dynamoUserStore) Create(ctx context.Context, email, password, apiKey string) (int64, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, err
	}

	base := userItem{
		ID:        id,
		Email:     email,
		Password:  string(hashedPassword),
		APIKey:    apiKey,
		CreatedAt: time.Now().UnixNano(),
	}
	var writes []ddbtypes.TransactWriteItem
	for _, pk := range []string{userIDKey(id), emailKey(email), apiKeyKey(apiKey)} {
		it := base
		it.PK = pk
		item, err := attributevalue.MarshalMap(it)
		if err != nil {
			return 0, err
		}
		writes = append(writes, ddbtypes.TransactWriteItem{Put: &ddbtypes.Put{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}})
	}

	_, err = s.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		var canceled *ddbtypes.TransactionCanceledException
		if errors.As(err, &canceled) {
			return 0, custom_errors.ErrUserExists
		}
		return 0, fmt.Errorf("create user %s: %w", email, err)
	}
	return id, nil
}

func (s *dynamoUserStore) nextID(ctx context.Context) (int64, error) {
	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: userCounterKey}},
		UpdateExpression: aws.String("ADD next_id :one"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":one": numberValue(1),
		},
		ReturnValues: ddbtypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	var counter struct {
		NextID int64 `dynamodbav:"next_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return 0, err
	}
	return counter.NextID, nil
}

func (s *dynamoUserStore) get(ctx context.Context, pk string) (*types.User, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: pk}},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var it userItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return &types.User{
		ID:        it.ID,
		Email:     it.Email,
		Password:  it.Password,
		APIKey:    it.APIKey,
		CreatedAt: fromNanos(it.CreatedAt),
	}, nil
}

func (s *dynamoUserStore) Find(ctx context.Context, email, password string) (*types.User, error) {
	user, err := s.get(ctx, emailKey(email))
	if err != nil || user == nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, custom_errors.ErrUnauthorized
	}
	user.Password = ""
	return user, nil
}

func (s *dynamoUserStore) FindByAPIKey(ctx context.Context, apiKey string) (*types.User, error) {
	if apiKey == "" {
		return nil, nil
	}
	user, err := s.get(ctx, apiKeyKey(apiKey))
	if user != nil {
		user.Password = ""
	}
	return user, err
}

func (s *dynamoUserStore) FindByID(ctx context.Context, id int64) (*types.User, error) {
	user, err := s.get(ctx, userIDKey(id))
	if user != nil {
		user.Password = ""
	}
	return user, err
}
