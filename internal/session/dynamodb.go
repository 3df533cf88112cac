package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps conversations in a single DynamoDB table so sessions
// survive process restarts and the pending invariant holds across instances.
// Layout: SESSION#id / MSG#<timestamp> items for messages, a META# item for
// the pending flag.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoDB-backed Store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("session: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("session: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for a message. The zero-padded millisecond
// timestamp keeps lexical order chronological; the id breaks ties.
func msgSK(msg domain.Message) string {
	return fmt.Sprintf("%s%013d#%s", skPrefixMsg, msg.Timestamp, msg.ID)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// Load reads the pending flag from the META# item and all MSG# items in
// chronological order.
func (s *DynamoStore) Load(ctx context.Context, sessionID string) (Conversation, error) {
	pk := sessionPK(sessionID)

	meta, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("session: Load get meta: %w", err)
	}

	conv := Conversation{ID: sessionID}
	if meta != nil && len(meta.Item) > 0 {
		conv.Pending = boolAttr(meta.Item, "pending")
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("session: Load query messages: %w", err)
	}

	conv.Messages = make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return Conversation{}, fmt.Errorf("session: Load unmarshal: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

// AppendMessage persists one message record.
func (s *DynamoStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if msg.ID == "" {
		return errors.New("session: AppendMessage: message id is required")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                messageItem(sessionID, msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("session: AppendMessage: %w", err)
	}
	return nil
}

// BeginSend flips the pending flag false->true with a conditional update so
// only one caller wins even across concurrent instances.
func (s *DynamoStore) BeginSend(ctx context.Context, sessionID string) (bool, error) {
	err := s.updatePending(ctx, sessionID, true,
		aws.String("attribute_not_exists(pending) OR pending = :off"))
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("session: BeginSend: %w", err)
	}
	return true, nil
}

// EndSend clears the pending flag unconditionally.
func (s *DynamoStore) EndSend(ctx context.Context, sessionID string) error {
	if err := s.updatePending(ctx, sessionID, false, nil); err != nil {
		return fmt.Errorf("session: EndSend: %w", err)
	}
	return nil
}

func (s *DynamoStore) updatePending(ctx context.Context, sessionID string, pending bool, condition *string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("SET pending = :val, lastActivity = :now, #ttl = :ttl"),
		ConditionExpression: condition,
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: expressionValues(pending),
	})
	return err
}

func expressionValues(pending bool) map[string]types.AttributeValue {
	vals := map[string]types.AttributeValue{
		":val": &types.AttributeValueMemberBOOL{Value: pending},
		":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		":ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
	if pending {
		vals[":off"] = &types.AttributeValueMemberBOOL{Value: false}
	}
	return vals
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := intAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}, nil
}

func messageItem(sessionID string, msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"role":      &types.AttributeValueMemberS{Value: msg.Role},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.Timestamp)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("session: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("session: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("session: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("session: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key]
	if !ok {
		return false
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false
	}
	return b.Value
}
