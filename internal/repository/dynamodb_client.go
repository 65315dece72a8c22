package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/metrics"
)

const (
	skPrefixBucket = "BUCKET#"
	// sortableTime is fixed width so that SK order matches bucket_time order.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client stores conversation history in a DynamoDB table using the bucket
// pattern: one item per bucket of up to domain.BucketCapacity messages.
//
// Append is query-then-update and is not transactional. Two concurrent
// appends to one conversation can both create a bucket; reads tolerate this
// because they order by message timestamp.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     shortID,
	}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// bucketSK returns the sort key for a bucket created at ts.
func bucketSK(ts time.Time, id string) string {
	return skPrefixBucket + ts.UTC().Format(sortableTime) + "#" + id
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Append records one message for the conversation.
func (c *Client) Append(ctx context.Context, conversationID, senderID, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: Append: conversation id is required")
	}
	now := c.now().UTC()
	msg := domain.Message{SenderID: senderID, Content: content, Timestamp: now}
	pk := convPK(conversationID)

	latest, err := c.latestBucketSK(ctx, pk)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	if latest != "" {
		pushed, err := c.pushToBucket(ctx, pk, latest, msg, now)
		if err != nil {
			return fmt.Errorf("repository: Append: %w", err)
		}
		if pushed {
			return nil
		}
	}

	if err := c.createBucket(ctx, conversationID, msg, now); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	slog.Debug("created history bucket", "conversation_id", conversationID)
	metrics.RecordBucketCreated("dynamodb")
	return nil
}

// GetHistory returns the newest limit messages, oldest first.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	limit = normalizeLimit(limit)

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBucket},
		},
		// Newest buckets first; only as many as can hold limit messages.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(bucketsFor(limit))),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	buckets := make([]domain.Bucket, 0, len(out.Items))
	for _, item := range out.Items {
		b, err := itemToBucket(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		buckets = append(buckets, b)
	}
	return recentMessages(buckets, limit), nil
}

func (c *Client) latestBucketSK(ctx context.Context, pk string) (string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBucket},
		},
		ProjectionExpression: aws.String("SK"),
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("latest bucket query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return "", nil
	}
	return strAttr(out.Items[0], "SK")
}

// pushToBucket appends msg if the bucket still has space. It reports false
// when the bucket is sealed (or vanished) so the caller opens a new one.
func (c *Client) pushToBucket(ctx context.Context, pk, sk string, msg domain.Message, now time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		ConditionExpression: aws.String("#count < :cap"),
		UpdateExpression:    aws.String("SET #messages = list_append(#messages, :msg), #lastUpdate = :now ADD #count :one"),
		ExpressionAttributeNames: map[string]string{
			"#count":      "count",
			"#messages":   "messages",
			"#lastUpdate": "lastUpdate",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cap": &types.AttributeValueMemberN{Value: strconv.Itoa(domain.BucketCapacity)},
			":msg": &types.AttributeValueMemberL{Value: []types.AttributeValue{messageAttr(msg)}},
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		if isItemTooLarge(err) {
			slog.Info("bucket reached the item size limit, opening a new one", "sk", sk)
			return false, nil
		}
		return false, fmt.Errorf("push to bucket: %w", err)
	}
	return true, nil
}

// isItemTooLarge reports the ValidationException DynamoDB returns when an
// update would take the item past 400KB. Such a bucket is full regardless
// of its message count.
func isItemTooLarge(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ValidationException" {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "item size")
}

func (c *Client) createBucket(ctx context.Context, conversationID string, msg domain.Message, now time.Time) error {
	b := domain.Bucket{
		ID:             c.newID(),
		ConversationID: conversationID,
		BucketTime:     now,
		LastUpdate:     now,
		Count:          1,
		Messages:       []domain.Message{msg},
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                bucketItem(b),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func bucketItem(b domain.Bucket) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(b.Messages))
	for _, m := range b.Messages {
		msgs = append(msgs, messageAttr(m))
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(b.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: bucketSK(b.BucketTime, b.ID)},
		"conversationId": &types.AttributeValueMemberS{Value: b.ConversationID},
		"bucketTime":     &types.AttributeValueMemberS{Value: b.BucketTime.UTC().Format(time.RFC3339Nano)},
		"lastUpdate":     &types.AttributeValueMemberS{Value: b.LastUpdate.UTC().Format(time.RFC3339Nano)},
		"count":          &types.AttributeValueMemberN{Value: strconv.Itoa(b.Count)},
		"messages":       &types.AttributeValueMemberL{Value: msgs},
	}
}

func messageAttr(m domain.Message) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"senderId":  &types.AttributeValueMemberS{Value: m.SenderID},
		"content":   &types.AttributeValueMemberS{Value: m.Content},
		"timestamp": &types.AttributeValueMemberS{Value: m.Timestamp.UTC().Format(time.RFC3339Nano)},
	}}
}

// itemToBucket converts a DynamoDB attribute map to a Bucket.
func itemToBucket(item map[string]types.AttributeValue) (domain.Bucket, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Bucket{}, err
	}
	convID, _ := strAttr(item, "conversationId") // allow empty
	bucketTime, err := timeAttr(item, "bucketTime")
	if err != nil {
		return domain.Bucket{}, err
	}
	count, err := intAttr(item, "count")
	if err != nil {
		return domain.Bucket{}, err
	}

	raw, ok := item["messages"].(*types.AttributeValueMemberL)
	if !ok {
		return domain.Bucket{}, errors.New(`repository: attribute "messages" is not a list`)
	}
	msgs := make([]domain.Message, 0, len(raw.Value))
	for i, v := range raw.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Bucket{}, fmt.Errorf("repository: message %d is not a map", i)
		}
		msg, err := attrToMessage(m.Value)
		if err != nil {
			return domain.Bucket{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}

	return domain.Bucket{
		ID:             sk,
		ConversationID: convID,
		BucketTime:     bucketTime,
		Count:          count,
		Messages:       msgs,
	}, nil
}

func attrToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	sender, err := strAttr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{SenderID: sender, Content: content, Timestamp: ts}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
