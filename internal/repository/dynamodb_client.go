package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"insurance-agent/internal/domain"
)

const (
	skPrefixMsg        = "MSG#"
	skMeta             = "META#"
	defaultTTL         = 24 * time.Hour
	batchWriteLimit    = 25
	batchWriteAttempts = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores conversations in a single DynamoDB table. Each conversation
// owns one META# item with its fields and one MSG#<seq> item per message.
// Only META# carries the ttl attribute; message items are removed by Delete
// and by the sweep, so history is never shorter than messageCount.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client. ttl is the idle lifetime written to
// the ttl attribute; zero selects 24 hours.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for the message at position seq.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

func (c *Client) ttlValue(lastActivity time.Time) int64 {
	return lastActivity.Add(c.ttl).Unix()
}

func (c *Client) key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// Create writes the META# item of a new conversation.
func (c *Client) Create(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: Create: conversation id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.metaItem(conv, len(conv.Messages)),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Get loads the conversation fields and its messages in chronological order.
func (c *Client) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(conversationID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 || c.expired(out.Item) {
		return domain.Conversation{}, fmt.Errorf("repository: Get %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get decode meta: %w", err)
	}

	msgs, err := c.history(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.Messages = msgs
	return conv, nil
}

// history queries all MSG# items for a conversation ordered by sequence.
func (c *Client) history(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs := []domain.Message{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: history query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: history unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// SaveTurn writes the turn's messages and the updated META# item in one
// transaction. Sequence numbers continue from the stored messageCount, and
// the meta write only succeeds while that count is unchanged, so two posts
// racing on one conversation cannot both commit.
func (c *Client) SaveTurn(ctx context.Context, conv domain.Conversation, turn []domain.Message) error {
	if strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: SaveTurn: conversation id is required")
	}
	if len(turn) > len(conv.Messages) {
		return errors.New("repository: SaveTurn: turn is longer than the conversation history")
	}

	first, err := c.storedCount(ctx, conv.ID)
	if err != nil {
		return err
	}
	items := make([]types.TransactWriteItem, 0, len(turn)+1)
	for i, msg := range turn {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.messageItem(conv.ID, first+i, msg),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                c.metaItem(conv, first+len(turn)),
			ConditionExpression: aws.String("attribute_exists(PK) AND messageCount = :count"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":count": &types.AttributeValueMemberN{Value: strconv.Itoa(first)},
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	})

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			if metaGone(canceled, len(items)-1) {
				return fmt.Errorf("repository: SaveTurn %q: %w", conv.ID, domain.ErrConversationNotFound)
			}
			if conditionFailed(canceled) {
				return fmt.Errorf("repository: SaveTurn %q: conversation changed concurrently: %w", conv.ID, err)
			}
		}
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// storedCount reads the number of persisted messages from the META# item.
func (c *Client) storedCount(ctx context.Context, conversationID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      c.key(conversationID, skMeta),
		ProjectionExpression:     aws.String("messageCount, #ttl"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: SaveTurn get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 || c.expired(out.Item) {
		return 0, fmt.Errorf("repository: SaveTurn %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	n, err := intAttr(out.Item, "messageCount")
	if err != nil {
		return 0, fmt.Errorf("repository: SaveTurn decode meta: %w", err)
	}
	return n, nil
}

// expired reports whether a META# item is past its ttl. DynamoDB removes
// such items lazily, so reads must not rely on them being gone.
func (c *Client) expired(item map[string]types.AttributeValue) bool {
	v, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(v.Value, 10, 64)
	return err == nil && ttl <= c.now().Unix()
}

// metaGone reports whether a cancelled transaction failed on the META#
// condition at position idx because the item no longer exists.
func metaGone(canceled *types.TransactionCanceledException, idx int) bool {
	if idx >= len(canceled.CancellationReasons) {
		return false
	}
	reason := canceled.CancellationReasons[idx]
	return reason.Code != nil && *reason.Code == "ConditionalCheckFailed" && len(reason.Item) == 0
}

func conditionFailed(canceled *types.TransactionCanceledException) bool {
	for _, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// Delete removes every item of a conversation.
func (c *Client) Delete(ctx context.Context, conversationID string) error {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  c.key(conversationID, skMeta),
		ProjectionExpression: aws.String("PK"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return fmt.Errorf("repository: Delete %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	if err := c.deleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// DeleteInactive removes conversations whose META# lastActivity is before
// cutoff. Message items left behind after DynamoDB expired their META#
// natively are collected too, once their first message is older than cutoff.
func (c *Client) DeleteInactive(ctx context.Context, cutoff time.Time) (int, error) {
	var ids []string
	live := map[string]bool{}
	orphans := map[string]time.Time{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(c.tableName),
			FilterExpression:         aws.String("SK = :meta OR SK = :first"),
			ProjectionExpression:     aws.String("conversationId, SK, lastActivity, #at"),
			ExpressionAttributeNames: map[string]string{"#at": "at"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta":  &types.AttributeValueMemberS{Value: skMeta},
				":first": &types.AttributeValueMemberS{Value: msgSK(0)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("repository: DeleteInactive scan: %w", err)
		}
		for _, item := range out.Items {
			id, err := strAttr(item, "conversationId")
			if err != nil {
				return 0, fmt.Errorf("repository: DeleteInactive decode: %w", err)
			}
			sk, _ := strAttr(item, "SK")
			if sk != skMeta {
				at, _ := strAttr(item, "at")
				parsed, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					continue
				}
				orphans[id] = parsed
				continue
			}
			live[id] = true
			lastActivity, err := intAttr(item, "lastActivity")
			if err != nil {
				return 0, fmt.Errorf("repository: DeleteInactive decode: %w", err)
			}
			if int64(lastActivity) < cutoff.Unix() {
				ids = append(ids, id)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	var stray []string
	for id, at := range orphans {
		if !live[id] && at.Before(cutoff) {
			stray = append(stray, id)
		}
	}
	sort.Strings(stray)
	ids = append(ids, stray...)

	for i, id := range ids {
		if err := c.deleteConversation(ctx, id); err != nil {
			return i, fmt.Errorf("repository: DeleteInactive %q: %w", id, err)
		}
	}
	return len(ids), nil
}

// Count returns the number of stored conversations.
func (c *Client) Count(ctx context.Context) (int, error) {
	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			Select:           types.SelectCount,
			FilterExpression: aws.String("SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: skMeta},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("repository: Count scan: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// deleteConversation batch-deletes all items under the conversation key.
func (c *Client) deleteConversation(ctx context.Context, conversationID string) error {
	var keys []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("query keys: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		if err := c.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite retries unprocessed requests a bounded number of times.
func (c *Client) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{c.tableName: requests}
	for attempt := 0; attempt < batchWriteAttempts; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("batch write: %d requests unprocessed", len(pending[c.tableName]))
}

func (c *Client) metaItem(conv domain.Conversation, messageCount int) map[string]types.AttributeValue {
	item := c.key(conv.ID, skMeta)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conv.ID}
	item["stage"] = &types.AttributeValueMemberS{Value: string(conv.Stage)}
	item["lastReply"] = &types.AttributeValueMemberS{Value: conv.LastReply}
	item["createdAt"] = &types.AttributeValueMemberS{Value: conv.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["lastActivity"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(conv.LastActivity.Unix(), 10)}
	item["messageCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(messageCount)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(conv.LastActivity), 10)}
	if conv.HasAge() {
		item["age"] = &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Age)}
	}
	if conv.HasCategory() {
		item["category"] = &types.AttributeValueMemberS{Value: string(conv.Category)}
	}
	return item
}

func (c *Client) messageItem(conversationID string, seq int, msg domain.Message) map[string]types.AttributeValue {
	item := c.key(conversationID, msgSK(seq))
	item["conversationId"] = &types.AttributeValueMemberS{Value: conversationID}
	item["role"] = &types.AttributeValueMemberS{Value: msg.Role}
	item["text"] = &types.AttributeValueMemberS{Value: msg.Content}
	item["at"] = &types.AttributeValueMemberS{Value: msg.At.UTC().Format(time.RFC3339Nano)}
	return item
}

// itemToConversation converts a META# attribute map to a Conversation
// without messages.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	stage, err := strAttr(item, "stage")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
	}
	lastActivity, err := intAttr(item, "lastActivity")
	if err != nil {
		return domain.Conversation{}, err
	}
	lastReply, _ := strAttr(item, "lastReply") // allow empty

	conv := domain.Conversation{
		ID:           id,
		Stage:        domain.Stage(stage),
		LastReply:    lastReply,
		CreatedAt:    created,
		LastActivity: time.Unix(int64(lastActivity), 0).UTC(),
	}
	if _, ok := item["age"]; ok {
		age, err := intAttr(item, "age")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.Age = age
	}
	if _, ok := item["category"]; ok {
		cat, err := strAttr(item, "category")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.Category = domain.Category(cat)
	}
	return conv, nil
}

// itemToMessage converts a MSG# attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{Role: role, Content: text}
	if at, _ := strAttr(item, "at"); at != "" { // allow empty
		if parsed, err := time.Parse(time.RFC3339Nano, at); err == nil {
			msg.At = parsed
		}
	}
	return msg, nil
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
