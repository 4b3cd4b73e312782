package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-notifications-nosql/internal/domain"
)

const maxBatchAttempts = 5

// ReceiptRepo stores read receipts keyed by (user_id, notification_id).
type ReceiptRepo struct {
	client    API
	tableName string
	backoff   time.Duration
}

func NewReceiptRepo(client API, tableName string) *ReceiptRepo {
	return &ReceiptRepo{client: client, tableName: tableName, backoff: 50 * time.Millisecond}
}

// Upsert writes read_at only if it is not already set, so the first read time
// wins and concurrent calls converge on one item.
func (r *ReceiptRepo) Upsert(ctx context.Context, userID, notificationID string, readAt time.Time) (*domain.ReadReceipt, bool, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldReadAt: readAt}, true)
	if err != nil {
		return nil, false, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldUserID, userID, fieldNotificationID, notificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, false, err
	}
	receipt := &domain.ReadReceipt{UserID: userID, NotificationID: notificationID, ReadAt: readAt}
	if len(out.Attributes) == 0 {
		return receipt, true, nil
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, receipt); err != nil {
		return nil, false, fmt.Errorf("unmarshal read receipt: %w", err)
	}
	return receipt, false, nil
}

// GetMany returns the user's receipts among notificationIDs, keyed by id.
func (r *ReceiptRepo) GetMany(ctx context.Context, userID string, notificationIDs []string) (map[string]domain.ReadReceipt, error) {
	found := make(map[string]domain.ReadReceipt, len(notificationIDs))
	for ids := range slices.Chunk(notificationIDs, batchGetLimit) {
		keys := make([]map[string]types.AttributeValue, len(ids))
		for i, nid := range ids {
			keys[i] = compositeKey(fieldUserID, userID, fieldNotificationID, nid)
		}
		request := map[string]types.KeysAndAttributes{r.tableName: {Keys: keys}}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return nil, fmt.Errorf("batch get read receipts: unprocessed keys after %d attempts", attempt)
			}
			if err := r.wait(ctx, attempt); err != nil {
				return nil, err
			}
			out, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get read receipts: %w", err)
			}
			var page []domain.ReadReceipt
			if err := attributevalue.UnmarshalListOfMaps(out.Responses[r.tableName], &page); err != nil {
				return nil, fmt.Errorf("unmarshal read receipts: %w", err)
			}
			for _, rr := range page {
				found[rr.NotificationID] = rr
			}
			request = out.UnprocessedKeys
		}
	}
	return found, nil
}

// ReadIDs pages through every receipt of the user, projecting only the id.
func (r *ReceiptRepo) ReadIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#uid = :uid"),
		ProjectionExpression:   aws.String("#nid"),
		ExpressionAttributeNames: map[string]string{
			"#uid": fieldUserID,
			"#nid": fieldNotificationID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	ids := make(map[string]struct{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query read receipts: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item[fieldNotificationID].(*types.AttributeValueMemberS); ok {
				ids[v.Value] = struct{}{}
			}
		}
	}
	return ids, nil
}

// PutMany bulk-writes receipts in batches of 25, retrying unprocessed items.
// BatchWriteItem takes no condition, so a receipt that MarkRead created after
// the caller's snapshot is overwritten (last write wins). The duplicate READ
// event that follows is dropped by per-session de-duplication.
func (r *ReceiptRepo) PutMany(ctx context.Context, receipts []domain.ReadReceipt) error {
	for batch := range slices.Chunk(receipts, batchWriteLimit) {
		writes := make([]types.WriteRequest, 0, len(batch))
		for _, rr := range batch {
			item, err := attributevalue.MarshalMap(rr)
			if err != nil {
				return fmt.Errorf("marshal read receipt: %w", err)
			}
			writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		request := map[string][]types.WriteRequest{r.tableName: writes}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return fmt.Errorf("batch write read receipts: unprocessed items after %d attempts", attempt)
			}
			if err := r.wait(ctx, attempt); err != nil {
				return err
			}
			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: request})
			if err != nil {
				return fmt.Errorf("batch write read receipts: %w", err)
			}
			request = out.UnprocessedItems
			if n := len(request[r.tableName]); n > 0 {
				slog.Debug("retrying unprocessed read receipts", "count", n, "attempt", attempt+1)
			}
		}
	}
	return nil
}

// wait sleeps an exponential backoff before every retry attempt.
func (r *ReceiptRepo) wait(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	t := time.NewTimer(r.backoff << (attempt - 1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
