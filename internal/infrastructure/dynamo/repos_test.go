package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-notifications-nosql/internal/config"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func notificationItem(t *testing.T, id string) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(domain.Notification{
		NotificationID: id,
		Feed:           domain.FeedPartition,
		Type:           domain.TypeBroadcast,
		Title:          "title " + id,
		Audience:       domain.Audience{AudienceType: domain.AudienceRole, Roles: []string{"admin"}},
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return item
}

// --- NotificationRepo ---

func TestNotificationRepo_PutConditional(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(#id)" &&
			in.ExpressionAttributeNames["#id"] == fieldNotificationID
	})).Return(nil, &types.ConditionalCheckFailedException{}).Once()

	repo := NewNotificationRepo(api, "notifications")
	err := repo.Put(context.Background(), &domain.Notification{NotificationID: "n1", Audience: domain.Audience{AudienceType: domain.AudienceAll}})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	api.AssertExpectations(t)
}

func TestNotificationRepo_PutStoresStringSets(t *testing.T) {
	api := &mockAPI{}
	var item map[string]types.AttributeValue
	api.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		item = args.Get(1).(*dynamodb.PutItemInput).Item
	}).Return(&dynamodb.PutItemOutput{}, nil)

	repo := NewNotificationRepo(api, "notifications")
	require.NoError(t, repo.Put(context.Background(), &domain.Notification{
		NotificationID: "n1",
		Feed:           domain.FeedPartition,
		Audience:       domain.Audience{AudienceType: domain.AudienceUser, Users: []string{"u1", "u2"}},
	}))
	ss, ok := item["users"].(*types.AttributeValueMemberSS)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ss.Value)
	_, hasRoles := item["roles"]
	assert.False(t, hasRoles)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "USER"}, item["audience_type"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: domain.FeedPartition}, item[fieldFeed])
}

func TestNotificationRepo_GetNotFound(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)
	_, err := NewNotificationRepo(api, "notifications").Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestNotificationRepo_GetRoundTrip(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: notificationItem(t, "n1")}, nil)
	n, err := NewNotificationRepo(api, "notifications").Get(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", n.NotificationID)
	assert.Equal(t, []string{"admin"}, n.Roles)
	assert.True(t, n.Includes(domain.Viewer{UserID: "x", Role: "admin"}))
}

func TestNotificationRepo_EachPagesNewestFirstAndStops(t *testing.T) {
	api := &mockAPI{}
	last := map[string]types.AttributeValue{fieldNotificationID: &types.AttributeValueMemberS{Value: "n2"}}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil && aws.ToString(in.IndexName) == feedIndex && !aws.ToBool(in.ScanIndexForward)
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{notificationItem(t, "n3"), notificationItem(t, "n2")},
		LastEvaluatedKey: last,
	}, nil).Once()
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{notificationItem(t, "n1"), notificationItem(t, "n0")},
	}, nil).Once()

	repo := NewNotificationRepo(api, "notifications")
	var seen []string
	err := repo.Each(context.Background(), func(n *domain.Notification) bool {
		seen = append(seen, n.NotificationID)
		return n.NotificationID != "n1"
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3", "n2", "n1"}, seen)
	api.AssertExpectations(t)
}

// --- ReceiptRepo ---

func TestReceiptRepo_UpsertCreated(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.UpdateExpression) == "SET #f0 = if_not_exists(#f0, :v0)" &&
			in.ReturnValues == types.ReturnValueAllOld
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r, created, err := NewReceiptRepo(api, "reads").Upsert(context.Background(), "u1", "n1", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, now, r.ReadAt)
}

func TestReceiptRepo_UpsertExistingKeepsFirstRead(t *testing.T) {
	first := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	old, err := attributevalue.MarshalMap(domain.ReadReceipt{UserID: "u1", NotificationID: "n1", ReadAt: first})
	require.NoError(t, err)
	api := &mockAPI{}
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(&dynamodb.UpdateItemOutput{Attributes: old}, nil)

	r, created, err := NewReceiptRepo(api, "reads").Upsert(context.Background(), "u1", "n1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equal(r.ReadAt))
}

func TestReceiptRepo_GetManyChunksAndRetries(t *testing.T) {
	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%03d", i)
	}
	receipt, err := attributevalue.MarshalMap(domain.ReadReceipt{UserID: "u1", NotificationID: "n007", ReadAt: time.Now().UTC()})
	require.NoError(t, err)
	unprocessed := map[string]types.KeysAndAttributes{
		"reads": {Keys: []map[string]types.AttributeValue{compositeKey(fieldUserID, "u1", fieldNotificationID, "n120")}},
	}
	late, err := attributevalue.MarshalMap(domain.ReadReceipt{UserID: "u1", NotificationID: "n120", ReadAt: time.Now().UTC()})
	require.NoError(t, err)

	api := &mockAPI{}
	sized := func(n int) interface{} {
		return mock.MatchedBy(func(in *dynamodb.BatchGetItemInput) bool { return len(in.RequestItems["reads"].Keys) == n })
	}
	api.On("BatchGetItem", mock.Anything, sized(100)).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"reads": {receipt}},
	}, nil).Once()
	api.On("BatchGetItem", mock.Anything, sized(50)).Return(&dynamodb.BatchGetItemOutput{
		UnprocessedKeys: unprocessed,
	}, nil).Once()
	api.On("BatchGetItem", mock.Anything, sized(1)).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"reads": {late}},
	}, nil).Once()

	repo := NewReceiptRepo(api, "reads")
	repo.backoff = time.Millisecond
	got, err := repo.GetMany(context.Background(), "u1", ids)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "n007")
	assert.Contains(t, got, "n120")
	api.AssertExpectations(t)
}

func TestReceiptRepo_ReadIDs(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.ProjectionExpression) == "#nid"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		strKey(fieldNotificationID, "n1"),
		strKey(fieldNotificationID, "n2"),
	}}, nil)

	ids, err := NewReceiptRepo(api, "reads").ReadIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"n1": {}, "n2": {}}, ids)
}

func TestReceiptRepo_PutManyBatchesOf25(t *testing.T) {
	receipts := make([]domain.ReadReceipt, 30)
	for i := range receipts {
		receipts[i] = domain.ReadReceipt{UserID: "u1", NotificationID: fmt.Sprintf("n%d", i), ReadAt: time.Now().UTC()}
	}
	api := &mockAPI{}
	var sizes []int
	api.On("BatchWriteItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sizes = append(sizes, len(args.Get(1).(*dynamodb.BatchWriteItemInput).RequestItems["reads"]))
	}).Return(&dynamodb.BatchWriteItemOutput{}, nil)

	require.NoError(t, NewReceiptRepo(api, "reads").PutMany(context.Background(), receipts))
	assert.Equal(t, []int{25, 5}, sizes)
}

func TestReceiptRepo_PutManyGivesUp(t *testing.T) {
	stuck := map[string][]types.WriteRequest{"reads": {{PutRequest: &types.PutRequest{}}}}
	api := &mockAPI{}
	api.On("BatchWriteItem", mock.Anything, mock.Anything).Return(&dynamodb.BatchWriteItemOutput{UnprocessedItems: stuck}, nil)

	repo := NewReceiptRepo(api, "reads")
	repo.backoff = time.Microsecond
	err := repo.PutMany(context.Background(), []domain.ReadReceipt{{UserID: "u1", NotificationID: "n1"}})
	assert.ErrorContains(t, err, "unprocessed items")
	api.AssertNumberOfCalls(t, "BatchWriteItem", maxBatchAttempts)
}

// --- Bootstrap ---

func TestBootstrap_CreatesTablesAndToleratesExisting(t *testing.T) {
	api := &mockAPI{}
	var created []*dynamodb.CreateTableInput
	api.On("CreateTable", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = append(created, args.Get(1).(*dynamodb.CreateTableInput))
	}).Return(nil, &types.ResourceInUseException{})

	Bootstrap(context.Background(), api, config.DynamoTables{Notifications: "n", NotificationReads: "r"})
	require.Len(t, created, 2)
	assert.Equal(t, "n", aws.ToString(created[0].TableName))
	assert.Equal(t, types.StreamViewTypeNewImage, created[0].StreamSpecification.StreamViewType)
	assert.Equal(t, feedIndex, aws.ToString(created[0].GlobalSecondaryIndexes[0].IndexName))
	assert.Equal(t, "r", aws.ToString(created[1].TableName))
	assert.Len(t, created[1].KeySchema, 2)
}
