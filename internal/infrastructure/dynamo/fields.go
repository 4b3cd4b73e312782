package dynamo

// DynamoDB attribute and index names shared by the repos, the bootstrap and
// the stream watcher.
const (
	fieldNotificationID = "notification_id"
	fieldFeed           = "feed"
	fieldUserID         = "user_id"
	fieldReadAt         = "read_at"

	feedIndex = "feed-index"
)

// DynamoDB request limits.
const (
	batchGetLimit   = 100
	batchWriteLimit = 25
)
