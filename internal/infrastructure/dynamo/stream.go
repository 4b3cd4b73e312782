package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/metrics"
)

const (
	feedSourceStream = "dynamodb-stream"
	// Shards are re-listed every rediscoverEvery polls, and right away after
	// a shard closes.
	rediscoverEvery = 30
)

// StreamWatcher tails the notifications table stream and publishes a NEW
// event for every inserted item. Shards that exist when it starts are read
// from LATEST; shards that appear later are read from TRIM_HORIZON so no
// insert after start-up is skipped across a shard split.
type StreamWatcher struct {
	tables    API
	streams   StreamsAPI
	tableName string
	interval  time.Duration
	logger    *slog.Logger

	streamArn string
	iterators map[string]*string // open shards
	known     map[string]struct{}
	// last sequence number read per shard, for resuming after expiry
	positions map[string]string
}

func NewStreamWatcher(tables API, streams StreamsAPI, tableName string, interval time.Duration, logger *slog.Logger) *StreamWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamWatcher{
		tables:    tables,
		streams:   streams,
		tableName: tableName,
		interval:  interval,
		logger:    logger,
		iterators: make(map[string]*string),
		known:     make(map[string]struct{}),
		positions: make(map[string]string),
	}
}

// Run blocks until ctx is cancelled. Transient AWS errors are logged and
// retried on the next poll; only a missing stream is fatal.
func (w *StreamWatcher) Run(ctx context.Context, publish func(domain.Event)) error {
	out, err := w.tables.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(w.tableName)})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", w.tableName, err)
	}
	if out.Table == nil || out.Table.LatestStreamArn == nil {
		return fmt.Errorf("table %s has no stream enabled", w.tableName)
	}
	w.streamArn = *out.Table.LatestStreamArn
	if err := w.discover(ctx, streamtypes.ShardIteratorTypeLatest); err != nil {
		return err
	}
	w.logger.Info("watching notification stream", "stream_arn", w.streamArn, "shards", len(w.iterators))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if w.pollOnce(ctx, publish) || polls%rediscoverEvery == 0 {
			if err := w.discover(ctx, streamtypes.ShardIteratorTypeTrimHorizon); err != nil {
				w.fail("discover shards", err)
			}
		}
	}
}

// pollOnce reads every open shard once and reports whether any closed.
func (w *StreamWatcher) pollOnce(ctx context.Context, publish func(domain.Event)) (closed bool) {
	for shardID, it := range w.iterators {
		out, err := w.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: it})
		if err != nil {
			var expired *streamtypes.ExpiredIteratorException
			if errors.As(err, &expired) {
				w.logger.Warn("shard iterator expired, resuming", "shard_id", shardID, "after", w.positions[shardID])
				if err := w.resume(ctx, shardID); err != nil {
					w.fail("reopen shard", err)
				}
				continue
			}
			if ctx.Err() == nil {
				w.fail("get records", err)
			}
			continue
		}
		for _, rec := range out.Records {
			if e, ok := w.decode(rec); ok {
				publish(e)
			}
			if rec.Dynamodb != nil && rec.Dynamodb.SequenceNumber != nil {
				w.positions[shardID] = *rec.Dynamodb.SequenceNumber
			}
		}
		if out.NextShardIterator == nil {
			delete(w.iterators, shardID)
			delete(w.positions, shardID)
			closed = true
			continue
		}
		w.iterators[shardID] = out.NextShardIterator
	}
	return closed
}

func (w *StreamWatcher) decode(rec streamtypes.Record) (domain.Event, bool) {
	if rec.EventName != streamtypes.OperationTypeInsert || rec.Dynamodb == nil || rec.Dynamodb.NewImage == nil {
		return domain.Event{}, false
	}
	item, err := attributevalue.FromDynamoDBStreamsMap(rec.Dynamodb.NewImage)
	if err != nil {
		w.fail("convert stream image", err)
		return domain.Event{}, false
	}
	var n domain.Notification
	if err := attributevalue.UnmarshalMap(item, &n); err != nil {
		w.fail("unmarshal stream image", err)
		return domain.Event{}, false
	}
	return domain.NewNotificationEvent(&n), true
}

// discover lists the stream's shards and opens any not seen before.
func (w *StreamWatcher) discover(ctx context.Context, from streamtypes.ShardIteratorType) error {
	var start *string
	for {
		out, err := w.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(w.streamArn),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return fmt.Errorf("describe stream: %w", err)
		}
		if out.StreamDescription == nil {
			return nil
		}
		for _, sh := range out.StreamDescription.Shards {
			id := aws.ToString(sh.ShardId)
			if _, ok := w.known[id]; ok || id == "" {
				continue
			}
			if err := w.open(ctx, id, from); err != nil {
				return err
			}
			w.known[id] = struct{}{}
		}
		start = out.StreamDescription.LastEvaluatedShardId
		if start == nil {
			return nil
		}
	}
}

// resume reopens an expired shard right after the last record read from it,
// or from TRIM_HORIZON when nothing has been read yet. Records can repeat but
// none are skipped.
func (w *StreamWatcher) resume(ctx context.Context, shardID string) error {
	seq, ok := w.positions[shardID]
	if !ok {
		return w.open(ctx, shardID, streamtypes.ShardIteratorTypeTrimHorizon)
	}
	return w.openAt(ctx, shardID, streamtypes.ShardIteratorTypeAfterSequenceNumber, aws.String(seq))
}

func (w *StreamWatcher) open(ctx context.Context, shardID string, from streamtypes.ShardIteratorType) error {
	return w.openAt(ctx, shardID, from, nil)
}

func (w *StreamWatcher) openAt(ctx context.Context, shardID string, from streamtypes.ShardIteratorType, seq *string) error {
	out, err := w.streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(w.streamArn),
		ShardId:           aws.String(shardID),
		ShardIteratorType: from,
		SequenceNumber:    seq,
	})
	if err != nil {
		return fmt.Errorf("get shard iterator %s: %w", shardID, err)
	}
	if out.ShardIterator == nil {
		delete(w.iterators, shardID)
		return nil
	}
	w.iterators[shardID] = out.ShardIterator
	return nil
}

func (w *StreamWatcher) fail(op string, err error) {
	metrics.FeedErrors.WithLabelValues(feedSourceStream).Inc()
	w.logger.Error("notification stream "+op+" failed", "err", err)
}
