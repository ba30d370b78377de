package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// RedisQueue implements pipeline.Queue using Redis.
//
// It uses the following keys under a prefix:
//
//	<prefix>pending  sorted set, member = message id, score = visible-at
//	<prefix>bodies   hash, id -> body
//	<prefix>counts   hash, id -> receive count
//	<prefix>dead     list of JSON-encoded dead-lettered messages
//
// Claims are not atomic across receivers: two concurrent Receive calls may
// occasionally deliver the same message twice. The queue contract is
// at-least-once, so consumers already tolerate this.
type RedisQueue struct {
	client       *redis.Client
	maxReceive   int
	pollInterval time.Duration

	pendingKey string
	bodiesKey  string
	countsKey  string
	deadKey    string
}

// NewRedisQueue constructs a Redis-backed queue. prefix is optional but
// recommended (e.g. "printdesk:"). maxReceive <= 0 uses
// DefaultMaxReceiveCount.
func NewRedisQueue(client *redis.Client, prefix string, maxReceive int) *RedisQueue {
	if prefix == "" {
		prefix = "printdesk:"
	}
	if maxReceive <= 0 {
		maxReceive = DefaultMaxReceiveCount
	}
	return &RedisQueue{
		client:       client,
		maxReceive:   maxReceive,
		pollInterval: 20 * time.Millisecond,
		pendingKey:   prefix + "pending",
		bodiesKey:    prefix + "bodies",
		countsKey:    prefix + "counts",
		deadKey:      prefix + "dead",
	}
}

// Ensure RedisQueue implements pipeline.Queue.
var _ pipeline.Queue = (*RedisQueue)(nil)

func (q *RedisQueue) SendBatch(ctx context.Context, entries []pipeline.BatchEntry) (pipeline.BatchResult, error) {
	if err := checkBatch(entries); err != nil {
		return pipeline.BatchResult{}, err
	}

	var result pipeline.BatchResult
	now := float64(time.Now().UnixNano())

	for _, e := range entries {
		if failed := checkEntry(e); failed != nil {
			result.Failed = append(result.Failed, *failed)
			continue
		}

		id := uuid.NewString()
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.bodiesKey, id, e.Body)
		pipe.HSet(ctx, q.countsKey, id, 0)
		pipe.ZAdd(ctx, q.pendingKey, redis.Z{Score: now, Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			result.Failed = append(result.Failed, pipeline.FailedEntry{
				ID:      e.ID,
				Code:    "InternalError",
				Message: err.Error(),
			})
			continue
		}
		result.Sent = append(result.Sent, pipeline.SentEntry{ID: e.ID, MessageID: id})
	}

	return result, nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]pipeline.Message, error) {
	if max <= 0 {
		max = 1
	}

	for {
		msgs, err := q.receiveOnce(ctx, max, visibility)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *RedisQueue) receiveOnce(ctx context.Context, max int, visibility time.Duration) ([]pipeline.Message, error) {
	now := time.Now()

	ids, err := q.client.ZRangeByScore(ctx, q.pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []pipeline.Message
	for _, id := range ids {
		count, err := q.client.HIncrBy(ctx, q.countsKey, id, 1).Result()
		if err != nil {
			return nil, err
		}

		body, err := q.client.HGet(ctx, q.bodiesKey, id).Bytes()
		if err != nil {
			if err == redis.Nil {
				// Deleted between the range scan and the claim.
				q.client.ZRem(ctx, q.pendingKey, id)
				continue
			}
			return nil, err
		}

		msg := pipeline.Message{ID: id, Body: body, ReceiveCount: int(count)}

		if int(count) > q.maxReceive {
			if err := q.deadLetter(ctx, msg); err != nil {
				return nil, err
			}
			continue
		}

		score := float64(now.Add(visibility).UnixNano())
		if err := q.client.ZAdd(ctx, q.pendingKey, redis.Z{Score: score, Member: id}).Err(); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	return out, nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg pipeline.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.deadKey, data)
	pipe.ZRem(ctx, q.pendingKey, msg.ID)
	pipe.HDel(ctx, q.bodiesKey, msg.ID)
	pipe.HDel(ctx, q.countsKey, msg.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.pendingKey, id)
	pipe.HDel(ctx, q.bodiesKey, id)
	pipe.HDel(ctx, q.countsKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) DeadLetters(ctx context.Context) ([]pipeline.Message, error) {
	raw, err := q.client.LRange(ctx, q.deadKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.Message, 0, len(raw))
	for _, item := range raw {
		var m pipeline.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *RedisQueue) Len() int {
	n, err := q.client.ZCount(context.Background(), q.pendingKey,
		"-inf", strconv.FormatInt(time.Now().UnixNano(), 10)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
