package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/metrics"
)

const defaultRedisPrefix = "mindspace:history:"

const maxAppendAttempts = 5

// appendScript pushes onto the newest bucket while it has room, otherwise it
// registers a new bucket. Running it as one script serializes appends per
// conversation, so racing writers cannot both open a bucket.
//
// Every key the script touches is declared and carries the conversation hash
// tag, so it runs unchanged on Redis Cluster.
//
// KEYS: index zset, newest bucket, new bucket.
// ARGV: newest bucket id seen by the caller ("" for none), capacity,
// new bucket id, new bucket score, message JSON.
// Returns 1 when a bucket was created, 0 on a push and -1 when the newest
// bucket changed since the caller read it.
var appendScript = redis.NewScript(`
local latest = redis.call('ZREVRANGE', KEYS[1], 0, 0)
local current = latest[1] or ''
if current ~= ARGV[1] then
	return -1
end
if current ~= '' and redis.call('LLEN', KEYS[2]) < tonumber(ARGV[2]) then
	redis.call('RPUSH', KEYS[2], ARGV[5])
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[3])
redis.call('RPUSH', KEYS[3], ARGV[5])
return 1
`)

// RedisStore keeps history buckets in Redis: a sorted set per conversation
// indexes bucket ids by creation time, and each bucket is a list of JSON
// encoded messages.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	newID  func() string
}

// NewRedisStore creates a store on an existing single-node or cluster
// client. Works with miniredis.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
		newID:  shortID,
	}, nil
}

// Keys are "<prefix>{<conversation>}:index" and
// "<prefix>{<conversation>}:bucket:<id>"; the braces pin a conversation to
// one cluster slot.
func (s *RedisStore) indexKey(conversationID string) string {
	return s.prefix + "{" + conversationID + "}:index"
}

func (s *RedisStore) bucketKey(conversationID, bucketID string) string {
	return s.prefix + "{" + conversationID + "}:bucket:" + bucketID
}

func (s *RedisStore) Append(ctx context.Context, conversationID, senderID, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: Append: conversation id is required")
	}
	now := s.now().UTC()
	raw, err := json.Marshal(domain.Message{SenderID: senderID, Content: content, Timestamp: now})
	if err != nil {
		return fmt.Errorf("repository: Append marshal: %w", err)
	}

	for range maxAppendAttempts {
		created, err := s.appendOnce(ctx, conversationID, string(raw), now)
		if err != nil {
			return fmt.Errorf("repository: Append script: %w", err)
		}
		switch created {
		case 1:
			metrics.RecordBucketCreated("redis")
			return nil
		case 0:
			return nil
		}
	}
	return fmt.Errorf("repository: Append: newest bucket kept changing after %d attempts", maxAppendAttempts)
}

func (s *RedisStore) appendOnce(ctx context.Context, conversationID, message string, now time.Time) (int, error) {
	index := s.indexKey(conversationID)
	latest, err := s.client.ZRevRange(ctx, index, 0, 0).Result()
	if err != nil {
		return 0, err
	}
	newID := s.newID()
	seen, latestKey := "", s.bucketKey(conversationID, newID)
	if len(latest) > 0 {
		seen = latest[0]
		latestKey = s.bucketKey(conversationID, seen)
	}
	return appendScript.Run(ctx, s.client,
		[]string{index, latestKey, s.bucketKey(conversationID, newID)},
		seen, domain.BucketCapacity, newID, now.UnixMicro(), message,
	).Int()
}

func (s *RedisStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	limit = normalizeLimit(limit)

	index, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(conversationID), 0, int64(bucketsFor(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory index: %w", err)
	}
	if len(index) == 0 {
		return []domain.Message{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(index))
	for i, z := range index {
		cmds[i] = pipe.LRange(ctx, s.bucketKey(conversationID, fmt.Sprint(z.Member)), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("repository: GetHistory buckets: %w", err)
	}

	buckets := make([]domain.Bucket, 0, len(index))
	for i, z := range index {
		entries := cmds[i].Val()
		msgs := make([]domain.Message, 0, len(entries))
		for _, e := range entries {
			var m domain.Message
			if err := json.Unmarshal([]byte(e), &m); err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			msgs = append(msgs, m)
		}
		buckets = append(buckets, domain.Bucket{
			ID:             fmt.Sprint(z.Member),
			ConversationID: conversationID,
			BucketTime:     time.UnixMicro(int64(z.Score)).UTC(),
			Count:          len(msgs),
			Messages:       msgs,
		})
	}
	return recentMessages(buckets, limit), nil
}

// BucketCount returns how many buckets a conversation has.
func (s *RedisStore) BucketCount(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.indexKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("repository: BucketCount: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
