package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/metrics"
)

// MemoryStore keeps buckets in process memory. Appends are serialized, so it
// never produces the duplicate-bucket race of the DynamoDB client.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string][]*domain.Bucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string][]*domain.Bucket),
		now:     time.Now,
	}
}

func (s *MemoryStore) Append(_ context.Context, conversationID, senderID, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: Append: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	msg := domain.Message{SenderID: senderID, Content: content, Timestamp: now}

	list := s.buckets[conversationID]
	if n := len(list); n > 0 && !list[n-1].Full() {
		b := list[n-1]
		b.Messages = append(b.Messages, msg)
		b.Count++
		b.LastUpdate = now
		return nil
	}
	s.buckets[conversationID] = append(list, &domain.Bucket{
		ID:             shortID(),
		ConversationID: conversationID,
		BucketTime:     now,
		LastUpdate:     now,
		Count:          1,
		Messages:       []domain.Message{msg},
	})
	metrics.RecordBucketCreated("memory")
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.buckets[conversationID]
	n := min(bucketsFor(limit), len(list))
	newest := make([]domain.Bucket, 0, n)
	for _, b := range list[len(list)-n:] {
		cp := *b
		cp.Messages = append([]domain.Message(nil), b.Messages...)
		newest = append(newest, cp)
	}
	return recentMessages(newest, limit), nil
}

// Buckets returns a snapshot of a conversation's buckets, oldest first.
func (s *MemoryStore) Buckets(conversationID string) []domain.Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bucket, 0, len(s.buckets[conversationID]))
	for _, b := range s.buckets[conversationID] {
		out = append(out, *b)
	}
	return out
}
