package domain

import "time"

// BucketCapacity is the maximum number of messages a history bucket holds.
// A bucket whose Count reaches BucketCapacity is sealed.
const BucketCapacity = 100

// AssistantSenderID is the sender recorded for every assistant turn.
const AssistantSenderID = "assistant"

// Message is a single persisted conversation turn. Immutable once written.
type Message struct {
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Bucket is a capped, append-only group of messages for one conversation.
type Bucket struct {
	ID             string
	ConversationID string
	BucketTime     time.Time
	LastUpdate     time.Time
	Count          int
	Messages       []Message
}

// Full reports whether the bucket is sealed.
func (b Bucket) Full() bool {
	return b.Count >= BucketCapacity
}
