package repository

import (
	"slices"

	"mindspace-agent/internal/domain"
)

// DefaultHistoryLimit is used when a caller passes a non-positive limit.
const DefaultHistoryLimit = 50

// bucketsFor returns how many of the newest buckets can hold limit messages.
func bucketsFor(limit int) int {
	return (limit + domain.BucketCapacity - 1) / domain.BucketCapacity
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// recentMessages merges bucket contents, orders them by message timestamp and
// keeps the newest limit messages, oldest first.
//
// Bucket order is only a hint: concurrent appends can leave interleaved
// buckets, so the message timestamp decides.
func recentMessages(buckets []domain.Bucket, limit int) []domain.Message {
	ordered := slices.Clone(buckets)
	slices.SortStableFunc(ordered, func(a, b domain.Bucket) int {
		return a.BucketTime.Compare(b.BucketTime)
	})

	total := 0
	for _, b := range ordered {
		total += len(b.Messages)
	}
	all := make([]domain.Message, 0, total)
	for _, b := range ordered {
		all = append(all, b.Messages...)
	}
	slices.SortStableFunc(all, func(a, b domain.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}
