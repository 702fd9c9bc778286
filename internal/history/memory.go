package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. History is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []memRecord
	seq     int64
	now     func() time.Time
}

type memRecord struct {
	Record
	seq int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Append stores rec under a new UUID.
func (s *MemoryStore) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	s.seq++
	s.records = append(s.records, memRecord{Record: rec, seq: s.seq})
	return rec, nil
}

// RangeByConversation returns up to limit records of the conversation, newest first.
func (s *MemoryStore) RangeByConversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]memRecord, 0)
	for _, r := range s.records {
		if r.ConversationID != conversationID {
			continue
		}
		if before != nil && !r.Timestamp.Before(*before) {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].seq > matched[j].seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Record, len(matched))
	for i, r := range matched {
		out[i] = r.Record
	}
	return out, nil
}

// MarkRead flags unread records addressed to recipientID as read.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for i := range s.records {
		r := &s.records[i]
		if r.ConversationID == conversationID && r.RecipientID == recipientID && !r.Read {
			r.Read = true
			updated++
		}
	}
	return updated, nil
}
