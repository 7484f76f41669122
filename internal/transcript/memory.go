package transcript

import (
	"context"
	"sync"

	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// MemoryStore keeps transcripts in process memory. Default store; state
// is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[string][]*v1.TranscriptEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		entries: make(map[string][]*v1.TranscriptEntry),
	}
}

// Append records one entry.
func (s *MemoryStore) Append(_ context.Context, entry *v1.TranscriptEntry) (*v1.TranscriptEntry, error) {
	stamp(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.ID = s.nextID
	s.nextID++
	s.entries[entry.ChannelID] = append(s.entries[entry.ChannelID], &stored)

	return &stored, nil
}

// List returns a channel's entries in insertion order.
func (s *MemoryStore) List(_ context.Context, channelID string, limit int, sinceID int64) ([]*v1.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.TranscriptEntry
	for _, e := range s.entries[channelID] {
		if e.ID <= sinceID {
			continue
		}
		copied := *e
		out = append(out, &copied)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// TruncateAfter removes all entries with an id greater than entryID.
func (s *MemoryStore) TruncateAfter(_ context.Context, channelID string, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[channelID]
	kept := entries[:0]
	for _, e := range entries {
		if e.ID <= entryID {
			kept = append(kept, e)
		}
	}
	s.entries[channelID] = kept
	return nil
}

// DeleteChannel removes all entries for a channel.
func (s *MemoryStore) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, channelID)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
