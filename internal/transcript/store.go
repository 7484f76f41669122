// Package transcript persists the ordered event history of each channel.
package transcript

import (
	"context"
	"time"

	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// Entry kinds.
const (
	KindText       = "text"
	KindEvent      = "event"
	KindError      = "error"
	KindPermission = "permission"
	KindResult     = "result"
)

// Store persists transcript entries in channel order.
type Store interface {
	// Append records one entry and returns it with its assigned id.
	Append(ctx context.Context, entry *v1.TranscriptEntry) (*v1.TranscriptEntry, error)

	// List returns a channel's entries in insertion order, restricted to
	// entries with an id greater than sinceID. A positive limit caps the
	// result; zero means no cap.
	List(ctx context.Context, channelID string, limit int, sinceID int64) ([]*v1.TranscriptEntry, error)

	// TruncateAfter removes all of a channel's entries with an id greater
	// than entryID.
	TruncateAfter(ctx context.Context, channelID string, entryID int64) error

	// DeleteChannel removes all entries for a channel.
	DeleteChannel(ctx context.Context, channelID string) error

	// Close releases underlying resources.
	Close() error
}

func stamp(entry *v1.TranscriptEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}
