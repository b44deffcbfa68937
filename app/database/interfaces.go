package database

import (
	"context"

	"github.com/recoverymap/aggregator/app/feed"
)

// MeetingRepository is the persistence gateway for canonical meeting records.
// Writes are idempotent: re-saving an unchanged feed resolves every record to
// a skip.
type MeetingRepository interface {
	// Resolve reports what saving the meeting would do, without writing.
	Resolve(ctx context.Context, m feed.Meeting) (Resolution, error)

	// SaveBatch persists one feed's normalized records inside a transaction.
	// Individual record failures are counted, not propagated.
	SaveBatch(ctx context.Context, meetings []feed.Meeting) (BatchResult, error)

	GetByUniqueKey(ctx context.Context, uniqueKey string) (*Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter, limit int) ([]Meeting, error)
	GetMeetingCount(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (Stats, error)
	CoverageByState(ctx context.Context) (map[string]int, error)
}
