package database

import (
	"time"
)

// Meeting is a persisted canonical record. The system-assigned id is separate
// from the unique key: the key is the dedup identity, the id is what external
// consumers reference.
type Meeting struct {
	ID          string // UUID assigned on insert
	UniqueKey   string
	ContentHash string

	Name       string
	Fellowship string
	Day        int    // 0=Sunday .. 6=Saturday
	StartTime  string // 24-hour HH:MM
	EndTime    string
	Timezone   string

	Street     string
	City       string
	State      string
	PostalCode string
	Venue      string
	Latitude   *float64
	Longitude  *float64

	IsOnline        bool
	IsHybrid        bool
	OnlineURL       string
	ConferencePhone string

	Types []string
	Notes string
	Extra map[string]interface{}

	SourceFeed string
	SourceURL  string
	Protocol   string
	FetchedAt  *time.Time

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt time.Time
}

// Resolution is the dedup outcome for one incoming record.
type Resolution string

const (
	ResolutionInsert Resolution = "insert"
	ResolutionUpdate Resolution = "update"
	ResolutionSkip   Resolution = "skip"
)

// BatchResult aggregates the outcomes of one feed's persisted batch.
type BatchResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

// MeetingFilter narrows listing queries. Nil/empty fields match everything.
type MeetingFilter struct {
	State      string
	Fellowship string
	Day        *int
}

// Stats summarizes the persisted store for the read surface.
type Stats struct {
	Total        int
	Online       int
	Hybrid       int
	ByState      map[string]int
	ByFellowship map[string]int
}
