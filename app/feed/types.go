package feed

import (
	"encoding/json"
	"time"
)

// Protocol identifies the wire format a feed source speaks. It is declared
// in the source configuration and never inferred from payload shape.
type Protocol string

const (
	ProtocolA Protocol = "protocol_a" // WordPress-plugin-style meeting list
	ProtocolB Protocol = "protocol_b" // toolkit-style meeting list
)

// Source describes one configured feed. Immutable for the lifetime of a run.
type Source struct {
	Index      int      // Position in the configured scrape order
	Name       string   `yaml:"name"`
	State      string   `yaml:"state"`
	Fellowship string   `yaml:"fellowship"`
	URL        string   `yaml:"url"`
	Protocol   Protocol `yaml:"protocol"`
}

// ProtocolARecord is one raw record from a Protocol-A feed.
type ProtocolARecord struct {
	Name            string          `json:"name"`
	Day             json.RawMessage `json:"day"` // integer or quoted integer, 0=Sunday
	Time            string          `json:"time"`
	EndTime         string          `json:"end_time"`
	Timezone        string          `json:"timezone"`
	Types           []string        `json:"types"`
	ConferenceURL   string          `json:"conference_url"`
	ConferencePhone string          `json:"conference_phone"`
	Notes           string          `json:"notes"`
	Location        string          `json:"location"`
	Address         string          `json:"formatted_address"`
	City            string          `json:"city"`
	State           string          `json:"state"`
	PostalCode      string          `json:"postal_code"`
	Latitude        float64         `json:"latitude"`
	Longitude       float64         `json:"longitude"`
}

// ProtocolBRecord is one raw record from a Protocol-B feed. The upstream
// serializes nearly everything as strings, including numbers.
type ProtocolBRecord struct {
	MeetingName        string `json:"meeting_name"`
	WeekdayTinyint     string `json:"weekday_tinyint"`
	StartTime          string `json:"start_time"`
	DurationTime       string `json:"duration_time"`
	VenueType          string `json:"venue_type"` // 1=in-person, 2=virtual, 3=hybrid
	VirtualMeetingLink string `json:"virtual_meeting_link"`
	PhoneMeetingNumber string `json:"phone_meeting_number"`
	Comments           string `json:"comments"`
	LocationText       string `json:"location_text"`
	LocationStreet     string `json:"location_street"`
	LocationCity       string `json:"location_municipality"`
	LocationProvince   string `json:"location_province"`
	LocationPostalCode string `json:"location_postal_code_1"`
	Latitude           string `json:"latitude"`
	Longitude          string `json:"longitude"`
	Formats            string `json:"formats"` // comma-separated format codes
}

// RawFeed is the tagged union a fetch produces: exactly one protocol's
// records are populated, matching the source's declared protocol.
type RawFeed struct {
	Protocol Protocol
	RecordsA []ProtocolARecord
	RecordsB []ProtocolBRecord
}

func (f RawFeed) Len() int {
	if f.Protocol == ProtocolA {
		return len(f.RecordsA)
	}
	return len(f.RecordsB)
}

// Meeting is the canonical record both protocols converge to.
type Meeting struct {
	Name       string
	Fellowship string
	Day        int    // 0=Sunday .. 6=Saturday
	Time       string // 24-hour HH:MM
	EndTime    string // 24-hour HH:MM, optional
	Timezone   string

	Street     string
	City       string
	State      string
	PostalCode string
	Venue      string // venue/location name, if the feed carries one
	Latitude   *float64
	Longitude  *float64

	IsOnline        bool
	IsHybrid        bool
	OnlineURL       string
	ConferencePhone string

	Types []string
	Notes string

	// Extra carries protocol fields with no canonical column. Keys are
	// sanitized by the persistence layer before writes.
	Extra map[string]interface{}

	// Provenance
	SourceFeed string
	SourceURL  string
	Protocol   Protocol
	FetchedAt  time.Time
}
