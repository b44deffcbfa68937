package feed

import (
	"strings"
	"time"
)

// Venue flags for Protocol-A type codes. Codes are still preserved verbatim
// in the meeting's type set; this table only drives the online/hybrid flags.
var protocolAVenueCodes = map[string]struct{ online, hybrid bool }{
	"ONL": {online: true},
	"TC":  {online: true}, // temporarily closed, virtual-only
	"HY":  {hybrid: true},
	"HYB": {hybrid: true},
}

// NormalizeProtocolA maps one raw Protocol-A record to the canonical shape.
// Pure: no I/O, no shared state.
func NormalizeProtocolA(rec ProtocolARecord, source Source, fetchedAt time.Time) (Meeting, error) {
	day, hasDay := parseDayValue(rec.Day)
	startTime, hasTime := normalizeClock(rec.Time)

	if !hasDay && !hasTime {
		return Meeting{}, rejectf("record %q has neither day nor time and cannot be scheduled", rec.Name)
	}
	if !hasDay {
		return Meeting{}, rejectf("record %q has no usable day of week", rec.Name)
	}
	if !hasTime {
		return Meeting{}, rejectf("record %q has no usable start time (%q)", rec.Name, rec.Time)
	}

	m := Meeting{
		Name:       collapseWhitespace(rec.Name),
		Fellowship: source.Fellowship,
		Day:        day,
		Time:       startTime,
		Timezone:   rec.Timezone,

		Street:     collapseWhitespace(rec.Address),
		City:       collapseWhitespace(rec.City),
		State:      strings.TrimSpace(rec.State),
		PostalCode: strings.TrimSpace(rec.PostalCode),
		Venue:      collapseWhitespace(rec.Location),

		OnlineURL:       strings.TrimSpace(rec.ConferenceURL),
		ConferencePhone: strings.TrimSpace(rec.ConferencePhone),
		Notes:           strings.TrimSpace(rec.Notes),

		SourceFeed: source.Name,
		SourceURL:  source.URL,
		Protocol:   ProtocolA,
		FetchedAt:  fetchedAt,
	}

	if m.Name == "" {
		return Meeting{}, rejectf("record has no name")
	}
	if m.State == "" {
		m.State = source.State
	}

	if end, ok := normalizeClock(rec.EndTime); ok {
		m.EndTime = end
	}

	for _, code := range rec.Types {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		m.Types = append(m.Types, code)

		if venue, known := protocolAVenueCodes[strings.ToUpper(code)]; known {
			m.IsOnline = m.IsOnline || venue.online
			m.IsHybrid = m.IsHybrid || venue.hybrid
		}
	}

	// A conference link implies the meeting is joinable online even when the
	// feed omits the venue code.
	if m.OnlineURL != "" && !m.IsHybrid {
		m.IsOnline = true
	}

	if rec.Latitude != 0 || rec.Longitude != 0 {
		lat, lng := rec.Latitude, rec.Longitude
		m.Latitude = &lat
		m.Longitude = &lng
	}

	return m, nil
}
