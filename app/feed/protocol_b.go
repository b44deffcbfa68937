package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	venueInPerson = "1"
	venueVirtual  = "2"
	venueHybrid   = "3"
)

// NormalizeProtocolB maps one raw Protocol-B record to the canonical shape.
// Pure: no I/O, no shared state.
func NormalizeProtocolB(rec ProtocolBRecord, source Source, fetchedAt time.Time) (Meeting, error) {
	day, hasDay := parseDayValue(json.RawMessage(rec.WeekdayTinyint))
	startTime, hasTime := normalizeClock(rec.StartTime)

	if !hasDay && !hasTime {
		return Meeting{}, rejectf("record %q has neither day nor time and cannot be scheduled", rec.MeetingName)
	}
	if !hasDay {
		return Meeting{}, rejectf("record %q has no usable day of week (%q)", rec.MeetingName, rec.WeekdayTinyint)
	}
	if !hasTime {
		return Meeting{}, rejectf("record %q has no usable start time (%q)", rec.MeetingName, rec.StartTime)
	}

	m := Meeting{
		Name:       collapseWhitespace(rec.MeetingName),
		Fellowship: source.Fellowship,
		Day:        day,
		Time:       startTime,

		Street:     collapseWhitespace(rec.LocationStreet),
		City:       collapseWhitespace(rec.LocationCity),
		State:      strings.TrimSpace(rec.LocationProvince),
		PostalCode: strings.TrimSpace(rec.LocationPostalCode),
		Venue:      collapseWhitespace(rec.LocationText),

		OnlineURL:       strings.TrimSpace(rec.VirtualMeetingLink),
		ConferencePhone: strings.TrimSpace(rec.PhoneMeetingNumber),
		Notes:           strings.TrimSpace(rec.Comments),

		SourceFeed: source.Name,
		SourceURL:  source.URL,
		Protocol:   ProtocolB,
		FetchedAt:  fetchedAt,
	}

	if m.Name == "" {
		return Meeting{}, rejectf("record has no name")
	}
	if m.State == "" {
		m.State = source.State
	}

	switch strings.TrimSpace(rec.VenueType) {
	case venueVirtual:
		m.IsOnline = true
	case venueHybrid:
		m.IsHybrid = true
	case venueInPerson, "":
		// in-person is the default
	default:
		// Unknown venue codes are kept visible in the type set rather than
		// silently dropped.
		m.Types = append(m.Types, "venue_type:"+strings.TrimSpace(rec.VenueType))
	}

	for _, code := range strings.Split(rec.Formats, ",") {
		code = strings.TrimSpace(code)
		if code != "" {
			m.Types = append(m.Types, code)
		}
	}

	if end, ok := addClockDuration(startTime, rec.DurationTime); ok {
		m.EndTime = end
	}

	if lat, lng, ok := parseCoordinates(rec.Latitude, rec.Longitude); ok {
		m.Latitude = &lat
		m.Longitude = &lng
	}

	if rec.DurationTime != "" {
		m.Extra = map[string]interface{}{"duration_time": rec.DurationTime}
	}

	return m, nil
}

func parseCoordinates(latStr, lngStr string) (float64, float64, bool) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)

	if errLat != nil || errLng != nil {
		return 0, 0, false
	}
	if lat == 0 && lng == 0 {
		return 0, 0, false
	}

	return lat, lng, true
}
