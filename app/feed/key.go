package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const keySeparator = "|"

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// UniqueKey derives the dedup identity of a meeting: a lowercase,
// diacritic-folded, whitespace-collapsed join of name, location
// discriminator, day, and time. It is a pure function of the canonical
// fields and independent of the source protocol.
func UniqueKey(m Meeting) string {
	location := m.Venue
	if location == "" {
		location = m.Street
	}
	if location == "" {
		location = m.City
	}

	parts := []string{
		foldKeyPart(m.Name),
		foldKeyPart(location),
		strconv.Itoa(m.Day),
		m.Time,
	}

	return strings.Join(parts, keySeparator)
}

// ContentHash covers every change-worthy canonical field. Two meetings with
// equal hashes are considered identical for dedup purposes; provenance
// timestamps and the system id are deliberately excluded so a re-fetch of an
// unchanged feed hashes the same.
func ContentHash(m Meeting) string {
	var lat, lng string
	if m.Latitude != nil {
		lat = strconv.FormatFloat(*m.Latitude, 'f', 6, 64)
	}
	if m.Longitude != nil {
		lng = strconv.FormatFloat(*m.Longitude, 'f', 6, 64)
	}

	content := strings.Join([]string{
		m.Name,
		m.Fellowship,
		strconv.Itoa(m.Day),
		m.Time,
		m.EndTime,
		m.Timezone,
		m.Street,
		m.City,
		m.State,
		m.PostalCode,
		m.Venue,
		lat,
		lng,
		fmt.Sprintf("%t|%t", m.IsOnline, m.IsHybrid),
		m.OnlineURL,
		m.ConferencePhone,
		strings.Join(m.Types, ","),
		m.Notes,
	}, keySeparator)

	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func foldKeyPart(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return collapseWhitespace(strings.ToLower(folded))
}
