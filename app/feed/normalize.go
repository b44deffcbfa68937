package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError marks a record that cannot become a canonical Meeting.
// It is counted per record by the orchestrator, never propagated as a feed
// failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3:04 pm"}

// normalizeClock coerces a source time value to zero-padded 24-hour HH:MM.
func normalizeClock(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("15:04"), true
		}
	}

	return "", false
}

// parseDayValue accepts a bare integer or a quoted integer and coerces it to
// the 0=Sunday..6=Saturday convention.
func parseDayValue(raw json.RawMessage) (int, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, false
	}
	trimmed = strings.Trim(trimmed, `"`)
	if trimmed == "" {
		return 0, false
	}

	day, err := strconv.Atoi(trimmed)
	if err != nil || day < 0 {
		return 0, false
	}

	return day % 7, true
}

// collapseWhitespace reduces any run of whitespace to a single space and
// trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func addClockDuration(start, duration string) (string, bool) {
	parts := strings.Split(duration, ":")
	if len(parts) < 2 {
		return "", false
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", false
	}
	if hours == 0 && minutes == 0 {
		return "", false
	}

	parsed, err := time.Parse("15:04", start)
	if err != nil {
		return "", false
	}

	end := parsed.Add(time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute)
	return end.Format("15:04"), true
}

func rejectf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
