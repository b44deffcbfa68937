package scrape

import (
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
)

// activityLogCap bounds the run's append-only activity log; only the most
// recent entries are kept.
const activityLogCap = 100

// FeedError records one feed-level failure. The run continues past it.
type FeedError struct {
	FeedIndex int       `json:"feed_index"`
	Feed      string    `json:"feed"`
	Stage     string    `json:"stage"` // fetch, parse, persist
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type Activity struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Run is the mutable state of one scrape pass. It is owned by the
// orchestrator; all mutation happens under its lock.
type Run struct {
	State         State
	CurrentIndex  int
	StopRequested bool

	Found      int
	Saved      int
	Updated    int
	Duplicates int
	Failed     int

	ByState      map[string]int
	ByFellowship map[string]int

	Activity []Activity
	Errors   []FeedError

	StartedAt  *time.Time
	FinishedAt *time.Time
}

func newRun() Run {
	return Run{
		State:        StateIdle,
		ByState:      make(map[string]int),
		ByFellowship: make(map[string]int),
	}
}

func (r *Run) logActivity(now time.Time, message string) {
	r.Activity = append(r.Activity, Activity{At: now, Message: message})
	if len(r.Activity) > activityLogCap {
		r.Activity = r.Activity[len(r.Activity)-activityLogCap:]
	}
}

// Snapshot is an immutable copy of the run state handed to pollers.
type Snapshot struct {
	State        State `json:"state"`
	CurrentIndex int   `json:"current_index"`
	TotalFeeds   int   `json:"total_feeds"`

	Found      int `json:"found"`
	Saved      int `json:"saved"`
	Updated    int `json:"updated"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`

	ByState      map[string]int `json:"by_state"`
	ByFellowship map[string]int `json:"by_fellowship"`

	Activity []Activity  `json:"activity"`
	Errors   []FeedError `json:"errors"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (r *Run) snapshot(totalFeeds int) Snapshot {
	s := Snapshot{
		State:        r.State,
		CurrentIndex: r.CurrentIndex,
		TotalFeeds:   totalFeeds,
		Found:        r.Found,
		Saved:        r.Saved,
		Updated:      r.Updated,
		Duplicates:   r.Duplicates,
		Failed:       r.Failed,
		ByState:      make(map[string]int, len(r.ByState)),
		ByFellowship: make(map[string]int, len(r.ByFellowship)),
		Activity:     make([]Activity, len(r.Activity)),
		Errors:       make([]FeedError, len(r.Errors)),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}

	for k, v := range r.ByState {
		s.ByState[k] = v
	}
	for k, v := range r.ByFellowship {
		s.ByFellowship[k] = v
	}
	copy(s.Activity, r.Activity)
	copy(s.Errors, r.Errors)

	return s
}
