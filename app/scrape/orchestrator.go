package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recoverymap/aggregator/app/cache"
	"github.com/recoverymap/aggregator/app/database"
	"github.com/recoverymap/aggregator/app/feed"
)

var (
	ErrRunActive      = errors.New("a scrape run is already active")
	ErrNotRunning     = errors.New("no scrape run is active")
	ErrStepInProgress = errors.New("a feed step is already in progress")
)

// Orchestrator drives the scrape state machine. The caller paces the run by
// invoking Step repeatedly; each step processes exactly one feed end-to-end
// and returns a status snapshot. At most one run is active at a time.
type Orchestrator struct {
	sources   *feed.SourceCache
	fetcher   *feed.Fetcher
	geocoder  *Geocoder
	meetings  database.MeetingRepository
	respCache *cache.Cache

	mu       sync.Mutex
	run      Run
	stepping bool
}

func NewOrchestrator(sources *feed.SourceCache, fetcher *feed.Fetcher, geocoder *Geocoder,
	meetings database.MeetingRepository, respCache *cache.Cache) *Orchestrator {
	return &Orchestrator{
		sources:   sources,
		fetcher:   fetcher,
		geocoder:  geocoder,
		meetings:  meetings,
		respCache: respCache,
		run:       newRun(),
	}
}

// Start transitions idle to running. A finished run must be Reset first.
func (o *Orchestrator) Start() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run.State == StateRunning {
		return o.run.snapshot(o.sources.Count()), ErrRunActive
	}
	if o.run.State != StateIdle {
		return o.run.snapshot(o.sources.Count()), fmt.Errorf("previous run is %s: reset before starting", o.run.State)
	}

	now := time.Now().UTC()
	o.run = newRun()
	o.run.State = StateRunning
	o.run.StartedAt = &now
	o.run.logActivity(now, fmt.Sprintf("Scrape started: %d feeds configured", o.sources.Count()))

	slog.Info("Scrape run started", "feeds", o.sources.Count())

	return o.run.snapshot(o.sources.Count()), nil
}

// Stop requests a halt before the next feed step. The step currently in
// flight, if any, completes first; already-saved records are kept.
func (o *Orchestrator) Stop() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run.State != StateRunning {
		return o.run.snapshot(o.sources.Count()), ErrNotRunning
	}

	o.run.StopRequested = true
	o.run.logActivity(time.Now().UTC(), "Stop requested")

	return o.run.snapshot(o.sources.Count()), nil
}

// Reset clears run state back to idle. Rejected while a run is active.
func (o *Orchestrator) Reset() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run.State == StateRunning {
		return o.run.snapshot(o.sources.Count()), ErrRunActive
	}

	o.run = newRun()
	return o.run.snapshot(o.sources.Count()), nil
}

// Status returns the current run snapshot without side effects.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.snapshot(o.sources.Count())
}

// Step processes exactly one feed: fetch, normalize every record, geocode
// fallback, dedup-resolve, persist. Feed-level failures are recorded on the
// run and the index still advances so one broken source never blocks the
// rest. The run reaches completed only after every feed was attempted.
func (o *Orchestrator) Step(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()

	if o.run.State != StateRunning {
		defer o.mu.Unlock()
		return o.run.snapshot(o.sources.Count()), ErrNotRunning
	}
	if o.stepping {
		defer o.mu.Unlock()
		return o.run.snapshot(o.sources.Count()), ErrStepInProgress
	}

	now := time.Now().UTC()

	if o.run.StopRequested {
		o.run.State = StateStopped
		o.run.FinishedAt = &now
		o.run.logActivity(now, fmt.Sprintf("Scrape stopped after %d/%d feeds", o.run.CurrentIndex, o.sources.Count()))
		slog.Info("Scrape run stopped", "processed_feeds", o.run.CurrentIndex)
		defer o.mu.Unlock()
		return o.run.snapshot(o.sources.Count()), nil
	}

	source, err := o.sources.Get(o.run.CurrentIndex)
	if err != nil {
		// No feeds configured at all
		o.run.State = StateCompleted
		o.run.FinishedAt = &now
		defer o.mu.Unlock()
		return o.run.snapshot(o.sources.Count()), nil
	}

	o.stepping = true
	o.mu.Unlock()

	outcome := o.processFeed(ctx, source)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepping = false

	o.applyOutcome(source, outcome)

	o.run.CurrentIndex++
	if o.run.CurrentIndex >= o.sources.Count() {
		finished := time.Now().UTC()
		o.run.State = StateCompleted
		o.run.FinishedAt = &finished
		o.run.logActivity(finished, fmt.Sprintf("Scrape completed: %d found, %d saved, %d updated, %d duplicates, %d failed",
			o.run.Found, o.run.Saved, o.run.Updated, o.run.Duplicates, o.run.Failed))
		slog.Info("Scrape run completed",
			"found", o.run.Found, "saved", o.run.Saved, "updated", o.run.Updated,
			"duplicates", o.run.Duplicates, "failed", o.run.Failed, "errors", len(o.run.Errors))
	}

	return o.run.snapshot(o.sources.Count()), nil
}

// feedOutcome carries one feed's results back under the lock.
type feedOutcome struct {
	found   int
	batch   database.BatchResult
	invalid int
	err     *FeedError
}

func (o *Orchestrator) processFeed(ctx context.Context, source feed.Source) feedOutcome {
	started := time.Now()
	fetchedAt := started.UTC()

	raw, err := o.fetcher.Run(ctx, source)
	if err != nil {
		stage := "fetch"
		var parseErr *feed.ParseError
		if errors.As(err, &parseErr) {
			stage = "parse"
		}
		slog.Warn("Feed failed", "feed", source.Name, "stage", stage, "error", err)
		return feedOutcome{err: &FeedError{
			FeedIndex: source.Index,
			Feed:      source.Name,
			Stage:     stage,
			Message:   err.Error(),
			At:        time.Now().UTC(),
		}}
	}

	meetings, invalid := o.normalizeAll(raw, source, fetchedAt)

	for i := range meetings {
		o.geocodeFallback(ctx, &meetings[i])
	}

	batch, err := o.meetings.SaveBatch(ctx, meetings)
	if err != nil {
		slog.Warn("Feed failed", "feed", source.Name, "stage", "persist", "error", err)
		return feedOutcome{
			found:   raw.Len(),
			invalid: invalid,
			err: &FeedError{
				FeedIndex: source.Index,
				Feed:      source.Name,
				Stage:     "persist",
				Message:   err.Error(),
				At:        time.Now().UTC(),
			},
		}
	}

	if batch.Inserted+batch.Updated > 0 {
		o.respCache.Invalidate(cache.ListingPrefix)
	}

	slog.Info("Feed processed",
		"feed", source.Name,
		"duration", time.Since(started),
		"found", raw.Len(),
		"saved", batch.Inserted,
		"updated", batch.Updated,
		"duplicates", batch.Skipped,
		"invalid", invalid,
		"failed", batch.Failed)

	return feedOutcome{found: raw.Len(), batch: batch, invalid: invalid}
}

func (o *Orchestrator) normalizeAll(raw feed.RawFeed, source feed.Source, fetchedAt time.Time) ([]feed.Meeting, int) {
	var meetings []feed.Meeting
	invalid := 0

	reject := func(err error) {
		invalid++
		slog.Debug("Record rejected", "feed", source.Name, "reason", err.Error())
	}

	switch raw.Protocol {
	case feed.ProtocolA:
		for _, rec := range raw.RecordsA {
			m, err := feed.NormalizeProtocolA(rec, source, fetchedAt)
			if err != nil {
				reject(err)
				continue
			}
			meetings = append(meetings, m)
		}
	case feed.ProtocolB:
		for _, rec := range raw.RecordsB {
			m, err := feed.NormalizeProtocolB(rec, source, fetchedAt)
			if err != nil {
				reject(err)
				continue
			}
			meetings = append(meetings, m)
		}
	}

	return meetings, invalid
}

// geocodeFallback fills in coordinates when the feed omitted them and an
// address is present. Failures leave coordinates null and never surface as
// run failures.
func (o *Orchestrator) geocodeFallback(ctx context.Context, m *feed.Meeting) {
	if m.Latitude != nil && m.Longitude != nil {
		return
	}
	if m.Street == "" && m.City == "" {
		return
	}

	lat, lng, err := o.geocoder.Resolve(ctx, m.Street, m.City, m.State, m.PostalCode)
	if err != nil {
		slog.Debug("Geocode failed", "meeting", m.Name, "error", err)
		return
	}

	m.Latitude = &lat
	m.Longitude = &lng
}

// applyOutcome folds a feed's results into the run. Assumes the lock is held.
func (o *Orchestrator) applyOutcome(source feed.Source, outcome feedOutcome) {
	now := time.Now().UTC()

	o.run.Found += outcome.found
	o.run.Saved += outcome.batch.Inserted
	o.run.Updated += outcome.batch.Updated
	o.run.Duplicates += outcome.batch.Skipped
	o.run.Failed += outcome.batch.Failed + outcome.invalid

	saved := outcome.batch.Inserted + outcome.batch.Updated
	if saved > 0 {
		o.run.ByState[source.State] += saved
		o.run.ByFellowship[source.Fellowship] += saved
	}

	if outcome.err != nil {
		o.run.Errors = append(o.run.Errors, *outcome.err)
		o.run.logActivity(now, fmt.Sprintf("Feed %q failed during %s: %s", source.Name, outcome.err.Stage, outcome.err.Message))
		return
	}

	o.run.logActivity(now, fmt.Sprintf("Processed feed %q: %d found, %d saved, %d updated, %d duplicates",
		source.Name, outcome.found, outcome.batch.Inserted, outcome.batch.Updated, outcome.batch.Skipped))
}
