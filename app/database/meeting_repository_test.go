package database

import (
	"context"
	"testing"
	"time"

	"github.com/recoverymap/aggregator/app/feed"
)

func newTestRepository(t *testing.T) MeetingRepository {
	t.Helper()

	db, err := NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return NewMeetingRepository(db)
}

func testMeeting() feed.Meeting {
	lat, lng := 37.8044, -122.2712
	return feed.Meeting{
		Name:       "Sunday Serenity",
		Fellowship: "AA",
		Day:        0,
		Time:       "19:30",
		EndTime:    "20:30",
		Timezone:   "America/Los_Angeles",
		Street:     "123 Main St",
		City:       "Oakland",
		State:      "CA",
		Venue:      "St. Mark's Hall",
		Latitude:   &lat,
		Longitude:  &lng,
		Types:      []string{"O", "D"},
		Notes:      "Enter through the side door",
		SourceFeed: "district-12",
		SourceURL:  "https://district12.example.org/feed",
		Protocol:   feed.ProtocolA,
		FetchedAt:  time.Now().UTC(),
	}
}

func TestSaveBatchInsert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	result, err := repo.SaveBatch(ctx, []feed.Meeting{testMeeting()})
	if err != nil {
		t.Fatal(err)
	}

	if result.Inserted != 1 || result.Updated != 0 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("Expected 1 insert, got %+v", result)
	}

	stored, err := repo.GetByUniqueKey(ctx, feed.UniqueKey(testMeeting()))
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("Expected meeting to be stored")
	}
	if stored.ID == "" {
		t.Error("Expected a system-assigned id")
	}
	if stored.ID == stored.UniqueKey {
		t.Error("System id must be separate from the unique key")
	}
	if stored.Name != "Sunday Serenity" {
		t.Errorf("Expected name 'Sunday Serenity', got '%s'", stored.Name)
	}
	if stored.Latitude == nil || *stored.Latitude != 37.8044 {
		t.Errorf("Expected latitude 37.8044, got %v", stored.Latitude)
	}
	if len(stored.Types) != 2 {
		t.Errorf("Expected 2 type codes, got %v", stored.Types)
	}
}

func TestSaveBatchIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	meetings := []feed.Meeting{testMeeting()}

	first, err := repo.SaveBatch(ctx, meetings)
	if err != nil {
		t.Fatal(err)
	}
	if first.Inserted != 1 {
		t.Fatalf("Expected 1 insert on first run, got %+v", first)
	}

	// Second run over the unchanged feed produces zero new saves
	second, err := repo.SaveBatch(ctx, meetings)
	if err != nil {
		t.Fatal(err)
	}
	if second.Inserted != 0 || second.Updated != 0 {
		t.Errorf("Expected second run to be all skips, got %+v", second)
	}
	if second.Skipped != 1 {
		t.Errorf("Expected 1 skip on second run, got %+v", second)
	}

	count, err := repo.GetMeetingCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 stored meeting, got %d", count)
	}
}

func TestSaveBatchUpdateOnChange(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	original := testMeeting()
	if _, err := repo.SaveBatch(ctx, []feed.Meeting{original}); err != nil {
		t.Fatal(err)
	}

	before, err := repo.GetByUniqueKey(ctx, feed.UniqueKey(original))
	if err != nil {
		t.Fatal(err)
	}

	changed := original
	changed.Notes = "Moved to the main hall"

	result, err := repo.SaveBatch(ctx, []feed.Meeting{changed})
	if err != nil {
		t.Fatal(err)
	}
	if result.Updated != 1 || result.Inserted != 0 {
		t.Errorf("Expected 1 update, got %+v", result)
	}

	after, err := repo.GetByUniqueKey(ctx, feed.UniqueKey(changed))
	if err != nil {
		t.Fatal(err)
	}
	if after.Notes != "Moved to the main hall" {
		t.Errorf("Expected updated notes, got '%s'", after.Notes)
	}
	if after.ID != before.ID {
		t.Error("Update must keep the system id")
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Error("Update must keep created_at")
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Error("Update must not move updated_at backwards")
	}
}

func TestResolveDecisions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	m := testMeeting()

	resolution, err := repo.Resolve(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if resolution != ResolutionInsert {
		t.Errorf("Expected insert resolution for new record, got %s", resolution)
	}

	if _, err := repo.SaveBatch(ctx, []feed.Meeting{m}); err != nil {
		t.Fatal(err)
	}

	resolution, err = repo.Resolve(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if resolution != ResolutionSkip {
		t.Errorf("Expected skip resolution for identical record, got %s", resolution)
	}

	m.Time = "19:30" // unchanged
	m.Notes = "different"
	resolution, err = repo.Resolve(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if resolution != ResolutionUpdate {
		t.Errorf("Expected update resolution for changed record, got %s", resolution)
	}
}

func TestSaveBatchSanitizesExtraKeys(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	m := testMeeting()
	m.Extra = map[string]interface{}{
		"$source.meta": map[string]interface{}{
			"raw.field": "value",
		},
	}

	result, err := repo.SaveBatch(ctx, []feed.Meeting{m})
	if err != nil {
		t.Fatal(err)
	}
	if result.Inserted != 1 || result.Failed != 0 {
		t.Fatalf("Expected sanitized record to persist, got %+v", result)
	}

	stored, err := repo.GetByUniqueKey(ctx, feed.UniqueKey(m))
	if err != nil {
		t.Fatal(err)
	}
	nested, ok := stored.Extra["__dollar__source__dot__meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected sanitized top-level key, got %v", stored.Extra)
	}
	if nested["raw__dot__field"] != "value" {
		t.Errorf("Expected sanitized nested key, got %v", nested)
	}

	// The same logical record still dedups on a subsequent run
	second, err := repo.SaveBatch(ctx, []feed.Meeting{m})
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 {
		t.Errorf("Expected sanitized record to dedup on re-run, got %+v", second)
	}
}

func TestListMeetingsFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	ca := testMeeting()

	or := testMeeting()
	or.Name = "Monday Night Hope"
	or.Fellowship = "NA"
	or.State = "OR"
	or.Day = 1

	if _, err := repo.SaveBatch(ctx, []feed.Meeting{ca, or}); err != nil {
		t.Fatal(err)
	}

	all, err := repo.ListMeetings(ctx, MeetingFilter{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 meetings, got %d", len(all))
	}

	caOnly, err := repo.ListMeetings(ctx, MeetingFilter{State: "CA"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(caOnly) != 1 || caOnly[0].State != "CA" {
		t.Errorf("Expected 1 CA meeting, got %v", caOnly)
	}

	day := 1
	monday, err := repo.ListMeetings(ctx, MeetingFilter{Day: &day}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(monday) != 1 || monday[0].Day != 1 {
		t.Errorf("Expected 1 Monday meeting, got %v", monday)
	}

	na, err := repo.ListMeetings(ctx, MeetingFilter{Fellowship: "NA"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(na) != 1 || na[0].Fellowship != "NA" {
		t.Errorf("Expected 1 NA meeting, got %v", na)
	}
}

func TestGetStats(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	online := testMeeting()
	online.Name = "Zoom Noon Group"
	online.IsOnline = true

	hybrid := testMeeting()
	hybrid.Name = "Both Worlds"
	hybrid.IsHybrid = true
	hybrid.State = "OR"

	if _, err := repo.SaveBatch(ctx, []feed.Meeting{testMeeting(), online, hybrid}); err != nil {
		t.Fatal(err)
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Total != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total)
	}
	if stats.Online != 1 {
		t.Errorf("Expected 1 online, got %d", stats.Online)
	}
	if stats.Hybrid != 1 {
		t.Errorf("Expected 1 hybrid, got %d", stats.Hybrid)
	}
	if stats.ByState["CA"] != 2 || stats.ByState["OR"] != 1 {
		t.Errorf("Unexpected state breakdown: %v", stats.ByState)
	}
	if stats.ByFellowship["AA"] != 3 {
		t.Errorf("Unexpected fellowship breakdown: %v", stats.ByFellowship)
	}
}

func TestGetStatsEmptyStore(t *testing.T) {
	repo := newTestRepository(t)

	stats, err := repo.GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 || stats.Online != 0 || stats.Hybrid != 0 {
		t.Errorf("Expected zeroed stats on empty store, got %+v", stats)
	}
}

func TestGetByUniqueKeyMissing(t *testing.T) {
	repo := newTestRepository(t)

	stored, err := repo.GetByUniqueKey(context.Background(), "no|such|0|00:00")
	if err != nil {
		t.Fatal(err)
	}
	if stored != nil {
		t.Error("Expected nil for a missing key")
	}
}
