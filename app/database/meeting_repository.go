package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/recoverymap/aggregator/app/feed"
)

var _ MeetingRepository = (*meetingRepository)(nil)

type meetingRepository struct {
	db *DB
}

func NewMeetingRepository(db *DB) MeetingRepository {
	return &meetingRepository{db: db}
}

func (r *meetingRepository) Resolve(ctx context.Context, m feed.Meeting) (Resolution, error) {
	uniqueKey := feed.UniqueKey(m)
	contentHash := feed.ContentHash(m)

	var storedHash string
	err := r.db.QueryRowContext(ctx,
		`SELECT content_hash FROM meetings WHERE unique_key = ?`, uniqueKey,
	).Scan(&storedHash)

	if err == sql.ErrNoRows {
		return ResolutionInsert, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve meeting: %w", err)
	}

	if storedHash == contentHash {
		return ResolutionSkip, nil
	}
	return ResolutionUpdate, nil
}

func (r *meetingRepository) SaveBatch(ctx context.Context, meetings []feed.Meeting) (BatchResult, error) {
	var result BatchResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range meetings {
		resolution, err := r.upsertOne(ctx, tx, m)
		if err != nil {
			// A record-level write failure never aborts the batch
			slog.Warn("Failed to save meeting", "name", m.Name, "source", m.SourceFeed, "error", err)
			result.Failed++
			continue
		}

		switch resolution {
		case ResolutionInsert:
			result.Inserted++
		case ResolutionUpdate:
			result.Updated++
		case ResolutionSkip:
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit batch: %w", err)
	}

	return result, nil
}

func (r *meetingRepository) upsertOne(ctx context.Context, tx *sql.Tx, m feed.Meeting) (Resolution, error) {
	uniqueKey := feed.UniqueKey(m)
	contentHash := feed.ContentHash(m)

	var storedHash string
	err := tx.QueryRowContext(ctx,
		`SELECT content_hash FROM meetings WHERE unique_key = ?`, uniqueKey,
	).Scan(&storedHash)

	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up unique key: %w", err)
	}

	now := time.Now().UTC()

	if err == sql.ErrNoRows {
		if insertErr := r.insert(ctx, tx, m, uniqueKey, contentHash, now); insertErr != nil {
			return "", insertErr
		}
		return ResolutionInsert, nil
	}

	if storedHash == contentHash {
		if _, err := tx.ExecContext(ctx,
			`UPDATE meetings SET last_seen_at = ? WHERE unique_key = ?`, now, uniqueKey,
		); err != nil {
			return "", fmt.Errorf("failed to refresh last seen: %w", err)
		}
		return ResolutionSkip, nil
	}

	if updateErr := r.update(ctx, tx, m, uniqueKey, contentHash, now); updateErr != nil {
		return "", updateErr
	}
	return ResolutionUpdate, nil
}

func (r *meetingRepository) insert(ctx context.Context, tx *sql.Tx, m feed.Meeting, uniqueKey, contentHash string, now time.Time) error {
	types, extra, err := encodePayload(m)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meetings (
			id, unique_key, content_hash,
			name, fellowship, day, start_time, end_time, timezone,
			street, city, state, postal_code, venue, latitude, longitude,
			is_online, is_hybrid, online_url, conference_phone,
			types, notes, extra,
			source_feed, source_url, protocol, fetched_at,
			created_at, updated_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), uniqueKey, contentHash,
		m.Name, m.Fellowship, m.Day, m.Time, m.EndTime, m.Timezone,
		m.Street, m.City, m.State, m.PostalCode, m.Venue, m.Latitude, m.Longitude,
		m.IsOnline, m.IsHybrid, m.OnlineURL, m.ConferencePhone,
		types, m.Notes, extra,
		m.SourceFeed, m.SourceURL, string(m.Protocol), m.FetchedAt.UTC(),
		now, now, now)

	if err != nil {
		return fmt.Errorf("failed to insert meeting: %w", err)
	}
	return nil
}

// update rewrites every canonical field but keeps id, unique_key, and
// created_at: the dedup identity and the original provenance survive the
// update.
func (r *meetingRepository) update(ctx context.Context, tx *sql.Tx, m feed.Meeting, uniqueKey, contentHash string, now time.Time) error {
	types, extra, err := encodePayload(m)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE meetings SET
			content_hash = ?,
			name = ?, fellowship = ?, day = ?, start_time = ?, end_time = ?, timezone = ?,
			street = ?, city = ?, state = ?, postal_code = ?, venue = ?, latitude = ?, longitude = ?,
			is_online = ?, is_hybrid = ?, online_url = ?, conference_phone = ?,
			types = ?, notes = ?, extra = ?,
			source_feed = ?, source_url = ?, protocol = ?, fetched_at = ?,
			updated_at = ?, last_seen_at = ?
		WHERE unique_key = ?
	`, contentHash,
		m.Name, m.Fellowship, m.Day, m.Time, m.EndTime, m.Timezone,
		m.Street, m.City, m.State, m.PostalCode, m.Venue, m.Latitude, m.Longitude,
		m.IsOnline, m.IsHybrid, m.OnlineURL, m.ConferencePhone,
		types, m.Notes, extra,
		m.SourceFeed, m.SourceURL, string(m.Protocol), m.FetchedAt.UTC(),
		now, now, uniqueKey)

	if err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	return nil
}

// encodePayload serializes the type-code set and the sanitized extra payload.
// Key sanitization happens here, at the write boundary, so every persisted
// payload is free of forbidden key characters regardless of which protocol
// produced it.
func encodePayload(m feed.Meeting) (string, string, error) {
	typeCodes := m.Types
	if typeCodes == nil {
		typeCodes = []string{}
	}
	types, err := json.Marshal(typeCodes)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode type codes: %w", err)
	}

	extraPayload := SanitizeKeys(m.Extra)
	if extraPayload == nil {
		extraPayload = map[string]interface{}{}
	}
	extra, err := json.Marshal(extraPayload)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode extra payload: %w", err)
	}

	return string(types), string(extra), nil
}

const meetingColumns = `
	id, unique_key, content_hash,
	name, fellowship, day, start_time, end_time, timezone,
	street, city, state, postal_code, venue, latitude, longitude,
	is_online, is_hybrid, online_url, conference_phone,
	types, notes, extra,
	source_feed, source_url, protocol, fetched_at,
	created_at, updated_at, last_seen_at`

func (r *meetingRepository) GetByUniqueKey(ctx context.Context, uniqueKey string) (*Meeting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE unique_key = ?`, uniqueKey)

	meeting, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting by unique key: %w", err)
	}

	return meeting, nil
}

func (r *meetingRepository) ListMeetings(ctx context.Context, filter MeetingFilter, limit int) ([]Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`

	var conditions []string
	var args []interface{}

	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}
	if filter.Fellowship != "" {
		conditions = append(conditions, "fellowship = ?")
		args = append(args, filter.Fellowship)
	}
	if filter.Day != nil {
		conditions = append(conditions, "day = ?")
		args = append(args, *filter.Day)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY day, start_time, name LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting row: %w", err)
		}
		meetings = append(meetings, *meeting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meeting rows: %w", err)
	}

	return meetings, nil
}

func (r *meetingRepository) GetMeetingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get meeting count: %w", err)
	}
	return count, nil
}

func (r *meetingRepository) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByState:      make(map[string]int),
		ByFellowship: make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN is_online THEN 1 ELSE 0 END),
		       SUM(CASE WHEN is_hybrid THEN 1 ELSE 0 END)
		FROM meetings
	`).Scan(&stats.Total, &nullableInt{&stats.Online}, &nullableInt{&stats.Hybrid})
	if err != nil {
		return stats, fmt.Errorf("failed to get meeting stats: %w", err)
	}

	byState, err := r.CoverageByState(ctx)
	if err != nil {
		return stats, err
	}
	stats.ByState = byState

	rows, err := r.db.QueryContext(ctx,
		`SELECT fellowship, COUNT(*) FROM meetings GROUP BY fellowship`)
	if err != nil {
		return stats, fmt.Errorf("failed to get fellowship breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fellowship string
		var count int
		if err := rows.Scan(&fellowship, &count); err != nil {
			return stats, fmt.Errorf("failed to scan fellowship row: %w", err)
		}
		stats.ByFellowship[fellowship] = count
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating fellowship rows: %w", err)
	}

	return stats, nil
}

func (r *meetingRepository) CoverageByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM meetings GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to get state coverage: %w", err)
	}
	defer rows.Close()

	coverage := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan coverage row: %w", err)
		}
		coverage[state] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coverage rows: %w", err)
	}

	return coverage, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row rowScanner) (*Meeting, error) {
	var m Meeting
	var types, extra, protocol string
	var fetchedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.UniqueKey, &m.ContentHash,
		&m.Name, &m.Fellowship, &m.Day, &m.StartTime, &m.EndTime, &m.Timezone,
		&m.Street, &m.City, &m.State, &m.PostalCode, &m.Venue, &m.Latitude, &m.Longitude,
		&m.IsOnline, &m.IsHybrid, &m.OnlineURL, &m.ConferencePhone,
		&types, &m.Notes, &extra,
		&m.SourceFeed, &m.SourceURL, &protocol, &fetchedAt,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	m.Protocol = protocol
	if fetchedAt.Valid {
		t := fetchedAt.Time
		m.FetchedAt = &t
	}

	if err := json.Unmarshal([]byte(types), &m.Types); err != nil {
		return nil, fmt.Errorf("failed to decode type codes: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &m.Extra); err != nil {
		return nil, fmt.Errorf("failed to decode extra payload: %w", err)
	}

	return &m, nil
}

// nullableInt scans a SUM() that is NULL on an empty table as zero.
type nullableInt struct {
	dest *int
}

func (n *nullableInt) Scan(value interface{}) error {
	if value == nil {
		*n.dest = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dest = int(v)
	case float64:
		*n.dest = int(v)
	default:
		return fmt.Errorf("unsupported sum type %T", value)
	}
	return nil
}
