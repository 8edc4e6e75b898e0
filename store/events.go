package store

// events.go contains all SQL query functions for the events table -- the append-only
// lifecycle event log described in SPEC_FULL.md §4.6. append requires the owning preview
// row to already exist; see AppendEvent below for the NotFound behavior that enforces
// the "record-before-event ordering" design note.

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/previewd/previewd/models"
)

// AppendEvent writes one event row. if previewRef does not match any row in previews
// (the owning record has not been committed yet, or has been GC'd), it fails with
// ErrRecordNotFound rather than silently writing an orphaned event -- the orchestrator
// must insert the CREATING record before its first event, per the "record-before-event
// ordering" design note in SPEC_FULL.md §9.
func (s *Store) AppendEvent(previewRef string, eventType models.EventType, message string, metadata map[string]any) error {
	var exists int
	err := s.conn.QueryRow(`SELECT 1 FROM previews WHERE preview_id = ?`, previewRef).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check preview %q before event append: %w", previewRef, err)
	}

	var metadataJSON *string
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata for preview %q: %w", previewRef, err)
		}
		s := string(encoded)
		metadataJSON = &s
	}

	var prNumber *int
	if row := s.conn.QueryRow(`SELECT pull_request_number FROM previews WHERE preview_id = ?`, previewRef); row != nil {
		_ = row.Scan(&prNumber) // best-effort copy for convenience filtering; nil on any scan failure
	}

	query := `
		INSERT INTO events (preview_ref, pull_request_number, type, message, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.Exec(query, previewRef, prNumber, eventType, message, metadataJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append event for preview %q: %w", previewRef, err)
	}
	return nil
}

// EventFilters narrows ListEvents; an empty Type means no type filter.
type EventFilters struct {
	Type   models.EventType
	Limit  int
	Offset int
}

// ListEvents returns events for a preview, newest-first, honoring the optional type
// filter and limit/offset pagination. Limit defaults to 100 when zero or negative.
func (s *Store) ListEvents(previewRef string, filters EventFilters) ([]*models.LifecycleEvent, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, preview_ref, pull_request_number, type, message, metadata_json, created_at
		FROM events WHERE preview_ref = ?
	`
	args := []any{previewRef}
	if filters.Type != "" {
		query += ` AND type = ?`
		args = append(args, filters.Type)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filters.Offset)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for preview %q: %w", previewRef, err)
	}
	defer rows.Close()

	var events []*models.LifecycleEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// PaginatedEvents is the response shape for the /logs/paginated endpoint.
type PaginatedEvents struct {
	Events     []*models.LifecycleEvent
	TotalCount int
	PageCount  int
}

// PaginateEvents returns one page of events plus the total count and page count, per
// SPEC_FULL.md §4.6's paginate(identifier, page, pageSize).
func (s *Store) PaginateEvents(previewRef string, page, pageSize int) (*PaginatedEvents, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var total int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM events WHERE preview_ref = ?`, previewRef).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count events for preview %q: %w", previewRef, err)
	}

	offset := (page - 1) * pageSize
	events, err := s.ListEvents(previewRef, EventFilters{Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, err
	}

	pageCount := (total + pageSize - 1) / pageSize
	return &PaginatedEvents{Events: events, TotalCount: total, PageCount: pageCount}, nil
}

// StatsEvents returns a map from event type to count, for /logs/stats.
func (s *Store) StatsEvents(previewRef string) (map[models.EventType]int, error) {
	rows, err := s.conn.Query(`SELECT type, COUNT(*) FROM events WHERE preview_ref = ? GROUP BY type`, previewRef)
	if err != nil {
		return nil, fmt.Errorf("failed to compute event stats for preview %q: %w", previewRef, err)
	}
	defer rows.Close()

	stats := map[models.EventType]int{}
	for rows.Next() {
		var eventType models.EventType
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event stats row: %w", err)
		}
		stats[eventType] = count
	}
	return stats, rows.Err()
}

// EventsSince returns events for a preview with id greater than afterID, oldest-first --
// a polling primitive for tailing new inserts. this package has no stream function built
// on it, and no HTTP endpoint calls it.
func (s *Store) EventsSince(previewRef string, afterID int64) ([]*models.LifecycleEvent, error) {
	query := `
		SELECT id, preview_ref, pull_request_number, type, message, metadata_json, created_at
		FROM events WHERE preview_ref = ? AND id > ?
		ORDER BY id ASC
	`
	rows, err := s.conn.Query(query, previewRef, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list new events for preview %q: %w", previewRef, err)
	}
	defer rows.Close()

	var events []*models.LifecycleEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// DeleteAllEventsFor deletes every event belonging to a preview -- called by the
// reconciler's tombstone GC task before it deletes the preview row itself.
func (s *Store) DeleteAllEventsFor(previewRef string) error {
	_, err := s.conn.Exec(`DELETE FROM events WHERE preview_ref = ?`, previewRef)
	if err != nil {
		return fmt.Errorf("failed to delete events for preview %q: %w", previewRef, err)
	}
	return nil
}

// RetentionSweep deletes events older than the given number of days. this is a backstop
// behind the 30-day TTL; SQLite has no native TTL index, so the reconciler calls this on
// its own schedule to enforce it.
func (s *Store) RetentionSweep(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := s.conn.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("event retention sweep failed: %w", err)
	}
	return result.RowsAffected()
}

func scanEvent(row scanner) (*models.LifecycleEvent, error) {
	var e models.LifecycleEvent
	var metadataJSON sql.NullString
	err := row.Scan(&e.Id, &e.PreviewRef, &e.PullRequestNumber, &e.Type, &e.Message, &metadataJSON, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON.Valid {
		e.Metadata = &metadataJSON.String
	}
	return &e, nil
}
