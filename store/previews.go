package store

// previews.go contains all SQL query functions for the previews table. each function is
// a method on *Store and operates on a single table, following the teacher's one-file-
// per-table convention (deployments.go there, previews.go / events.go here).

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/previewd/previewd/models"
)

// PreviewFilters narrows ListPreviews by the optional fields the HTTP layer exposes as
// query parameters. a zero-value field means "no filter on this column".
type PreviewFilters struct {
	Status    models.PreviewStatus
	RepoOwner string
	RepoName  string
}

// CreatePreview inserts a new preview row with the status and fields p carries (the
// orchestrator passes CREATING with empty services/urls), stamping all three timestamps
// with the current time.
// returns ErrAlreadyExists if a row with the same preview_id is already present -- the
// metadata store's unique primary key is the second line of defense behind the
// orchestrator's in-process per-id mutex (SPEC_FULL.md §5).
func (s *Store) CreatePreview(p *models.Preview) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastAccessedAt = now

	servicesJSON, err := marshalServices(p.Services)
	if err != nil {
		return fmt.Errorf("marshal services for preview %q: %w", p.PreviewId, err)
	}
	urlsJSON, err := marshalMap(p.Urls)
	if err != nil {
		return fmt.Errorf("marshal urls for preview %q: %w", p.PreviewId, err)
	}
	envJSON, err := marshalMap(p.Env)
	if err != nil {
		return fmt.Errorf("marshal env for preview %q: %w", p.PreviewId, err)
	}
	databaseJSON, err := marshalDatabase(p.Database)
	if err != nil {
		return fmt.Errorf("marshal database for preview %q: %w", p.PreviewId, err)
	}

	query := `
		INSERT INTO previews (
			preview_id, owner_id, kind, pull_request_number,
			repo_owner, repo_name, branch, commit_sha,
			status, services_json, database_json, urls_json, env_json, password,
			created_at, updated_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.Exec(query,
		p.PreviewId, p.OwnerId, p.Kind, p.PullRequestNumber,
		p.RepoOwner, p.RepoName, p.Branch, p.CommitSha,
		p.Status, servicesJSON, databaseJSON, urlsJSON, envJSON, p.Password,
		p.CreatedAt, p.UpdatedAt, p.LastAccessedAt,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert preview %q: %w", p.PreviewId, err)
	}
	return nil
}

// GetPreview fetches a single preview row by its previewId. returns ErrRecordNotFound if
// no row matches.
func (s *Store) GetPreview(previewId string) (*models.Preview, error) {
	row := s.conn.QueryRow(selectPreviewColumns+` WHERE preview_id = ?`, previewId)
	preview, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview %q: %w", previewId, err)
	}
	return preview, nil
}

// GetPreviewByPullRequest fetches the preview for a given PR number, implementing the
// "identifier overloading" compatibility path of SPEC_FULL.md §9: the destroy/get
// endpoints accept either a numeric PR number or a previewId.
func (s *Store) GetPreviewByPullRequest(prNumber int) (*models.Preview, error) {
	row := s.conn.QueryRow(selectPreviewColumns+` WHERE pull_request_number = ? AND status != ?`,
		prNumber, models.StatusDestroyed)
	preview, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview for pr %d: %w", prNumber, err)
	}
	return preview, nil
}

// ListPreviews returns previews matching the given filters, newest-created first.
func (s *Store) ListPreviews(filters PreviewFilters) ([]*models.Preview, error) {
	query := selectPreviewColumns + ` WHERE 1=1`
	var args []any

	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.RepoOwner != "" {
		query += ` AND repo_owner = ?`
		args = append(args, filters.RepoOwner)
	}
	if filters.RepoName != "" {
		query += ` AND repo_name = ?`
		args = append(args, filters.RepoName)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list previews: %w", err)
	}
	defer rows.Close()

	var previews []*models.Preview
	for rows.Next() {
		preview, err := scanPreview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}
		previews = append(previews, preview)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preview rows: %w", err)
	}
	return previews, nil
}

// ListByStatuses returns every preview whose status is one of the given values, used by
// the reconciler (idle eviction, tombstone GC, quota enforcement, orphan sweep, metrics).
func (s *Store) ListByStatuses(statuses ...models.PreviewStatus) ([]*models.Preview, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, st)
	}
	query := selectPreviewColumns + fmt.Sprintf(` WHERE status IN (%s)`, placeholders)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list previews by status: %w", err)
	}
	defer rows.Close()

	var previews []*models.Preview
	for rows.Next() {
		preview, err := scanPreview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}
		previews = append(previews, preview)
	}
	return previews, rows.Err()
}

// CountActiveForOwner counts previews belonging to owner with status in
// {CREATING, RUNNING, UPDATING}, used by the quota gate.
func (s *Store) CountActiveForOwner(owner string) (int, error) {
	query := `
		SELECT COUNT(*) FROM previews
		WHERE owner_id = ? AND status IN (?, ?, ?)
	`
	var count int
	err := s.conn.QueryRow(query, owner, models.StatusCreating, models.StatusRunning, models.StatusUpdating).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active previews for owner %q: %w", owner, err)
	}
	return count, nil
}

// SavePreview performs a full replace of the mutable fields of an existing preview row:
// status, services, database, urls, env, commit sha, password, and the updated/last-
// accessed timestamps. it is the single write path the orchestrator uses at every state
// transition, mirroring the "atomic find-and-update keyed by previewId" requirement of
// SPEC_FULL.md §5.
func (s *Store) SavePreview(p *models.Preview) error {
	p.UpdatedAt = time.Now().UTC()

	servicesJSON, err := marshalServices(p.Services)
	if err != nil {
		return fmt.Errorf("marshal services for preview %q: %w", p.PreviewId, err)
	}
	urlsJSON, err := marshalMap(p.Urls)
	if err != nil {
		return fmt.Errorf("marshal urls for preview %q: %w", p.PreviewId, err)
	}
	envJSON, err := marshalMap(p.Env)
	if err != nil {
		return fmt.Errorf("marshal env for preview %q: %w", p.PreviewId, err)
	}
	databaseJSON, err := marshalDatabase(p.Database)
	if err != nil {
		return fmt.Errorf("marshal database for preview %q: %w", p.PreviewId, err)
	}

	query := `
		UPDATE previews SET
			status = ?, commit_sha = ?, services_json = ?, database_json = ?,
			urls_json = ?, env_json = ?, password = ?,
			updated_at = ?, last_accessed_at = ?
		WHERE preview_id = ?
	`
	result, err := s.conn.Exec(query,
		p.Status, p.CommitSha, servicesJSON, databaseJSON,
		urlsJSON, envJSON, p.Password,
		p.UpdatedAt, p.LastAccessedAt, p.PreviewId,
	)
	if err != nil {
		return fmt.Errorf("failed to save preview %q: %w", p.PreviewId, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for preview %q: %w", p.PreviewId, err)
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// TouchLastAccessed updates only last_accessed_at. accesstrack.Tracker calls it when
// flushing the Redis touch buffer (SPEC_FULL.md §4.5a) and as the straight-through
// fallback when that buffer is unavailable.
func (s *Store) TouchLastAccessed(previewId string, when time.Time) error {
	query := `UPDATE previews SET last_accessed_at = ? WHERE preview_id = ?`
	result, err := s.conn.Exec(query, when, previewId)
	if err != nil {
		return fmt.Errorf("failed to touch last_accessed_at for preview %q: %w", previewId, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for preview %q: %w", previewId, err)
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeletePreview removes a preview row. callers must delete its events first (see
// events.go's DeleteAllEventsFor) -- the reconciler's tombstone GC task does so.
func (s *Store) DeletePreview(previewId string) error {
	query := `DELETE FROM previews WHERE preview_id = ?`
	result, err := s.conn.Exec(query, previewId)
	if err != nil {
		return fmt.Errorf("failed to delete preview %q: %w", previewId, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for preview %q: %w", previewId, err)
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

const selectPreviewColumns = `
	SELECT
		preview_id, owner_id, kind, pull_request_number,
		repo_owner, repo_name, branch, commit_sha,
		status, services_json, database_json, urls_json, env_json, password,
		created_at, updated_at, last_accessed_at
	FROM previews
`

// scanner is satisfied by both *sql.Row and *sql.Rows, letting scanPreview serve both
// QueryRow (single row) and Query (multiple rows) call sites without duplicating the
// scan logic -- the same duck-typing idiom the teacher's db package uses.
type scanner interface {
	Scan(dest ...any) error
}

func scanPreview(row scanner) (*models.Preview, error) {
	var p models.Preview
	var servicesJSON string
	var databaseJSON sql.NullString
	var urlsJSON, envJSON string

	err := row.Scan(
		&p.PreviewId, &p.OwnerId, &p.Kind, &p.PullRequestNumber,
		&p.RepoOwner, &p.RepoName, &p.Branch, &p.CommitSha,
		&p.Status, &servicesJSON, &databaseJSON, &urlsJSON, &envJSON, &p.Password,
		&p.CreatedAt, &p.UpdatedAt, &p.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(servicesJSON), &p.Services); err != nil {
		return nil, fmt.Errorf("unmarshal services for preview %q: %w", p.PreviewId, err)
	}
	if err := json.Unmarshal([]byte(urlsJSON), &p.Urls); err != nil {
		return nil, fmt.Errorf("unmarshal urls for preview %q: %w", p.PreviewId, err)
	}
	if err := json.Unmarshal([]byte(envJSON), &p.Env); err != nil {
		return nil, fmt.Errorf("unmarshal env for preview %q: %w", p.PreviewId, err)
	}
	if databaseJSON.Valid && databaseJSON.String != "" {
		var database models.PreviewDatabase
		if err := json.Unmarshal([]byte(databaseJSON.String), &database); err != nil {
			return nil, fmt.Errorf("unmarshal database for preview %q: %w", p.PreviewId, err)
		}
		p.Database = &database
	}

	return &p, nil
}

func marshalServices(services []models.ServiceInstance) (string, error) {
	if services == nil {
		services = []models.ServiceInstance{}
	}
	out, err := json.Marshal(services)
	return string(out), err
}

func marshalMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	out, err := json.Marshal(m)
	return string(out), err
}

func marshalDatabase(db *models.PreviewDatabase) (*string, error) {
	if db == nil {
		return nil, nil
	}
	out, err := json.Marshal(db)
	if err != nil {
		return nil, err
	}
	s := string(out)
	return &s, nil
}

// isUniqueConstraintErr detects a SQLite unique-index violation without importing the
// sqlite3 driver's error type directly into this file's error-handling logic, matching
// how loosely the teacher's own db package couples itself to driver-specific error shapes
// (string matching rather than errors.As against a driver type).
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
