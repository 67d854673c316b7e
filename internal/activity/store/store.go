// Package store is the Postgres-backed implementation of activity.Store,
// grounded on the teacher's internal/app/storage/postgres package: raw SQL,
// $N placeholders, context propagation throughout, uuid-generated ids,
// UTC timestamps. Unlike that package (which talks to *sql.DB directly),
// this one is built on jmoiron/sqlx so struct-shaped rows (RawEvent,
// DailyCounter) can be scanned without per-column Scan() calls; rows with
// a Postgres array column (Activity.affected_folders/affected_elements)
// are still scanned by hand via lib/pq's Array adapter, the same way the
// teacher's own store.go reaches for toNullString/toNullTime helpers
// wherever a column needs more than a direct Scan.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/flowlane/pulsefeed/internal/activity"
)

// Open establishes a PostgreSQL connection pool and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store: postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return db, nil
}

// Store implements activity.Store against Postgres.
type Store struct {
	db *sqlx.DB
}

var _ activity.Store = (*Store)(nil)

// New creates a Store using the provided connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type txKey struct{}

// execer is the subset of *sqlx.DB/*sqlx.Tx every query below needs.
type execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (s *Store) execerFor(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// WithTransaction runs fn with a transaction stashed on ctx; every Store
// method called with that ctx participates in the same transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

func (s *Store) InsertRawEvent(ctx context.Context, ev activity.RawEvent) error {
	detail := ev.Detail
	if detail == nil {
		detail = json.RawMessage("{}")
	}
	_, err := s.execerFor(ctx).ExecContext(ctx, `
		INSERT INTO raw_events (session_fingerprint, project_id, actor_id, kind, target_id, target_kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.SessionFingerprint, ev.ProjectID, ev.ActorID, ev.Kind, ev.TargetID, ev.TargetKind, []byte(detail), timeOrNow(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert raw event: %w", err)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (s *Store) ClaimSession(ctx context.Context, sf string) ([]activity.RawEvent, error) {
	rows, err := s.execerFor(ctx).QueryContext(ctx, `
		SELECT id, session_fingerprint, project_id, actor_id, kind, target_id, target_kind, detail, created_at
		FROM raw_events
		WHERE session_fingerprint = $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
	`, sf)
	if err != nil {
		return nil, fmt.Errorf("store: claim session %s: %w", sf, err)
	}
	defer rows.Close()

	var events []activity.RawEvent
	for rows.Next() {
		var ev activity.RawEvent
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.SessionFingerprint, &ev.ProjectID, &ev.ActorID, &ev.Kind, &ev.TargetID, &ev.TargetKind, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan raw event: %w", err)
		}
		ev.Detail = json.RawMessage(detail)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) WriteActivity(ctx context.Context, a activity.Activity) (int64, error) {
	summaryJSON, err := json.Marshal(a.Summary)
	if err != nil {
		return 0, fmt.Errorf("store: marshal summary: %w", err)
	}

	var id int64
	err = s.execerFor(ctx).QueryRowxContext(ctx, `
		INSERT INTO activities (project_id, actor_id, title, summary, affected_folders, affected_elements, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, a.ProjectID, a.ActorID, a.Title, summaryJSON, pq.Array(a.AffectedFolders), pq.Array(a.AffectedElements), a.StartedAt, a.EndedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: write activity: %w", err)
	}
	return id, nil
}

func (s *Store) UpsertDailyCounter(ctx context.Context, date time.Time, projectID, actorID string, delta int) error {
	_, err := s.execerFor(ctx).ExecContext(ctx, `
		INSERT INTO daily_activity_summary (activity_date, project_id, actor_id, event_count, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (activity_date, project_id, actor_id)
		DO UPDATE SET event_count = daily_activity_summary.event_count + EXCLUDED.event_count, updated_at = now()
	`, date, projectID, actorID, delta)
	if err != nil {
		return fmt.Errorf("store: upsert daily counter: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sf string) error {
	_, err := s.execerFor(ctx).ExecContext(ctx, `DELETE FROM raw_events WHERE session_fingerprint = $1`, sf)
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", sf, err)
	}
	return nil
}

func scanActivities(rows *sql.Rows) ([]activity.Activity, error) {
	defer rows.Close()
	var result []activity.Activity
	for rows.Next() {
		var a activity.Activity
		var summaryRaw []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.Title, &summaryRaw, pq.Array(&a.AffectedFolders), pq.Array(&a.AffectedElements), &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("store: scan activity: %w", err)
		}
		a.SummaryRaw = summaryRaw
		if err := json.Unmarshal(summaryRaw, &a.Summary); err != nil {
			return nil, fmt.Errorf("store: decode activity summary: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func offsetFor(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}

const activityColumns = `id, project_id, actor_id, title, summary, affected_folders, affected_elements, started_at, ended_at`

// FeedByProject restricts rows to those whose affected_folders/
// affected_elements are each either empty or fully contained within the
// caller's accessible sets (an empty Postgres array is vacuously "fully
// contained" via <@, matching the "empty array always visible" rule).
func (s *Store) FeedByProject(ctx context.Context, projectID string, accessibleFolders, accessibleElements []string, page, size int) ([]activity.Activity, int, error) {
	const where = `
		WHERE project_id = $1
		AND (affected_folders = '{}' OR affected_folders <@ $2::text[])
		AND (affected_elements = '{}' OR affected_elements <@ $3::text[])
	`
	var total int
	if err := s.execerFor(ctx).QueryRowxContext(ctx, `SELECT count(*) FROM activities `+where,
		projectID, pq.Array(accessibleFolders), pq.Array(accessibleElements)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count project feed: %w", err)
	}

	rows, err := s.execerFor(ctx).QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities `+where+`
		ORDER BY ended_at DESC
		LIMIT $4 OFFSET $5
	`, projectID, pq.Array(accessibleFolders), pq.Array(accessibleElements), size, offsetFor(page, size))
	if err != nil {
		return nil, 0, fmt.Errorf("store: query project feed: %w", err)
	}
	items, err := scanActivities(rows)
	return items, total, err
}

// FeedByFolder matches activities in the folder's project whose
// affected_folders intersects the transitive descendant set, computed via
// a recursive CTE over the externally-owned folders table (parent_id).
func (s *Store) FeedByFolder(ctx context.Context, folderID string, page, size int) ([]activity.Activity, int, error) {
	const descendants = `
		WITH RECURSIVE descendant_folders AS (
			SELECT id, project_id FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id, f.project_id FROM folders f
			JOIN descendant_folders d ON f.parent_id = d.id
		)
	`
	const where = `
		FROM activities a
		WHERE a.project_id = (SELECT project_id FROM descendant_folders LIMIT 1)
		AND a.affected_folders && (SELECT array_agg(id) FROM descendant_folders)
	`
	var total int
	if err := s.execerFor(ctx).QueryRowxContext(ctx, descendants+`SELECT count(*) `+where, folderID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count folder feed: %w", err)
	}

	rows, err := s.execerFor(ctx).QueryContext(ctx, descendants+`
		SELECT `+prefixColumns("a", activityColumns)+` `+where+`
		ORDER BY a.ended_at DESC
		LIMIT $2 OFFSET $3
	`, folderID, size, offsetFor(page, size))
	if err != nil {
		return nil, 0, fmt.Errorf("store: query folder feed: %w", err)
	}
	items, err := scanActivities(rows)
	return items, total, err
}

func (s *Store) FeedByElement(ctx context.Context, elementID string, page, size int) ([]activity.Activity, int, error) {
	const where = `WHERE affected_elements @> ARRAY[$1::text]`

	var total int
	if err := s.execerFor(ctx).QueryRowxContext(ctx, `SELECT count(*) FROM activities `+where, elementID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count element feed: %w", err)
	}

	rows, err := s.execerFor(ctx).QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities `+where+`
		ORDER BY ended_at DESC
		LIMIT $2 OFFSET $3
	`, elementID, size, offsetFor(page, size))
	if err != nil {
		return nil, 0, fmt.Errorf("store: query element feed: %w", err)
	}
	items, err := scanActivities(rows)
	return items, total, err
}

func (s *Store) Heatmap(ctx context.Context, projectID string, start, end time.Time, actorID string) ([]activity.HeatmapPoint, error) {
	query := `
		SELECT activity_date, sum(event_count) AS count
		FROM daily_activity_summary
		WHERE project_id = $1 AND activity_date BETWEEN $2 AND $3
	`
	args := []interface{}{projectID, start, end}
	if actorID != "" {
		query += ` AND actor_id = $4`
		args = append(args, actorID)
	}
	query += ` GROUP BY activity_date ORDER BY activity_date ASC`

	rows, err := s.execerFor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query heatmap: %w", err)
	}
	defer rows.Close()

	var points []activity.HeatmapPoint
	for rows.Next() {
		var p activity.HeatmapPoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			return nil, fmt.Errorf("store: scan heatmap point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
