package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// ActivityRepository is the durable ActivityStore backed by user_activity.
type ActivityRepository struct {
	pool *pgxpool.Pool
	tx   *TransactionManager
}

var _ ports.ActivityStore = (*ActivityRepository)(nil)

func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{
		pool: pool,
		tx:   NewTransactionManager(pool),
	}
}

const activityColumns = `user_id, project_id, action, last_action_at, is_online, last_seen_at`

func scanActivity(row pgx.Row) (domain.ActivityEntry, error) {
	var entry domain.ActivityEntry
	err := row.Scan(
		&entry.UserID,
		&entry.ProjectID,
		&entry.Action,
		&entry.LastActionAt,
		&entry.IsOnline,
		&entry.LastSeenAt,
	)
	entry.LastActionAt = entry.LastActionAt.UTC()
	entry.LastSeenAt = entry.LastSeenAt.UTC()
	return entry, err
}

// Upsert records a ping. The previous row is locked so wasOnline reflects
// the state this write replaced.
func (r *ActivityRepository) Upsert(ctx context.Context, update domain.ActivityUpdate) (domain.ActivityEntry, bool, error) {
	var (
		entry     domain.ActivityEntry
		wasOnline bool
	)

	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		q := GetDBTX(ctx, r.pool)

		const lockQuery = `
SELECT is_online FROM user_activity
WHERE user_id = $1 AND project_id = $2
FOR UPDATE
`
		err := q.QueryRow(ctx, lockQuery, update.UserID, update.ProjectID).Scan(&wasOnline)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock activity: %w", err)
		}

		const upsertQuery = `
INSERT INTO user_activity (user_id, project_id, action, last_action_at, is_online, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $4)
ON CONFLICT (user_id, project_id) DO UPDATE SET
    action = CASE WHEN EXCLUDED.action = '' THEN user_activity.action ELSE EXCLUDED.action END,
    last_action_at = EXCLUDED.last_action_at,
    is_online = EXCLUDED.is_online,
    last_seen_at = EXCLUDED.last_seen_at
RETURNING ` + activityColumns

		entry, err = scanActivity(q.QueryRow(ctx, upsertQuery,
			update.UserID,
			update.ProjectID,
			update.Action,
			update.Timestamp,
			!update.IsOffline,
		))
		if err != nil {
			return fmt.Errorf("upsert activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ActivityEntry{}, false, err
	}
	return entry, wasOnline, nil
}

// ListRecent returns up to limit entries of a project, newest action first.
// A limit <= 0 returns every entry.
func (r *ActivityRepository) ListRecent(ctx context.Context, projectID int64, limit int) ([]domain.ActivityEntry, error) {
	query := `
SELECT ` + activityColumns + `
FROM user_activity
WHERE project_id = $1
ORDER BY last_action_at DESC, user_id ASC
`
	args := []any{projectID}
	if limit > 0 {
		query += `LIMIT $2`
		args = append(args, limit)
	}

	return r.queryEntries(ctx, query, args...)
}

// MarkStaleOffline flips online entries last seen strictly before cutoff.
// last_seen_at is left untouched.
func (r *ActivityRepository) MarkStaleOffline(ctx context.Context, projectID int64, cutoff time.Time) ([]domain.ActivityEntry, error) {
	const query = `
UPDATE user_activity
SET is_online = FALSE
WHERE project_id = $1 AND is_online AND last_seen_at < $2
RETURNING ` + activityColumns

	entries, err := r.queryEntries(ctx, query, projectID, cutoff)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries, nil
}

// ProjectsWithOnlineUsers lists projects with at least one online entry.
func (r *ActivityRepository) ProjectsWithOnlineUsers(ctx context.Context) ([]int64, error) {
	const query = `
SELECT DISTINCT project_id FROM user_activity
WHERE is_online
ORDER BY project_id
`
	rows, err := GetDBTX(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query online projects: %w", err)
	}

	projects, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan online projects: %w", err)
	}
	return projects, nil
}

func (r *ActivityRepository) queryEntries(ctx context.Context, query string, args ...any) ([]domain.ActivityEntry, error) {
	rows, err := GetDBTX(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ActivityEntry, 0)
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}
