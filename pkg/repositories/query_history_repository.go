package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/database"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

const (
	// DefaultHistoryLimit applies when a listing asks for zero or fewer rows.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps every listing.
	MaxHistoryLimit = 1000

	topConnections = 5
	activityDays   = 7
)

// timestampLayout is fixed-width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// ClampHistoryLimit maps limit onto (0, MaxHistoryLimit].
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// QueryHistoryRepository provides data access for the query history.
type QueryHistoryRepository interface {
	Create(ctx context.Context, entry *models.HistoryEntry) (int64, error)
	Get(ctx context.Context, id int64) (*models.HistoryEntry, error)
	List(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, error)
	// ListAll returns every entry, newest first, ignoring the listing cap.
	ListAll(ctx context.Context) ([]models.HistoryEntry, error)
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, keepFavorites bool) (int64, error)
	Statistics(ctx context.Context, now time.Time) (*models.HistoryStatistics, error)
}

type queryHistoryRepository struct {
	db *database.DB
}

// NewQueryHistoryRepository returns a repository over a migrated history database.
func NewQueryHistoryRepository(db *database.DB) QueryHistoryRepository {
	return &queryHistoryRepository{db: db}
}

var _ QueryHistoryRepository = (*queryHistoryRepository)(nil)

const historyColumns = `id, timestamp, connection_name, question, query_text,
	exec_time_ms, row_count, success, error_message, is_favorite, tags`

func (r *queryHistoryRepository) Create(ctx context.Context, entry *models.HistoryEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO query_history (
			timestamp, connection_name, question, query_text,
			exec_time_ms, row_count, success, error_message, is_favorite, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		formatTimestamp(entry.Timestamp),
		entry.ConnectionName,
		entry.Question,
		entry.QueryText,
		entry.ExecTimeMs,
		entry.RowCount,
		entry.Success,
		entry.ErrorMessage,
		entry.Favorite,
		string(tagsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create query history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read query history id: %w", err)
	}
	entry.ID = id
	return id, nil
}

func (r *queryHistoryRepository) Get(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM query_history WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query history entry %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EscapeLike escapes LIKE wildcards so term matches literally.
func EscapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

func (r *queryHistoryRepository) List(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	return r.list(ctx, filter, ClampHistoryLimit(filter.Limit))
}

func (r *queryHistoryRepository) ListAll(ctx context.Context) ([]models.HistoryEntry, error) {
	// SQLite treats a negative LIMIT as no limit.
	return r.list(ctx, models.HistoryFilter{}, -1)
}

func (r *queryHistoryRepository) list(ctx context.Context, filter models.HistoryFilter, limit int) ([]models.HistoryEntry, error) {
	var conditions []string
	var args []any

	if filter.ConnectionName != "" {
		conditions = append(conditions, "connection_name = ?")
		args = append(args, filter.ConnectionName)
	}
	if filter.FavoritesOnly {
		conditions = append(conditions, "is_favorite = 1")
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + EscapeLike(database.FoldCase(term)) + "%"
		conditions = append(conditions, fmt.Sprintf(`(%[1]s(question) LIKE ? ESCAPE '\' OR %[1]s(query_text) LIKE ? ESCAPE '\')`, database.FoldFunc))
		args = append(args, pattern, pattern)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM query_history %s ORDER BY timestamp DESC, id DESC LIMIT ?`, historyColumns, where)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list query history entries: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query history entries: %w", err)
	}
	return entries, nil
}

func (r *queryHistoryRepository) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE query_history SET is_favorite = 1 - is_favorite WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("query history entry %d: %w", id, apperrors.ErrNotFound)
	}

	var favorite bool
	if err := tx.QueryRowContext(ctx, `SELECT is_favorite FROM query_history WHERE id = ?`, id).Scan(&favorite); err != nil {
		return false, fmt.Errorf("failed to read favorite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit favorite toggle: %w", err)
	}
	return favorite, nil
}

func (r *queryHistoryRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM query_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete query history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("query history entry %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *queryHistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, keepFavorites bool) (int64, error) {
	query := `DELETE FROM query_history WHERE timestamp < ?`
	if keepFavorites {
		query += ` AND is_favorite = 0`
	}
	res, err := r.db.ExecContext(ctx, query, formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old query history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted query history: %w", err)
	}
	return n, nil
}

func (r *queryHistoryRepository) Statistics(ctx context.Context, now time.Time) (*models.HistoryStatistics, error) {
	stats := &models.HistoryStatistics{
		TopConnections: []models.ConnectionCount{},
		RecentActivity: []models.DailyCount{},
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(is_favorite), 0)
		FROM query_history`).Scan(&stats.Total, &stats.Successful, &stats.Favorites)
	if err != nil {
		return nil, fmt.Errorf("failed to count query history: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT connection_name, COUNT(*) AS n
		FROM query_history
		GROUP BY connection_name
		ORDER BY n DESC, connection_name ASC
		LIMIT ?`, topConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to rank connections: %w", err)
	}
	for rows.Next() {
		var c models.ConnectionCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan connection count: %w", err)
		}
		stats.TopConnections = append(stats.TopConnections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection counts: %w", err)
	}

	since := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(activityDays - 1))
	rows, err = r.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day, COUNT(*)
		FROM query_history
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day ASC`, formatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("failed to summarise recent activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d models.DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		stats.RecentActivity = append(stats.RecentActivity, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily counts: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.HistoryEntry, error) {
	var (
		entry    models.HistoryEntry
		ts       string
		tagsJSON string
	)
	err := s.Scan(
		&entry.ID,
		&ts,
		&entry.ConnectionName,
		&entry.Question,
		&entry.QueryText,
		&entry.ExecTimeMs,
		&entry.RowCount,
		&entry.Success,
		&entry.ErrorMessage,
		&entry.Favorite,
		&tagsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan query history entry: %w", err)
	}

	entry.Timestamp, err = time.Parse(timestampLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q on entry %d: %w", ts, entry.ID, err)
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("invalid tags on entry %d: %w", entry.ID, err)
		}
	}
	return &entry, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
