package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"groupfm/model"
)

// EntryAggregate holds the all-time aggregates of one chart entry, used by the
// incremental records calculation.
type EntryAggregate struct {
	ChartType        string
	EntryKey         string
	Artist           string
	Title            string
	WeeksAtNumberOne int64
	TotalScore       float64
	WeeksCharted     int64
}

// AggregateKey identifies an entry aggregate across chart types.
func AggregateKey(chartType, entryKey string) string {
	return chartType + "|" + entryKey
}

// ChartRepository defines the interface for weekly stats and chart entry
// operations.
type ChartRepository interface {
	GetLastChartWeek(groupID int64) (*time.Time, error)

	// DeleteWeekRange removes weekly stats and chart entries overlapping
	// [from, to) for the group. Run before rewriting a week so regeneration is
	// idempotent even after a tracking-day change shifts week boundaries.
	DeleteWeekRange(groupID int64, from, to time.Time) error

	// SaveWeek persists one week's stats row and its chart entries in a single
	// transaction.
	SaveWeek(stats *model.WeeklyStats, entries []*model.ChartEntry) error

	GetEntriesForWeek(groupID int64, weekStart time.Time) ([]*model.ChartEntry, error)

	// UpdateEntryTrends writes the week-over-week movement fields of the given
	// entries.
	UpdateEntryTrends(entries []*model.ChartEntry) error

	// GetAllEntries and GetAllWeeklyStats feed the full records calculation.
	GetAllEntries(groupID int64) ([]*model.ChartEntry, error)
	GetAllWeeklyStats(groupID int64) ([]*model.WeeklyStats, error)

	// GetEntryAggregates returns all-time aggregates for the given entry keys
	// of one chart type, keyed by AggregateKey. Feeds the incremental records
	// calculation.
	GetEntryAggregates(groupID int64, chartType string, entryKeys []string) (map[string]EntryAggregate, error)
}

// mysqlChartRepository implements ChartRepository for MySQL.
type mysqlChartRepository struct {
	db *sql.DB
}

// NewMySQLChartRepository creates a new mysqlChartRepository.
func NewMySQLChartRepository(db *sql.DB) ChartRepository {
	return &mysqlChartRepository{db: db}
}

// GetLastChartWeek returns the most recent generated week start, or nil when
// the group has no charts yet.
func (r *mysqlChartRepository) GetLastChartWeek(groupID int64) (*time.Time, error) {
	query := "SELECT MAX(week_start) FROM weekly_stats WHERE group_id = ?"
	var last sql.NullTime
	if err := r.db.QueryRow(query, groupID).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to query last chart week for group %d: %w", groupID, err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

// DeleteWeekRange removes stats and entries overlapping [from, to).
func (r *mysqlChartRepository) DeleteWeekRange(groupID int64, from, to time.Time) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chart_entries WHERE group_id = ? AND week_start >= ? AND week_start < ?",
		groupID, from.UTC(), to.UTC()); err != nil {
		return fmt.Errorf("failed to delete chart entries for group %d: %w", groupID, err)
	}
	if _, err := tx.Exec("DELETE FROM weekly_stats WHERE group_id = ? AND week_start >= ? AND week_start < ?",
		groupID, from.UTC(), to.UTC()); err != nil {
		return fmt.Errorf("failed to delete weekly stats for group %d: %w", groupID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete transaction: %w", err)
	}
	return nil
}

// SaveWeek writes the weekly stats row and its entries transactionally.
func (r *mysqlChartRepository) SaveWeek(stats *model.WeeklyStats, entries []*model.ChartEntry) error {
	memberPlays, err := json.Marshal(stats.MemberPlays)
	if err != nil {
		return fmt.Errorf("failed to encode member plays: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO weekly_stats (group_id, week_start, total_plays, member_plays) VALUES (?, ?, ?, ?)",
		stats.GroupID, stats.WeekStart.UTC(), stats.TotalPlays, string(memberPlays))
	if err != nil {
		return fmt.Errorf("failed to insert weekly stats for group %d: %w", stats.GroupID, err)
	}
	if stats.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get weekly stats insert ID: %w", err)
	}

	insert := "INSERT INTO chart_entries (group_id, week_start, chart_type, entry_key, artist, title, rank_position, play_count, listeners, score, is_new_entry) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	stmt, err := tx.Prepare(insert)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		res, err := stmt.Exec(e.GroupID, e.WeekStart.UTC(), e.ChartType, e.EntryKey, e.Artist, e.Title,
			e.Rank, e.PlayCount, e.Listeners, e.Score, e.IsNewEntry)
		if err != nil {
			return fmt.Errorf("failed to insert chart entry %q: %w", e.EntryKey, err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get chart entry insert ID: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save transaction: %w", err)
	}
	return nil
}

const entryColumns = "id, group_id, week_start, chart_type, entry_key, artist, title, rank_position, play_count, listeners, score, previous_rank, position_delta, is_new_entry"

func scanEntry(rows *sql.Rows) (*model.ChartEntry, error) {
	e := &model.ChartEntry{}
	var title sql.NullString
	var prevRank, delta sql.NullInt64
	err := rows.Scan(&e.ID, &e.GroupID, &e.WeekStart, &e.ChartType, &e.EntryKey, &e.Artist, &title,
		&e.Rank, &e.PlayCount, &e.Listeners, &e.Score, &prevRank, &delta, &e.IsNewEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chart entry row: %w", err)
	}
	e.WeekStart = e.WeekStart.UTC()
	if title.Valid {
		e.Title = title.String
	}
	if prevRank.Valid {
		v := int(prevRank.Int64)
		e.PreviousRank = &v
	}
	if delta.Valid {
		v := int(delta.Int64)
		e.PositionDelta = &v
	}
	return e, nil
}

func (r *mysqlChartRepository) queryEntries(query string, args ...interface{}) ([]*model.ChartEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chart entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.ChartEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntriesForWeek returns all chart entries of one week, every chart type,
// ordered by rank.
func (r *mysqlChartRepository) GetEntriesForWeek(groupID int64, weekStart time.Time) ([]*model.ChartEntry, error) {
	query := "SELECT " + entryColumns + " FROM chart_entries WHERE group_id = ? AND week_start = ? ORDER BY chart_type, rank_position"
	return r.queryEntries(query, groupID, weekStart.UTC())
}

// GetAllEntries returns the group's whole chart history ordered by week.
func (r *mysqlChartRepository) GetAllEntries(groupID int64) ([]*model.ChartEntry, error) {
	query := "SELECT " + entryColumns + " FROM chart_entries WHERE group_id = ? ORDER BY week_start, chart_type, rank_position"
	return r.queryEntries(query, groupID)
}

// UpdateEntryTrends writes previous_rank, position_delta and is_new_entry.
func (r *mysqlChartRepository) UpdateEntryTrends(entries []*model.ChartEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin trend transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE chart_entries SET previous_rank = ?, position_delta = ?, is_new_entry = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare trend update statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var prevRank, delta sql.NullInt64
		if e.PreviousRank != nil {
			prevRank = sql.NullInt64{Int64: int64(*e.PreviousRank), Valid: true}
		}
		if e.PositionDelta != nil {
			delta = sql.NullInt64{Int64: int64(*e.PositionDelta), Valid: true}
		}
		if _, err := stmt.Exec(prevRank, delta, e.IsNewEntry, e.ID); err != nil {
			return fmt.Errorf("failed to update trend for entry %d: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trend transaction: %w", err)
	}
	return nil
}

// GetAllWeeklyStats returns every weekly stats row of the group, oldest first.
func (r *mysqlChartRepository) GetAllWeeklyStats(groupID int64) ([]*model.WeeklyStats, error) {
	query := "SELECT id, group_id, week_start, total_plays, member_plays, created_at FROM weekly_stats WHERE group_id = ? ORDER BY week_start"
	rows, err := r.db.Query(query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly stats for group %d: %w", groupID, err)
	}
	defer rows.Close()

	var stats []*model.WeeklyStats
	for rows.Next() {
		s := &model.WeeklyStats{}
		var memberPlays sql.NullString
		if err := rows.Scan(&s.ID, &s.GroupID, &s.WeekStart, &s.TotalPlays, &memberPlays, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan weekly stats row: %w", err)
		}
		s.WeekStart = s.WeekStart.UTC()
		if memberPlays.Valid && memberPlays.String != "" {
			if err := json.Unmarshal([]byte(memberPlays.String), &s.MemberPlays); err != nil {
				return nil, fmt.Errorf("failed to decode member plays: %w", err)
			}
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetEntryAggregates computes all-time aggregates for the given keys.
func (r *mysqlChartRepository) GetEntryAggregates(groupID int64, chartType string, entryKeys []string) (map[string]EntryAggregate, error) {
	result := make(map[string]EntryAggregate)
	if len(entryKeys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entryKeys)), ",")
	query := `SELECT entry_key, MAX(artist), MAX(COALESCE(title, '')),
		SUM(CASE WHEN rank_position = 1 THEN 1 ELSE 0 END),
		SUM(score), COUNT(*)
		FROM chart_entries WHERE group_id = ? AND chart_type = ? AND entry_key IN (` + placeholders + `) GROUP BY entry_key`

	args := make([]interface{}, 0, len(entryKeys)+2)
	args = append(args, groupID, chartType)
	for _, k := range entryKeys {
		args = append(args, k)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry aggregates for group %d: %w", groupID, err)
	}
	defer rows.Close()

	for rows.Next() {
		agg := EntryAggregate{ChartType: chartType}
		if err := rows.Scan(&agg.EntryKey, &agg.Artist, &agg.Title, &agg.WeeksAtNumberOne, &agg.TotalScore, &agg.WeeksCharted); err != nil {
			return nil, fmt.Errorf("failed to scan entry aggregate row: %w", err)
		}
		result[AggregateKey(chartType, agg.EntryKey)] = agg
	}
	return result, rows.Err()
}
