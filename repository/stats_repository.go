package repository

import (
	"database/sql"
	"fmt"

	"groupfm/model"
)

// StatsRepository maintains the all-time aggregate stats of a group.
type StatsRepository interface {
	// RecomputeGroupStats rebuilds the group_stats row from the chart history.
	// Runs once per successful generation run, not per week.
	RecomputeGroupStats(groupID int64) error

	GetGroupStats(groupID int64) (*model.GroupStats, error)
}

// mysqlStatsRepository implements StatsRepository for MySQL.
type mysqlStatsRepository struct {
	db *sql.DB
}

// NewMySQLStatsRepository creates a new mysqlStatsRepository.
func NewMySQLStatsRepository(db *sql.DB) StatsRepository {
	return &mysqlStatsRepository{db: db}
}

// RecomputeGroupStats upserts the aggregate row from a single scan.
func (r *mysqlStatsRepository) RecomputeGroupStats(groupID int64) error {
	query := `
	INSERT INTO group_stats (group_id, total_weeks, total_plays, distinct_tracks)
	SELECT ?,
		(SELECT COUNT(*) FROM weekly_stats WHERE group_id = ?),
		(SELECT COALESCE(SUM(total_plays), 0) FROM weekly_stats WHERE group_id = ?),
		(SELECT COUNT(DISTINCT entry_key) FROM chart_entries WHERE group_id = ? AND chart_type = ?)
	ON DUPLICATE KEY UPDATE
		total_weeks = VALUES(total_weeks),
		total_plays = VALUES(total_plays),
		distinct_tracks = VALUES(distinct_tracks)
	`
	if _, err := r.db.Exec(query, groupID, groupID, groupID, groupID, model.ChartTypeTrack); err != nil {
		return fmt.Errorf("failed to recompute group stats for group %d: %w", groupID, err)
	}
	return nil
}

// GetGroupStats retrieves the all-time aggregate row for a group.
func (r *mysqlStatsRepository) GetGroupStats(groupID int64) (*model.GroupStats, error) {
	query := "SELECT id, group_id, total_weeks, total_plays, distinct_tracks, updated_at FROM group_stats WHERE group_id = ?"
	row := r.db.QueryRow(query, groupID)

	stats := &model.GroupStats{}
	err := row.Scan(&stats.ID, &stats.GroupID, &stats.TotalWeeks, &stats.TotalPlays, &stats.DistinctTracks, &stats.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Stats not computed yet
		}
		return nil, fmt.Errorf("failed to scan group stats row for group %d: %w", groupID, err)
	}
	return stats, nil
}
