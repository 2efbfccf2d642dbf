package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"groupfm/model"
)

// GroupRepository defines the interface for group data operations, including
// the per-group generation lock.
type GroupRepository interface {
	GetGroupByID(id int64) (*model.Group, error)
	GetMemberUsernames(groupID int64) ([]string, error)

	// TryAcquireGenerationLock performs the conditional lock update: it sets
	// generation_in_progress only if it is currently false and reports whether
	// the update took effect.
	TryAcquireGenerationLock(groupID int64, now time.Time) (bool, error)

	// ClearStaleGenerationLock force-clears a lock whose generation_started_at
	// is older than the cutoff. Returns true if a row was cleared.
	ClearStaleGenerationLock(groupID int64, cutoff time.Time) (bool, error)

	// ReleaseGenerationLock clears the lock pair and persists the failure
	// snapshot of the finished run in the same statement.
	ReleaseGenerationLock(groupID int64, failedUsers []string, aborted bool) error

	// ClearFailureReport drops the persisted failure report. Called once the
	// status endpoint has shown it to a reader.
	ClearFailureReport(groupID int64) error
}

// mysqlGroupRepository implements GroupRepository for MySQL.
type mysqlGroupRepository struct {
	db *sql.DB
}

// NewMySQLGroupRepository creates a new mysqlGroupRepository.
func NewMySQLGroupRepository(db *sql.DB) GroupRepository {
	return &mysqlGroupRepository{db: db}
}

// GetGroupByID retrieves a group by its ID.
func (r *mysqlGroupRepository) GetGroupByID(id int64) (*model.Group, error) {
	query := "SELECT id, name, chart_size, tracking_day_of_week, chart_mode, generation_in_progress, generation_started_at, last_failed_users, last_generation_aborted, created_at, updated_at FROM `groups` WHERE id = ?"
	row := r.db.QueryRow(query, id)

	group := &model.Group{}
	var startedAt sql.NullTime
	var failedUsers sql.NullString
	var aborted sql.NullBool
	err := row.Scan(&group.ID, &group.Name, &group.ChartSize, &group.TrackingDayOfWeek, &group.ChartMode,
		&group.GenerationInProgress, &startedAt, &failedUsers, &aborted, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Group not found
		}
		return nil, fmt.Errorf("failed to scan group row for ID %d: %w", id, err)
	}

	if startedAt.Valid {
		group.GenerationStartedAt = &startedAt.Time
	}
	if failedUsers.Valid && failedUsers.String != "" {
		if err := json.Unmarshal([]byte(failedUsers.String), &group.LastFailedUsers); err != nil {
			return nil, fmt.Errorf("failed to decode failed users for group %d: %w", id, err)
		}
	}
	if aborted.Valid {
		group.LastGenerationAborted = &aborted.Bool
	}
	return group, nil
}

// GetMemberUsernames retrieves the provider account names of all group members.
func (r *mysqlGroupRepository) GetMemberUsernames(groupID int64) ([]string, error) {
	query := "SELECT username FROM group_members WHERE group_id = ? ORDER BY joined_at, id"
	rows, err := r.db.Query(query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members for group %d: %w", groupID, err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}

// TryAcquireGenerationLock attempts the compare-and-set lock acquisition.
func (r *mysqlGroupRepository) TryAcquireGenerationLock(groupID int64, now time.Time) (bool, error) {
	query := "UPDATE `groups` SET generation_in_progress = TRUE, generation_started_at = ? WHERE id = ? AND generation_in_progress = FALSE"
	res, err := r.db.Exec(query, now.UTC(), groupID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire generation lock for group %d: %w", groupID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for group %d lock: %w", groupID, err)
	}
	return affected == 1, nil
}

// ClearStaleGenerationLock clears a lock held since before the cutoff. The
// timestamp condition keeps this from racing a live run that just acquired.
func (r *mysqlGroupRepository) ClearStaleGenerationLock(groupID int64, cutoff time.Time) (bool, error) {
	query := "UPDATE `groups` SET generation_in_progress = FALSE, generation_started_at = NULL WHERE id = ? AND generation_in_progress = TRUE AND generation_started_at < ?"
	res, err := r.db.Exec(query, groupID, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to clear stale lock for group %d: %w", groupID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for group %d stale lock clear: %w", groupID, err)
	}
	return affected == 1, nil
}

// ReleaseGenerationLock releases the lock and writes the failure snapshot.
func (r *mysqlGroupRepository) ReleaseGenerationLock(groupID int64, failedUsers []string, aborted bool) error {
	var failedJSON sql.NullString
	if len(failedUsers) > 0 {
		data, err := json.Marshal(failedUsers)
		if err != nil {
			return fmt.Errorf("failed to encode failed users for group %d: %w", groupID, err)
		}
		failedJSON = sql.NullString{String: string(data), Valid: true}
	}

	var abortedVal sql.NullBool
	if aborted || len(failedUsers) > 0 {
		abortedVal = sql.NullBool{Bool: aborted, Valid: true}
	}

	query := "UPDATE `groups` SET generation_in_progress = FALSE, generation_started_at = NULL, last_failed_users = ?, last_generation_aborted = ? WHERE id = ?"
	if _, err := r.db.Exec(query, failedJSON, abortedVal, groupID); err != nil {
		return fmt.Errorf("failed to release generation lock for group %d: %w", groupID, err)
	}
	return nil
}

// ClearFailureReport clears the read-once failure report fields.
func (r *mysqlGroupRepository) ClearFailureReport(groupID int64) error {
	query := "UPDATE `groups` SET last_failed_users = NULL, last_generation_aborted = NULL WHERE id = ?"
	if _, err := r.db.Exec(query, groupID); err != nil {
		return fmt.Errorf("failed to clear failure report for group %d: %w", groupID, err)
	}
	return nil
}
