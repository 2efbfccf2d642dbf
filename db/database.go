package db

import (
	"database/sql"
	"fmt"
	"log"

	"groupfm/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createGroupsTable(); err != nil {
		return err
	}
	if err := createGroupMembersTable(); err != nil {
		return err
	}
	if err := createWeeklyStatsTable(); err != nil {
		return err
	}
	if err := createChartEntriesTable(); err != nil {
		return err
	}
	if err := createGroupStatsTable(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createGroupsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + "`groups`" + ` (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		chart_size INT NOT NULL DEFAULT 25,
		tracking_day_of_week TINYINT NOT NULL DEFAULT 0,
		chart_mode VARCHAR(16) NOT NULL DEFAULT 'plays',
		generation_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
		generation_started_at TIMESTAMP NULL DEFAULT NULL,
		last_failed_users TEXT,
		last_generation_aborted BOOLEAN,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create groups table: %w", err)
	}
	return nil
}

func createGroupMembersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS group_members (
		id INT AUTO_INCREMENT PRIMARY KEY,
		group_id INT NOT NULL,
		username VARCHAR(255) NOT NULL,
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT fk_member_group FOREIGN KEY (group_id) REFERENCES ` + "`groups`" + `(id) ON DELETE CASCADE,
		CONSTRAINT uq_group_member UNIQUE (group_id, username)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create group_members table: %w", err)
	}
	return nil
}

func createWeeklyStatsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS weekly_stats (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		group_id INT NOT NULL,
		week_start DATETIME NOT NULL,
		total_plays INT NOT NULL DEFAULT 0,
		member_plays TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT fk_stats_group FOREIGN KEY (group_id) REFERENCES ` + "`groups`" + `(id) ON DELETE CASCADE,
		CONSTRAINT uq_group_week UNIQUE (group_id, week_start)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create weekly_stats table: %w", err)
	}
	return nil
}

func createChartEntriesTable() error {
	// rank is a reserved word in MySQL 8, hence rank_position.
	query := `
	CREATE TABLE IF NOT EXISTS chart_entries (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		group_id INT NOT NULL,
		week_start DATETIME NOT NULL,
		chart_type VARCHAR(16) NOT NULL,
		entry_key VARCHAR(512) NOT NULL,
		artist VARCHAR(255) NOT NULL,
		title VARCHAR(255),
		rank_position INT NOT NULL,
		play_count INT NOT NULL DEFAULT 0,
		listeners INT NOT NULL DEFAULT 0,
		score DOUBLE NOT NULL DEFAULT 0,
		previous_rank INT,
		position_delta INT,
		is_new_entry BOOLEAN NOT NULL DEFAULT FALSE,
		CONSTRAINT fk_entry_group FOREIGN KEY (group_id) REFERENCES ` + "`groups`" + `(id) ON DELETE CASCADE,
		CONSTRAINT uq_entry UNIQUE (group_id, week_start, chart_type, entry_key(191)),
		INDEX idx_entry_identity (group_id, chart_type, entry_key(191))
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create chart_entries table: %w", err)
	}
	return nil
}

func createGroupStatsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS group_stats (
		id INT AUTO_INCREMENT PRIMARY KEY,
		group_id INT NOT NULL,
		total_weeks INT NOT NULL DEFAULT 0,
		total_plays INT NOT NULL DEFAULT 0,
		distinct_tracks INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_gstats_group FOREIGN KEY (group_id) REFERENCES ` + "`groups`" + `(id) ON DELETE CASCADE,
		CONSTRAINT uq_gstats_group UNIQUE (group_id)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create group_stats table: %w", err)
	}
	return nil
}
