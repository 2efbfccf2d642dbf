package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GroupRecords lifecycle states.
const (
	RecordsStatusCalculating = "calculating"
	RecordsStatusCompleted   = "completed"
	RecordsStatusFailed      = "failed"
)

// Well-known record keys. The map may grow without a schema change.
const (
	RecordMostWeeksAtNumberOne       = "most_weeks_at_number_one"
	RecordArtistMostWeeksAtNumberOne = "artist_most_weeks_at_number_one"
	RecordMostTotalScore             = "most_total_score"
	RecordMostWeeksCharted           = "most_weeks_charted"
	RecordHighestWeeklyScore         = "highest_weekly_score"
	RecordMostMemberPlaysWeek        = "most_member_plays_week"
)

// Superlative is a single group record: who holds it and with what value.
type Superlative struct {
	Holder    string     `json:"holder"`
	Value     int64      `json:"value"`
	WeekStart *time.Time `json:"weekStart,omitempty"`
}

// SuperlativeMap is the records payload, stored as a JSON column.
type SuperlativeMap map[string]Superlative

// Value implements driver.Valuer so GORM can store the map as JSON.
func (m SuperlativeMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *SuperlativeMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SuperlativeMap", value)
	}
	return json.Unmarshal(data, m)
}

// GroupRecords is the singleton leaderboard-of-records row per group. A new
// calculation replaces the row wholesale rather than patching it, so readers
// never observe a half-written aggregate.
type GroupRecords struct {
	ID                   int64          `gorm:"primaryKey" json:"id"`
	GroupID              int64          `gorm:"uniqueIndex;not null" json:"groupId"`
	Status               string         `gorm:"size:16;not null" json:"status"`
	Records              SuperlativeMap `gorm:"type:json" json:"records,omitempty"`
	CalculationStartedAt time.Time      `json:"calculationStartedAt"`
	ChartsGeneratedAt    *time.Time     `json:"chartsGeneratedAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// TableName fixes the table name for GORM.
func (GroupRecords) TableName() string {
	return "group_records"
}
