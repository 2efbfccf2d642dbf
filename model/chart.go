package model

import "time"

// Chart types a week produces. Album entries are only produced when the
// provider reports album metadata for a track.
const (
	ChartTypeArtist = "artist"
	ChartTypeTrack  = "track"
	ChartTypeAlbum  = "album"
)

// WeeklyStats is the per-(group, week) summary row. WeekStart is always
// midnight UTC of the group's tracking day.
type WeeklyStats struct {
	ID          int64          `json:"id"`
	GroupID     int64          `json:"groupId"`
	WeekStart   time.Time      `json:"weekStart"`
	TotalPlays  int            `json:"totalPlays"`
	MemberPlays map[string]int `json:"memberPlays"` // username -> plays that week, stored as JSON
	CreatedAt   time.Time      `json:"createdAt"`
}

// ChartEntry is one ranked row of a group chart for one week. EntryKey is the
// normalized stable identity of the artist/track/album across weeks.
type ChartEntry struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"groupId"`
	WeekStart time.Time `json:"weekStart"`
	ChartType string    `json:"chartType"`
	EntryKey  string    `json:"entryKey"`
	Artist    string    `json:"artist"`
	Title     string    `json:"title,omitempty"` // empty for artist entries
	Rank      int       `json:"rank"`
	PlayCount int       `json:"playCount"`
	Listeners int       `json:"listeners"` // members who played it that week
	Score     float64   `json:"score"`

	// Week-over-week movement, filled by the trend calculator for the most
	// recent week of a run.
	PreviousRank  *int `json:"previousRank,omitempty"`
	PositionDelta *int `json:"positionDelta,omitempty"`
	IsNewEntry    bool `json:"isNewEntry"`
}

// GroupStats is the all-time aggregate row for a group, recomputed once at the
// end of every successful generation run.
type GroupStats struct {
	ID             int64     `json:"id"`
	GroupID        int64     `json:"groupId"`
	TotalWeeks     int       `json:"totalWeeks"`
	TotalPlays     int       `json:"totalPlays"`
	DistinctTracks int       `json:"distinctTracks"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
