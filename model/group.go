package model

import "time"

// Chart modes supported for group charts. The mode picks the scoring formula
// applied when ranking entries.
const (
	ChartModePlays = "plays" // rank by raw play count
	ChartModeVibe  = "vibe"  // play count weighted by listener spread
)

// Group represents a listening group. The GenerationInProgress /
// GenerationStartedAt pair is the per-group generation lock: InProgress true
// implies StartedAt is set.
type Group struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	ChartSize         int    `json:"chartSize"`         // entries kept per chart
	TrackingDayOfWeek int    `json:"trackingDayOfWeek"` // 0=Sunday .. 6=Saturday, week boundary day
	ChartMode         string `json:"chartMode"`

	GenerationInProgress bool       `json:"generationInProgress"`
	GenerationStartedAt  *time.Time `json:"generationStartedAt,omitempty"`

	// Failure report from the last finished run. Cleared on first read of the
	// status endpoint.
	LastFailedUsers       []string `json:"lastFailedUsers,omitempty"`
	LastGenerationAborted *bool    `json:"lastGenerationAborted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupMember links a provider account to a group.
type GroupMember struct {
	ID       int64     `json:"id"`
	GroupID  int64     `json:"groupId"`
	Username string    `json:"username"` // account name at the listening provider
	JoinedAt time.Time `json:"joinedAt"`
}
