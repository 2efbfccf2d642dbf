package lastfm

import (
	"errors"
	"strconv"
	"time"
)

// Sentinel errors for failures the pipeline treats specially in logs. Both are
// still per-user failures from the caller's point of view.
var (
	ErrUserNotFound = errors.New("lastfm: user not found")
	ErrRateLimited  = errors.New("lastfm: rate limited")
)

// Audioscrobbler error code for an invalid/unknown user.
const errorCodeInvalidUser = 6

// Track is one row of a member's weekly chart.
type Track struct {
	Artist    string
	Name      string
	Album     string
	PlayCount int
}

// WeeklyTrackChart is one member's listening data for one week.
type WeeklyTrackChart struct {
	Username string
	From     time.Time
	To       time.Time
	Tracks   []Track
}

// flexInt tolerates the provider sending counts as strings or numbers.
type flexInt string

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*f = flexInt(s)
	return nil
}

func (f flexInt) Int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}

// Wire types for the user.getweeklytrackchart response.

type weeklyTrackChartResponse struct {
	WeeklyTrackChart struct {
		Track []wireTrack `json:"track"`
	} `json:"weeklytrackchart"`
	Error   int    `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type wireTrack struct {
	Name   string `json:"name"`
	Artist struct {
		Text string `json:"#text"`
	} `json:"artist"`
	Album struct {
		Text string `json:"#text"`
	} `json:"album"`
	PlayCount flexInt `json:"playcount"`
}
