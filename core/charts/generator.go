package charts

import (
	"context"
	"sort"
	"strings"
	"time"

	"groupfm/lastfm"
	"groupfm/logger"
	"groupfm/model"
)

const defaultChartSize = 25

// Provider is the listening history source consumed by the generator.
type Provider interface {
	FetchUserWeek(ctx context.Context, username string, from, to time.Time) (*lastfm.WeeklyTrackChart, error)
}

// WeekResult is the outcome of generating one calendar week for a group.
type WeekResult struct {
	Stats       *model.WeeklyStats
	Entries     []*model.ChartEntry
	FailedUsers []string // members that failed during this call
	ShouldAbort bool     // cumulative failures crossed the abort threshold
}

// Generator computes one week's charts from per-member provider data.
type Generator struct {
	provider Provider
}

// NewGenerator creates a Generator on the given provider.
func NewGenerator(provider Provider) *Generator {
	return &Generator{provider: provider}
}

// entryAgg accumulates one chart entry across members.
type entryAgg struct {
	artist    string
	title     string
	plays     int
	listeners map[string]struct{}
}

// Generate fetches each member's week and aggregates it into chart entries.
// Members already in the failure set are skipped without a fetch. A fetch
// failure marks the member failed for the rest of the run but never aborts
// the week; the abort signal fires only when the cumulative set crosses the
// threshold.
func (g *Generator) Generate(ctx context.Context, group *model.Group, weekStart time.Time, members []string, failures *FailureSet) (*WeekResult, error) {
	weekStart = weekStart.UTC()
	weekEnd := weekStart.AddDate(0, 0, 7)

	aggs := map[string]map[string]*entryAgg{
		model.ChartTypeArtist: {},
		model.ChartTypeTrack:  {},
		model.ChartTypeAlbum:  {},
	}
	memberPlays := make(map[string]int)
	totalPlays := 0
	activeMembers := 0

	result := &WeekResult{}

	for _, username := range members {
		if failures.Contains(username) {
			continue
		}

		chart, err := g.provider.FetchUserWeek(ctx, username, weekStart, weekEnd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("member data fetch failed",
				logger.Int64("groupId", group.ID),
				logger.String("username", username),
				logger.Time("weekStart", weekStart),
				logger.ErrorField(err))
			failures.Add(username)
			result.FailedUsers = append(result.FailedUsers, username)
			continue
		}

		activeMembers++
		for _, track := range chart.Tracks {
			memberPlays[username] += track.PlayCount
			totalPlays += track.PlayCount

			accumulate(aggs[model.ChartTypeArtist], EntryKey(track.Artist, ""), track.Artist, "", username, track.PlayCount)
			accumulate(aggs[model.ChartTypeTrack], EntryKey(track.Artist, track.Name), track.Artist, track.Name, username, track.PlayCount)
			if track.Album != "" {
				accumulate(aggs[model.ChartTypeAlbum], EntryKey(track.Artist, track.Album), track.Artist, track.Album, username, track.PlayCount)
			}
		}
	}

	result.ShouldAbort = failures.ShouldAbort()

	chartSize := group.ChartSize
	if chartSize <= 0 {
		chartSize = defaultChartSize
	}

	for _, chartType := range []string{model.ChartTypeArtist, model.ChartTypeTrack, model.ChartTypeAlbum} {
		result.Entries = append(result.Entries, rankEntries(group, weekStart, chartType, aggs[chartType], chartSize, activeMembers)...)
	}

	result.Stats = &model.WeeklyStats{
		GroupID:     group.ID,
		WeekStart:   weekStart,
		TotalPlays:  totalPlays,
		MemberPlays: memberPlays,
	}
	return result, nil
}

func accumulate(m map[string]*entryAgg, key, artist, title, username string, plays int) {
	agg, ok := m[key]
	if !ok {
		agg = &entryAgg{artist: artist, title: title, listeners: make(map[string]struct{})}
		m[key] = agg
	}
	agg.plays += plays
	agg.listeners[username] = struct{}{}
}

// rankEntries scores, sorts and truncates one chart type's aggregation.
func rankEntries(group *model.Group, weekStart time.Time, chartType string, aggs map[string]*entryAgg, chartSize, activeMembers int) []*model.ChartEntry {
	entries := make([]*model.ChartEntry, 0, len(aggs))
	for key, agg := range aggs {
		entries = append(entries, &model.ChartEntry{
			GroupID:   group.ID,
			WeekStart: weekStart,
			ChartType: chartType,
			EntryKey:  key,
			Artist:    agg.artist,
			Title:     agg.title,
			PlayCount: agg.plays,
			Listeners: len(agg.listeners),
			Score:     entryScore(group.ChartMode, agg.plays, len(agg.listeners), activeMembers),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].PlayCount != entries[j].PlayCount {
			return entries[i].PlayCount > entries[j].PlayCount
		}
		return entries[i].EntryKey < entries[j].EntryKey
	})

	if len(entries) > chartSize {
		entries = entries[:chartSize]
	}
	for i, e := range entries {
		e.Rank = i + 1
	}
	return entries
}

// entryScore applies the group's scoring mode. The vibe mode weights raw play
// count by how widely the entry spread across active members.
func entryScore(mode string, plays, listeners, activeMembers int) float64 {
	switch mode {
	case model.ChartModeVibe:
		if activeMembers <= 1 {
			return float64(plays)
		}
		spread := float64(listeners-1) / float64(activeMembers-1)
		return float64(plays) * (1 + spread)
	default:
		return float64(plays)
	}
}

// EntryKey builds the normalized stable identity of an artist (empty title),
// track or album.
func EntryKey(artist, title string) string {
	artist = normalizeKeyPart(artist)
	if title == "" {
		return artist
	}
	return artist + " - " + normalizeKeyPart(title)
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
