package records

import (
	"math"
	"sort"
	"time"

	"groupfm/model"
	"groupfm/repository"
)

// Candidate is one entry newly created by a generation run, fed to the
// incremental calculation. Candidates are deduplicated by identity with the
// best (lowest) rank kept.
type Candidate struct {
	ChartType string    `json:"chartType"`
	EntryKey  string    `json:"entryKey"`
	Artist    string    `json:"artist"`
	Title     string    `json:"title,omitempty"`
	Rank      int       `json:"rank"`
	Score     float64   `json:"score"`
	WeekStart time.Time `json:"weekStart"`
}

// MemberWeek carries one generated week's per-member play totals.
type MemberWeek struct {
	WeekStart time.Time      `json:"weekStart"`
	Plays     map[string]int `json:"plays"`
}

// DedupeCandidates collapses candidates by (chartType, entryKey), keeping the
// best rank and the highest single-week score seen.
func DedupeCandidates(cands []Candidate) []Candidate {
	byKey := make(map[string]Candidate, len(cands))
	var order []string
	for _, c := range cands {
		key := c.ChartType + "|" + c.EntryKey
		best, ok := byKey[key]
		if !ok {
			byKey[key] = c
			order = append(order, key)
			continue
		}
		if c.Rank < best.Rank {
			best.Rank = c.Rank
		}
		if c.Score > best.Score {
			best.Score = c.Score
			best.WeekStart = c.WeekStart
		}
		byKey[key] = best
	}

	out := make([]Candidate, 0, len(byKey))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// displayName renders the holder string of an entry superlative.
func displayName(artist, title string) string {
	if title == "" {
		return artist
	}
	return artist + " - " + title
}

// challenge replaces the record only when the challenger's value strictly
// dominates. Ties keep the existing holder.
func challenge(records model.SuperlativeMap, key string, s model.Superlative) bool {
	if s.Value <= 0 {
		return false
	}
	existing, ok := records[key]
	if ok && s.Value <= existing.Value {
		return false
	}
	records[key] = s
	return true
}

// ComputeFull rebuilds every superlative by scanning the group's whole chart
// history. Deterministic: iteration over aggregated values is key-sorted, so
// ties resolve the same way on every run.
func ComputeFull(entries []*model.ChartEntry, weeks []*model.WeeklyStats) model.SuperlativeMap {
	type entryTotals struct {
		artist     string
		title      string
		weeksAtOne int64
		totalScore float64
		weeks      int64
	}

	trackTotals := make(map[string]*entryTotals)
	artistWeeksAtOne := make(map[string]*entryTotals)
	records := make(model.SuperlativeMap)

	for _, e := range entries {
		switch e.ChartType {
		case model.ChartTypeTrack:
			t, ok := trackTotals[e.EntryKey]
			if !ok {
				t = &entryTotals{artist: e.Artist, title: e.Title}
				trackTotals[e.EntryKey] = t
			}
			t.totalScore += e.Score
			t.weeks++
			if e.Rank == 1 {
				t.weeksAtOne++
			}
			week := e.WeekStart
			challenge(records, model.RecordHighestWeeklyScore, model.Superlative{
				Holder:    displayName(e.Artist, e.Title),
				Value:     int64(math.Round(e.Score)),
				WeekStart: &week,
			})
		case model.ChartTypeArtist:
			if e.Rank != 1 {
				continue
			}
			a, ok := artistWeeksAtOne[e.EntryKey]
			if !ok {
				a = &entryTotals{artist: e.Artist}
				artistWeeksAtOne[e.EntryKey] = a
			}
			a.weeksAtOne++
		}
	}

	for _, key := range sortedKeys(trackTotals) {
		t := trackTotals[key]
		holder := displayName(t.artist, t.title)
		challenge(records, model.RecordMostWeeksAtNumberOne, model.Superlative{Holder: holder, Value: t.weeksAtOne})
		challenge(records, model.RecordMostTotalScore, model.Superlative{Holder: holder, Value: int64(math.Round(t.totalScore))})
		challenge(records, model.RecordMostWeeksCharted, model.Superlative{Holder: holder, Value: t.weeks})
	}
	for _, key := range sortedKeys(artistWeeksAtOne) {
		a := artistWeeksAtOne[key]
		challenge(records, model.RecordArtistMostWeeksAtNumberOne, model.Superlative{Holder: a.artist, Value: a.weeksAtOne})
	}

	for _, w := range weeks {
		applyMemberWeek(records, w.WeekStart, w.MemberPlays)
	}

	return records
}

// UpdateIncremental re-evaluates only the superlatives a new entry could have
// improved, given the candidates' all-time aggregates. Pure over its inputs so
// it can be property-tested against ComputeFull. Returns the updated map and
// whether anything changed; the input map is not mutated.
func UpdateIncremental(existing model.SuperlativeMap, cands []Candidate, aggs map[string]repository.EntryAggregate, memberWeeks []MemberWeek) (model.SuperlativeMap, bool) {
	records := make(model.SuperlativeMap, len(existing))
	for k, v := range existing {
		records[k] = v
	}

	changed := false
	for _, c := range sortedCandidates(cands) {
		agg, ok := aggs[repository.AggregateKey(c.ChartType, c.EntryKey)]
		if !ok {
			continue
		}
		switch c.ChartType {
		case model.ChartTypeTrack:
			holder := displayName(c.Artist, c.Title)
			if challenge(records, model.RecordMostWeeksAtNumberOne, model.Superlative{Holder: holder, Value: agg.WeeksAtNumberOne}) {
				changed = true
			}
			if challenge(records, model.RecordMostTotalScore, model.Superlative{Holder: holder, Value: int64(math.Round(agg.TotalScore))}) {
				changed = true
			}
			if challenge(records, model.RecordMostWeeksCharted, model.Superlative{Holder: holder, Value: agg.WeeksCharted}) {
				changed = true
			}
			week := c.WeekStart
			if challenge(records, model.RecordHighestWeeklyScore, model.Superlative{
				Holder:    holder,
				Value:     int64(math.Round(c.Score)),
				WeekStart: &week,
			}) {
				changed = true
			}
		case model.ChartTypeArtist:
			if challenge(records, model.RecordArtistMostWeeksAtNumberOne, model.Superlative{Holder: c.Artist, Value: agg.WeeksAtNumberOne}) {
				changed = true
			}
		}
	}

	for _, w := range memberWeeks {
		if applyMemberWeek(records, w.WeekStart, w.Plays) {
			changed = true
		}
	}

	return records, changed
}

// applyMemberWeek challenges the per-member single-week play record.
func applyMemberWeek(records model.SuperlativeMap, weekStart time.Time, plays map[string]int) bool {
	changed := false
	usernames := make([]string, 0, len(plays))
	for u := range plays {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	for _, u := range usernames {
		week := weekStart
		if challenge(records, model.RecordMostMemberPlaysWeek, model.Superlative{
			Holder:    u,
			Value:     int64(plays[u]),
			WeekStart: &week,
		}) {
			changed = true
		}
	}
	return changed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCandidates(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChartType != out[j].ChartType {
			return out[i].ChartType < out[j].ChartType
		}
		return out[i].EntryKey < out[j].EntryKey
	})
	return out
}
