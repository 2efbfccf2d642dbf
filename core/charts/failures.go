package charts

// FailureSet accumulates members whose data fetch failed during one generation
// run. It lives in memory for the duration of the run; only its final snapshot
// is persisted onto the group. Once a member is in the set they are skipped
// for every remaining week of the run: the retry budget is once per run, not
// once per week.
type FailureSet struct {
	threshold int
	failed    map[string]struct{}
	order     []string
}

// NewFailureSet creates a FailureSet with the abort threshold for a group of
// the given size. The threshold is a majority of the membership: a run that
// loses half the group is unusable rather than degraded.
func NewFailureSet(memberCount int) *FailureSet {
	return &FailureSet{
		threshold: memberCount/2 + 1,
		failed:    make(map[string]struct{}),
	}
}

// Add records a failed member. Adding the same member twice is a no-op.
func (s *FailureSet) Add(username string) {
	if _, ok := s.failed[username]; ok {
		return
	}
	s.failed[username] = struct{}{}
	s.order = append(s.order, username)
}

// Contains reports whether the member already failed this run.
func (s *FailureSet) Contains(username string) bool {
	_, ok := s.failed[username]
	return ok
}

// Count returns the number of distinct failed members.
func (s *FailureSet) Count() int {
	return len(s.failed)
}

// Members returns the failed members in first-failure order.
func (s *FailureSet) Members() []string {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ShouldAbort reports whether the cumulative failure count crossed the abort
// threshold.
func (s *FailureSet) ShouldAbort() bool {
	return len(s.failed) >= s.threshold
}
