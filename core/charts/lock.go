package charts

import (
	"time"

	"groupfm/logger"
	"groupfm/repository"
)

// LockManager guards the per-group generation lock. The lock itself lives in
// storage (the GenerationInProgress/GenerationStartedAt pair on the group) so
// multiple service instances contend correctly; this type only adds the
// staleness recovery policy on top of the repository's compare-and-set.
type LockManager struct {
	groups  repository.GroupRepository
	timeout time.Duration
	now     func() time.Time
}

// NewLockManager creates a LockManager with the given stale-lock timeout.
func NewLockManager(groups repository.GroupRepository, timeout time.Duration) *LockManager {
	return &LockManager{
		groups:  groups,
		timeout: timeout,
		now:     time.Now,
	}
}

// Acquire attempts to take the generation lock for a group. A held lock older
// than the timeout is treated as left over from a crashed run: it is
// force-cleared and acquisition retried exactly once. Returns false when the
// lock is legitimately held, which callers surface as "already in progress"
// rather than queueing.
func (m *LockManager) Acquire(groupID int64) (bool, error) {
	now := m.now().UTC()

	ok, err := m.groups.TryAcquireGenerationLock(groupID, now)
	if err != nil || ok {
		return ok, err
	}

	cleared, err := m.groups.ClearStaleGenerationLock(groupID, now.Add(-m.timeout))
	if err != nil {
		return false, err
	}
	if !cleared {
		return false, nil
	}

	logger.Warn("cleared stale generation lock",
		logger.Int64("groupId", groupID),
		logger.Duration("timeout", m.timeout))

	return m.groups.TryAcquireGenerationLock(groupID, now)
}

// Release clears the lock and persists the run's failure snapshot. Must run on
// every exit path of a run; a lock that survives an error blocks future runs
// until the timeout elapses.
func (m *LockManager) Release(groupID int64, failedUsers []string, aborted bool) error {
	return m.groups.ReleaseGenerationLock(groupID, failedUsers, aborted)
}
