package session

import (
	"fmt"
	"time"

	"github.com/peerprep/interviewd/pkg/store"
)

// OutOfWindowError is a policy rejection, not a failure: the participant
// tried to enter outside the allowed window and is to be redirected away
// with the scheduled times, with no retry loop.
type OutOfWindowError struct {
	Now time.Time
	// Earliest allowed entry (scheduled start minus the entry grace).
	EarliestEntry  time.Time
	ScheduledStart time.Time
	ScheduledEnd   time.Time
}

func (e *OutOfWindowError) Error() string {
	return fmt.Sprintf(
		"session scheduled for %s can only be entered between %s and %s (now %s)",
		e.ScheduledStart.Format(time.RFC3339),
		e.EarliestEntry.Format(time.RFC3339),
		e.ScheduledEnd.Format(time.RFC3339),
		e.Now.Format(time.RFC3339),
	)
}

// checkEntry decides whether a participant may enter: entry is allowed from
// `grace` before the scheduled start until the scheduled end, inclusive.
func checkEntry(now time.Time, record *store.Record, grace time.Duration) error {
	earliest := record.ScheduledStart.Add(-grace)
	latest := record.ScheduledEnd

	if now.Before(earliest) || now.After(latest) {
		return &OutOfWindowError{
			Now:            now,
			EarliestEntry:  earliest,
			ScheduledStart: record.ScheduledStart,
			ScheduledEnd:   record.ScheduledEnd,
		}
	}

	return nil
}
