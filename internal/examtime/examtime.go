// Package examtime holds the pure time arithmetic for timed submissions:
// end-time computation at begin, remaining-time capture at pause, re-based
// end-time at resume, and grace-period expiry checks. It has no
// dependencies so the timer rules can be tested in isolation.
package examtime

import "time"

// EndTime computes the hard deadline for a submission that starts timing
// at start with the given exam duration.
func EndTime(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// RemainingOnPause returns how much exam time is left at the moment of a
// pause. Never negative: a pause after expiry freezes the timer at zero.
func RemainingOnPause(end, now time.Time) time.Duration {
	remaining := end.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResumeEndTime re-bases the deadline at resume: the student gets the full
// paused remainder from the resume instant, so wall-clock time spent
// paused never counts against the timer.
func ResumeEndTime(now time.Time, remaining time.Duration) time.Time {
	return now.Add(remaining)
}

// Expired reports whether now is past the deadline plus the grace period.
// The grace window forgives client clock skew on finalize; it is not an
// admission gate.
func Expired(end, now time.Time, grace time.Duration) bool {
	return now.After(end.Add(grace))
}
