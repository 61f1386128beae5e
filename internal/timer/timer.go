// Package timer holds the question-timer arithmetic shared by the session
// state machine, the response engine and the broadcast payloads. It keeps no
// state: every function takes the instants it needs.
package timer

import "time"

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// ElapsedSeconds is the whole number of seconds between start and now,
// floored, never negative.
func ElapsedSeconds(start, now time.Time) int {
	d := now.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Remaining is limit minus elapsed, floored at zero.
func Remaining(limitSeconds int, start, now time.Time) int {
	r := limitSeconds - ElapsedSeconds(start, now)
	if r < 0 {
		return 0
	}
	return r
}

// ShiftStart moves a question start forward by the time spent paused, so the
// time used before the pause is carried over to the nanosecond.
func ShiftStart(start, pausedAt, now time.Time) time.Time {
	paused := now.Sub(pausedAt)
	if paused < 0 {
		paused = 0
	}
	return start.Add(paused)
}

// ResumeStart rebuilds a question start instant so that Remaining(limit,
// ResumeStart(limit, remaining, now), now) == remaining. It works from whole
// seconds, so up to one second of used time is lost; prefer ShiftStart when
// the original start and pause instants are known.
func ResumeStart(limitSeconds, remaining int, now time.Time) time.Time {
	used := limitSeconds - remaining
	if used < 0 {
		used = 0
	}
	return now.Add(-time.Duration(used) * time.Second)
}

// LatencySeconds is the fractional time from question start to receipt.
func LatencySeconds(start, received time.Time) float64 {
	d := received.Sub(start)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func IsLate(latencySeconds float64, limitSeconds int) bool {
	return latencySeconds > float64(limitSeconds)
}
