package models

import "time"

// PollWindow bounds when a poll accepts votes. The dedup marker TTL is
// derived from ClosesAt so a marker never outlives its usefulness but
// also never expires while the poll is still open (up to the configured
// cap).
type PollWindow struct {
	PollID   string
	OpensAt  time.Time
	ClosesAt time.Time
}

// OpenAt reports whether the poll accepts votes at t.
func (w *PollWindow) OpenAt(t time.Time) bool {
	return !t.Before(w.OpensAt) && t.Before(w.ClosesAt)
}
