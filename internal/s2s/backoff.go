package s2s

import "time"

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 5 * time.Second

	// DefaultMaxAttempts bounds S2S retries. Registration is idempotent on
	// the recorder, so retrying a timed-out call is always safe.
	DefaultMaxAttempts = 4
)

// Backoff returns the delay before retry number attempt (0-based). Pure
// function of the attempt counter: 250ms, 500ms, 1s, 2s, ... capped at 5s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := backoffBase << uint(attempt)
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}
