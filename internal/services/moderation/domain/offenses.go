// Package domain holds the pure moderation rule decisions. Functions here
// operate on record values only; persistence stays with the rules facade.
package domain

import (
	"time"

	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
)

// RecordOffense returns the record after one new violation. The running
// total never decreases; the current counter drives punishment decisions.
func RecordOffense(user storage.UserOffenses, now time.Time) storage.UserOffenses {
	return user.
		WithCounts(user.CurrentOffenses+1, user.TotalOffenses+1).
		WithLastOffense(now.UTC().Unix())
}

// RemoveOffense returns the record after forgiving one current violation.
// The total is untouched.
func RemoveOffense(user storage.UserOffenses) storage.UserOffenses {
	current := user.CurrentOffenses - 1
	if current < 0 {
		current = 0
	}
	return user.WithCounts(current, user.TotalOffenses)
}

// ResetOffenses returns the record with the current counter cleared.
func ResetOffenses(user storage.UserOffenses) storage.UserOffenses {
	return user.WithCounts(0, user.TotalOffenses)
}

// ExceedsLimit reports whether the user's current offenses have reached the
// channel's limit. A limit of zero disables punishment.
func ExceedsLimit(user storage.UserOffenses, config storage.ChannelConfig) bool {
	return config.MaxOffenses > 0 && user.CurrentOffenses >= config.MaxOffenses
}

// TimeoutFor returns the timeout a punished user serves in this channel.
func TimeoutFor(config storage.ChannelConfig) time.Duration {
	if config.TimeoutDuration <= 0 {
		return 0
	}
	return time.Duration(config.TimeoutDuration) * time.Second
}

// OffenseStale reports whether the user's last offense is older than ttl,
// making the current counter eligible for a periodic reset.
func OffenseStale(user storage.UserOffenses, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 || user.CurrentOffenses == 0 {
		return false
	}
	if user.LastOffense <= 0 {
		return true
	}
	return now.UTC().Sub(time.Unix(user.LastOffense, 0)) >= ttl
}
