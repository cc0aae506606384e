package domain

import (
	"errors"
	"math/rand"
	"time"

	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
)

// ErrEventNotReady indicates an event cannot start in this channel yet.
var ErrEventNotReady = errors.New("event not ready")

// EventActive reports whether the channel's rule-free event window is
// still running at now.
func EventActive(config storage.ChannelConfig, now time.Time) bool {
	if config.LastEvent <= 0 || config.EventDuration <= 0 {
		return false
	}
	end := time.Unix(config.LastEvent, 0).Add(time.Duration(config.EventDuration) * time.Hour)
	return now.UTC().Before(end)
}

// CooldownElapsed reports whether enough time has passed since the last
// event for a new one to start.
func CooldownElapsed(config storage.ChannelConfig, now time.Time) bool {
	if config.LastEvent <= 0 {
		return true
	}
	cooldown := time.Duration(config.EventCooldown * float64(time.Hour))
	return !now.UTC().Before(time.Unix(config.LastEvent, 0).Add(cooldown))
}

// StartEvent returns a config copy stamped with a new event start. It fails
// with ErrEventNotReady while an event is active or the cooldown is still
// running.
func StartEvent(config storage.ChannelConfig, now time.Time) (storage.ChannelConfig, error) {
	if EventActive(config, now) || !CooldownElapsed(config, now) {
		return storage.ChannelConfig{}, ErrEventNotReady
	}
	return config.WithLastEvent(now.UTC().Unix()), nil
}

// RollEvent runs one Bernoulli trial against the channel's hourly event
// expectancy.
func RollEvent(config storage.ChannelConfig, rng *rand.Rand) bool {
	if config.EventExpectancy <= 0 {
		return false
	}
	if config.EventExpectancy >= 1 {
		return true
	}
	if rng == nil {
		return rand.Float64() < config.EventExpectancy
	}
	return rng.Float64() < config.EventExpectancy
}
