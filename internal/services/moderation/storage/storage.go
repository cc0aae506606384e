// Package storage defines persistence contracts for moderation rule state.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrStorageUnavailable indicates the backing store cannot be opened or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidRecord indicates a record is missing a required key field.
	ErrInvalidRecord = errors.New("invalid record")
)

// ChannelConfig stores the moderation policy for one guild channel.
// Values are immutable; producing a modified copy and rewriting the whole
// row is the only supported mutation.
type ChannelConfig struct {
	GuildID         int64
	ChannelID       int64
	EventExpectancy float64
	EventDuration   int64
	EventCooldown   float64
	LastEvent       int64
	MaxOffenses     int
	TimeoutDuration int64
	Prefixes        string
}

// Validate reports whether the config carries its composite key.
func (c ChannelConfig) Validate() error {
	if c.GuildID <= 0 || c.ChannelID <= 0 {
		return ErrInvalidRecord
	}
	return nil
}

// WithLastEvent returns a copy with the event timestamp replaced.
func (c ChannelConfig) WithLastEvent(ts int64) ChannelConfig {
	c.LastEvent = ts
	return c
}

// WithMaxOffenses returns a copy with the offense limit replaced.
func (c ChannelConfig) WithMaxOffenses(limit int) ChannelConfig {
	c.MaxOffenses = limit
	return c
}

// WithPrefixes returns a copy with the allowed prefix list replaced.
func (c ChannelConfig) WithPrefixes(prefixes string) ChannelConfig {
	c.Prefixes = prefixes
	return c
}

// UserOffenses stores the violation counters for one user in one channel.
// TotalOffenses never decreases across the life of a record.
type UserOffenses struct {
	GuildID         int64
	ChannelID       int64
	UserID          int64
	CurrentOffenses int
	TotalOffenses   int
	LastOffense     int64
}

// Validate reports whether the record carries its composite key.
func (u UserOffenses) Validate() error {
	if u.GuildID <= 0 || u.ChannelID <= 0 || u.UserID <= 0 {
		return ErrInvalidRecord
	}
	return nil
}

// WithCounts returns a copy with both offense counters replaced.
func (u UserOffenses) WithCounts(current, total int) UserOffenses {
	u.CurrentOffenses = current
	u.TotalOffenses = total
	return u
}

// WithLastOffense returns a copy with the offense timestamp replaced.
func (u UserOffenses) WithLastOffense(ts int64) UserOffenses {
	u.LastOffense = ts
	return u
}

// Store persists moderation rule records. Lookups report absence through
// the boolean result rather than an error.
type Store interface {
	GetConfig(ctx context.Context, guildID, channelID int64) (ChannelConfig, bool, error)
	PutConfig(ctx context.Context, config ChannelConfig) error
	GetUser(ctx context.Context, guildID, channelID, userID int64) (UserOffenses, bool, error)
	PutUser(ctx context.Context, user UserOffenses) error
	ListUsers(ctx context.Context, guildID, channelID int64) ([]UserOffenses, error)
	Close() error
}
