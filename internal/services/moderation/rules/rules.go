// Package rules exposes the moderation rules facade: a single entry point
// combining the durable store with a read-through, write-invalidated cache.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage/sqlite"
)

// Rules combines rule storage with an in-memory memoizing cache. All
// methods are safe for concurrent callers; writes to the same key
// serialize with last-writer-wins semantics. Readers hold the lock shared
// across the store fetch and the cache populate so a concurrent write
// cannot evict between the two and leave a stale entry behind.
type Rules struct {
	store storage.Store
	cache *storeCache
	mu    sync.RWMutex
}

// New wraps an open store with a fresh cache.
func New(store storage.Store) (*Rules, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Rules{store: store, cache: newStoreCache()}, nil
}

// Open opens a SQLite-backed rules facade at path.
func Open(path string) (*Rules, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return New(store)
}

// Close releases the underlying store.
func (r *Rules) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// GetConfig returns the channel config for one guild channel, serving
// repeated lookups from cache. Absence is reported through the boolean
// result, cached like any other outcome.
func (r *Rules) GetConfig(ctx context.Context, guildID, channelID int64) (storage.ChannelConfig, bool, error) {
	if r == nil || r.store == nil {
		return storage.ChannelConfig{}, false, fmt.Errorf("rules facade is not configured")
	}
	key := configKey{GuildID: guildID, ChannelID: channelID}
	if entry, ok := r.cache.getConfig(key); ok {
		return entry.Config, entry.OK, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, found, err := r.store.GetConfig(ctx, guildID, channelID)
	if err != nil {
		return storage.ChannelConfig{}, false, err
	}
	r.cache.setConfig(key, configEntry{Config: config, OK: found})
	return config, found, nil
}

// UpdateConfig replaces the stored config row for the record's guild
// channel and evicts the matching cache entry before returning. No reader
// observes the pre-update value after this call returns.
func (r *Rules) UpdateConfig(ctx context.Context, config storage.ChannelConfig) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("rules facade is not configured")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutConfig(ctx, config); err != nil {
		return err
	}
	r.cache.evictConfig(configKey{GuildID: config.GuildID, ChannelID: config.ChannelID})
	return nil
}

// GetUser returns the offense record for one user in one guild channel,
// serving repeated lookups from cache.
func (r *Rules) GetUser(ctx context.Context, guildID, channelID, userID int64) (storage.UserOffenses, bool, error) {
	if r == nil || r.store == nil {
		return storage.UserOffenses{}, false, fmt.Errorf("rules facade is not configured")
	}
	key := userKey{GuildID: guildID, ChannelID: channelID, UserID: userID}
	if entry, ok := r.cache.getUser(key); ok {
		return entry.User, entry.OK, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, found, err := r.store.GetUser(ctx, guildID, channelID, userID)
	if err != nil {
		return storage.UserOffenses{}, false, err
	}
	r.cache.setUser(key, userEntry{User: user, OK: found})
	return user, found, nil
}

// UpdateUser replaces the stored offense row for the record's user and
// evicts both cache entries the write can stale: the exact user key and
// that channel's user listing.
func (r *Rules) UpdateUser(ctx context.Context, user storage.UserOffenses) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("rules facade is not configured")
	}
	if err := user.Validate(); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutUser(ctx, user); err != nil {
		return err
	}
	r.cache.evictUser(userKey{GuildID: user.GuildID, ChannelID: user.ChannelID, UserID: user.UserID})
	return nil
}

// GetUsers returns every offense record under one guild channel, serving
// repeated lookups from cache. The result is empty, not an error, when no
// records exist.
func (r *Rules) GetUsers(ctx context.Context, guildID, channelID int64) ([]storage.UserOffenses, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("rules facade is not configured")
	}
	key := listKey{GuildID: guildID, ChannelID: channelID}
	if users, ok := r.cache.getList(key); ok {
		return cloneUsers(users), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	users, err := r.store.ListUsers(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	r.cache.setList(key, users)
	return cloneUsers(users), nil
}

// CacheMetrics reports hit/miss accounting for the three cached reads.
func (r *Rules) CacheMetrics() CacheMetrics {
	if r == nil {
		return CacheMetrics{}
	}
	return r.cache.metrics()
}

// cloneUsers keeps cached listings immutable when callers mutate results.
func cloneUsers(users []storage.UserOffenses) []storage.UserOffenses {
	out := make([]storage.UserOffenses, len(users))
	copy(out, users)
	return out
}
