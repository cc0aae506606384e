package rules

import (
	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
	"github.com/jellydator/ttlcache/v3"
)

// configKey identifies one cached channel config lookup.
type configKey struct {
	GuildID   int64
	ChannelID int64
}

// userKey identifies one cached user offense lookup.
type userKey struct {
	GuildID   int64
	ChannelID int64
	UserID    int64
}

// listKey identifies one cached channel-scoped user listing.
type listKey struct {
	GuildID   int64
	ChannelID int64
}

// configEntry memoizes a full lookup outcome, absence included.
type configEntry struct {
	Config storage.ChannelConfig
	OK     bool
}

type userEntry struct {
	User storage.UserOffenses
	OK   bool
}

// Counters reports read-through cache accounting for one cached operation.
type Counters struct {
	Hits   uint64
	Misses uint64
}

// CacheMetrics reports per-operation cache accounting for the facade.
type CacheMetrics struct {
	Config   Counters
	User     Counters
	UserList Counters
}

// storeCache memoizes the three read operations by their full argument
// tuple. Entries never expire; writes evict exactly the keys they touch.
type storeCache struct {
	configs *ttlcache.Cache[configKey, configEntry]
	users   *ttlcache.Cache[userKey, userEntry]
	lists   *ttlcache.Cache[listKey, []storage.UserOffenses]
}

func newStoreCache() *storeCache {
	return &storeCache{
		configs: ttlcache.New(
			ttlcache.WithTTL[configKey, configEntry](ttlcache.NoTTL),
		),
		users: ttlcache.New(
			ttlcache.WithTTL[userKey, userEntry](ttlcache.NoTTL),
		),
		lists: ttlcache.New(
			ttlcache.WithTTL[listKey, []storage.UserOffenses](ttlcache.NoTTL),
		),
	}
}

func (c *storeCache) getConfig(key configKey) (configEntry, bool) {
	if c == nil {
		return configEntry{}, false
	}
	item := c.configs.Get(key)
	if item == nil {
		return configEntry{}, false
	}
	return item.Value(), true
}

func (c *storeCache) setConfig(key configKey, entry configEntry) {
	if c == nil {
		return
	}
	c.configs.Set(key, entry, ttlcache.NoTTL)
}

func (c *storeCache) evictConfig(key configKey) {
	if c == nil {
		return
	}
	c.configs.Delete(key)
}

func (c *storeCache) getUser(key userKey) (userEntry, bool) {
	if c == nil {
		return userEntry{}, false
	}
	item := c.users.Get(key)
	if item == nil {
		return userEntry{}, false
	}
	return item.Value(), true
}

func (c *storeCache) setUser(key userKey, entry userEntry) {
	if c == nil {
		return
	}
	c.users.Set(key, entry, ttlcache.NoTTL)
}

func (c *storeCache) getList(key listKey) ([]storage.UserOffenses, bool) {
	if c == nil {
		return nil, false
	}
	item := c.lists.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *storeCache) setList(key listKey, users []storage.UserOffenses) {
	if c == nil {
		return
	}
	c.lists.Set(key, users, ttlcache.NoTTL)
}

// evictUser drops both entries a user write can stale: the exact user key
// and that channel's list key. Other channels' lists stay cached.
func (c *storeCache) evictUser(key userKey) {
	if c == nil {
		return
	}
	c.users.Delete(key)
	c.lists.Delete(listKey{GuildID: key.GuildID, ChannelID: key.ChannelID})
}

func (c *storeCache) metrics() CacheMetrics {
	if c == nil {
		return CacheMetrics{}
	}
	return CacheMetrics{
		Config:   counters(c.configs.Metrics()),
		User:     counters(c.users.Metrics()),
		UserList: counters(c.lists.Metrics()),
	}
}

func counters(m ttlcache.Metrics) Counters {
	return Counters{Hits: m.Hits, Misses: m.Misses}
}
