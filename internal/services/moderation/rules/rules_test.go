package rules_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/egarcia1/3pseatBot/internal/services/moderation/rules"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
)

var testConfig = storage.ChannelConfig{
	GuildID:         1234,
	ChannelID:       5678,
	EventExpectancy: 0.5,
	EventDuration:   24,
	EventCooldown:   5.0,
	MaxOffenses:     3,
	TimeoutDuration: 300,
	Prefixes:        "3pseat 3pfeet",
}

var testUser = storage.UserOffenses{
	GuildID:   1234,
	ChannelID: 5678,
	UserID:    9012,
}

func openTempRules(t *testing.T) *rules.Rules {
	t.Helper()
	facade, err := rules.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("open rules facade: %v", err)
	}
	t.Cleanup(func() {
		if err := facade.Close(); err != nil {
			t.Errorf("close rules facade: %v", err)
		}
	})
	return facade
}

func TestGetConfigAbsentIsNotAnError(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	_, found, err := facade.GetConfig(context.Background(), 3, 12)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if found {
		t.Fatal("expected absent config")
	}

	_, found, err = facade.GetUser(context.Background(), 3, 12, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if found {
		t.Fatal("expected absent user")
	}

	users, err := facade.GetUsers(context.Background(), 3, 12)
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("users len = %d, want 0", len(users))
	}
}

func TestUpdateConfigVisibleToNextRead(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	config := testConfig
	config.GuildID = 1
	config.ChannelID = 10
	if err := facade.UpdateConfig(ctx, config); err != nil {
		t.Fatalf("update config: %v", err)
	}

	got, found, err := facade.GetConfig(ctx, 1, 10)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !found || got.MaxOffenses != 3 {
		t.Fatalf("config = %+v (found=%v), want max offenses 3", got, found)
	}

	if err := facade.UpdateConfig(ctx, config.WithMaxOffenses(5)); err != nil {
		t.Fatalf("update config again: %v", err)
	}
	got, found, err = facade.GetConfig(ctx, 1, 10)
	if err != nil {
		t.Fatalf("get config after update: %v", err)
	}
	if !found || got.MaxOffenses != 5 {
		t.Fatalf("config = %+v (found=%v), want max offenses 5", got, found)
	}
}

func TestConfigHitMissAccounting(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	config := testConfig
	config.GuildID = 1
	config.ChannelID = 10
	if err := facade.UpdateConfig(ctx, config); err != nil {
		t.Fatalf("update config: %v", err)
	}

	if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
		t.Fatalf("second read: %v", err)
	}

	metrics := facade.CacheMetrics()
	if metrics.Config.Misses != 1 {
		t.Fatalf("config misses = %d, want 1", metrics.Config.Misses)
	}
	if metrics.Config.Hits != 1 {
		t.Fatalf("config hits = %d, want 1", metrics.Config.Hits)
	}
}

func TestInvalidationIsKeyScoped(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	first := testConfig
	first.GuildID = 1
	first.ChannelID = 10
	second := testConfig
	second.GuildID = 1
	second.ChannelID = 20
	if err := facade.UpdateConfig(ctx, first); err != nil {
		t.Fatalf("update first config: %v", err)
	}
	if err := facade.UpdateConfig(ctx, second); err != nil {
		t.Fatalf("update second config: %v", err)
	}

	// Miss, then hit.
	if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
		t.Fatalf("read original key: %v", err)
	}
	if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
		t.Fatalf("repeat original key: %v", err)
	}
	before := facade.CacheMetrics()

	if err := facade.UpdateConfig(ctx, second.WithMaxOffenses(7)); err != nil {
		t.Fatalf("write different key: %v", err)
	}
	if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
		t.Fatalf("re-read original key: %v", err)
	}

	after := facade.CacheMetrics()
	if after.Config.Misses != before.Config.Misses {
		t.Fatalf("misses changed %d -> %d, want unchanged", before.Config.Misses, after.Config.Misses)
	}
	if after.Config.Hits != before.Config.Hits+1 {
		t.Fatalf("hits = %d, want %d", after.Config.Hits, before.Config.Hits+1)
	}
}

func TestUpdateUserEvictsUserAndListEntries(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	user := testUser
	user.GuildID = 1
	user.ChannelID = 1
	user.UserID = 1
	if err := facade.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	// Prime both caches for the written channel and a sibling channel.
	if _, _, err := facade.GetUser(ctx, 1, 1, 1); err != nil {
		t.Fatalf("prime user cache: %v", err)
	}
	if _, err := facade.GetUsers(ctx, 1, 1); err != nil {
		t.Fatalf("prime list cache: %v", err)
	}
	if _, err := facade.GetUsers(ctx, 1, 2); err != nil {
		t.Fatalf("prime sibling list cache: %v", err)
	}

	if err := facade.UpdateUser(ctx, user.WithCounts(1, 1)); err != nil {
		t.Fatalf("rewrite user: %v", err)
	}

	got, found, err := facade.GetUser(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("get user after update: %v", err)
	}
	if !found || got.CurrentOffenses != 1 {
		t.Fatalf("user = %+v (found=%v), want current offenses 1", got, found)
	}

	users, err := facade.GetUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get users after update: %v", err)
	}
	if len(users) != 1 || users[0].CurrentOffenses != 1 {
		t.Fatalf("users = %+v, want one record with current offenses 1", users)
	}

	// The sibling channel's listing was not evicted.
	before := facade.CacheMetrics()
	if _, err := facade.GetUsers(ctx, 1, 2); err != nil {
		t.Fatalf("re-read sibling list: %v", err)
	}
	after := facade.CacheMetrics()
	if after.UserList.Misses != before.UserList.Misses {
		t.Fatalf("sibling list misses changed %d -> %d", before.UserList.Misses, after.UserList.Misses)
	}
}

func TestGetUsersScopedToChannel(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	records := []storage.UserOffenses{
		{GuildID: 1, ChannelID: 1, UserID: 1},
		{GuildID: 1, ChannelID: 1, UserID: 2},
		{GuildID: 1, ChannelID: 2, UserID: 1},
	}
	for _, user := range records {
		if err := facade.UpdateUser(ctx, user); err != nil {
			t.Fatalf("update user %+v: %v", user, err)
		}
	}

	channelOne, err := facade.GetUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get users channel 1: %v", err)
	}
	if len(channelOne) != 2 {
		t.Fatalf("channel 1 len = %d, want 2", len(channelOne))
	}

	channelTwo, err := facade.GetUsers(ctx, 1, 2)
	if err != nil {
		t.Fatalf("get users channel 2: %v", err)
	}
	if len(channelTwo) != 1 {
		t.Fatalf("channel 2 len = %d, want 1", len(channelTwo))
	}
}

func TestCachedListIsNotAliased(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	user := testUser
	user.GuildID = 1
	user.ChannelID = 1
	user.UserID = 1
	if err := facade.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	users, err := facade.GetUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	users[0].CurrentOffenses = 99

	again, err := facade.GetUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("get users again: %v", err)
	}
	if again[0].CurrentOffenses != 0 {
		t.Fatalf("cached record mutated: current offenses = %d, want 0", again[0].CurrentOffenses)
	}
}

func TestAbsentResultIsCached(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	facade, err := rules.New(store)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	for range 3 {
		if _, found, err := facade.GetConfig(ctx, 1, 10); err != nil || found {
			t.Fatalf("get config: found=%v err=%v", found, err)
		}
	}
	if store.configReads != 1 {
		t.Fatalf("store reads = %d, want 1", store.configReads)
	}
}

func TestReadErrorIsNotCached(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failReads = true
	facade, err := rules.New(store)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	if _, _, err := facade.GetConfig(ctx, 1, 10); err == nil {
		t.Fatal("expected read error")
	}
	store.failReads = false
	if _, found, err := facade.GetConfig(ctx, 1, 10); err != nil || found {
		t.Fatalf("get config after recovery: found=%v err=%v", found, err)
	}
	if store.configReads != 2 {
		t.Fatalf("store reads = %d, want 2", store.configReads)
	}
}

func TestUpdateRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	if err := facade.UpdateConfig(ctx, storage.ChannelConfig{ChannelID: 10}); !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("update config error = %v, want %v", err, storage.ErrInvalidRecord)
	}
	if err := facade.UpdateUser(ctx, storage.UserOffenses{GuildID: 1}); !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("update user error = %v, want %v", err, storage.ErrInvalidRecord)
	}
}

func TestReadOverlappingWriteDoesNotStrandStaleEntry(t *testing.T) {
	t.Parallel()

	gated := newGatedStore()
	facade, err := rules.New(gated)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	if err := facade.UpdateUser(ctx, testUser); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	// Stall a read inside the store fetch, let a write land while it is
	// stalled, then release it. The read's populate must not outlive the
	// write's eviction.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, _, err := facade.GetUser(ctx, testUser.GuildID, testUser.ChannelID, testUser.UserID); err != nil {
			t.Errorf("overlapping read: %v", err)
		}
	}()
	<-gated.entered
	go func() {
		defer wg.Done()
		if err := facade.UpdateUser(ctx, testUser.WithCounts(5, 5)); err != nil {
			t.Errorf("overlapping write: %v", err)
		}
	}()
	close(gated.release)
	wg.Wait()

	got, found, err := facade.GetUser(ctx, testUser.GuildID, testUser.ChannelID, testUser.UserID)
	if err != nil {
		t.Fatalf("read after write returned: %v", err)
	}
	if !found || got.CurrentOffenses != 5 {
		t.Fatalf("user = %+v (found=%v), want current offenses 5", got, found)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	facade := openTempRules(t)
	ctx := context.Background()

	config := testConfig
	config.GuildID = 1
	config.ChannelID = 10
	if err := facade.UpdateConfig(ctx, config); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(limit int) {
			defer wg.Done()
			if err := facade.UpdateConfig(ctx, config.WithMaxOffenses(limit+1)); err != nil {
				t.Errorf("concurrent update: %v", err)
			}
			if _, _, err := facade.GetConfig(ctx, 1, 10); err != nil {
				t.Errorf("concurrent read: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, found, err := facade.GetConfig(ctx, 1, 10)
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if !found {
		t.Fatal("expected config row")
	}
	if got.MaxOffenses < 1 || got.MaxOffenses > 8 {
		t.Fatalf("max offenses = %d, want last writer's value in [1, 8]", got.MaxOffenses)
	}
}

// fakeStore counts reads to observe cache behavior without SQLite.
type fakeStore struct {
	mu          sync.Mutex
	configs     map[[2]int64]storage.ChannelConfig
	users       map[[3]int64]storage.UserOffenses
	configReads int
	failReads   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs: make(map[[2]int64]storage.ChannelConfig),
		users:   make(map[[3]int64]storage.UserOffenses),
	}
}

func (f *fakeStore) GetConfig(ctx context.Context, guildID, channelID int64) (storage.ChannelConfig, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configReads++
	if f.failReads {
		return storage.ChannelConfig{}, false, errors.New("read failure")
	}
	config, ok := f.configs[[2]int64{guildID, channelID}]
	return config, ok, nil
}

func (f *fakeStore) PutConfig(ctx context.Context, config storage.ChannelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[[2]int64{config.GuildID, config.ChannelID}] = config
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, guildID, channelID, userID int64) (storage.UserOffenses, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[[3]int64{guildID, channelID, userID}]
	return user, ok, nil
}

func (f *fakeStore) PutUser(ctx context.Context, user storage.UserOffenses) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[[3]int64{user.GuildID, user.ChannelID, user.UserID}] = user
	return nil
}

func (f *fakeStore) ListUsers(ctx context.Context, guildID, channelID int64) ([]storage.UserOffenses, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []storage.UserOffenses
	for key, user := range f.users {
		if key[0] == guildID && key[1] == channelID {
			users = append(users, user)
		}
	}
	return users, nil
}

func (f *fakeStore) Close() error { return nil }

// gatedStore stalls the first user fetch until released so a write can
// land inside another reader's fetch-then-populate window.
type gatedStore struct {
	*fakeStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		fakeStore: newFakeStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedStore) GetUser(ctx context.Context, guildID, channelID, userID int64) (storage.UserOffenses, bool, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeStore.GetUser(ctx, guildID, channelID, userID)
}
