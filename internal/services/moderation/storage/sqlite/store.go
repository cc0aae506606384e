// Package sqlite provides a SQLite-backed moderation rule store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/egarcia1/3pseatBot/internal/platform/storage/sqlitemigrate"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists moderation rule records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a moderation rule store, creating the parent directory and
// database file when absent, and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create storage dir: %v", storage.ErrStorageUnavailable, err)
		}
	}
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", storage.ErrStorageUnavailable, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", storage.ErrStorageUnavailable, err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetConfig returns the channel config for one guild channel. The boolean
// result is false when no row matches.
func (s *Store) GetConfig(ctx context.Context, guildID, channelID int64) (storage.ChannelConfig, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChannelConfig{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChannelConfig{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT guild_id, channel_id, event_expectancy, event_duration,
		        event_cooldown, last_event, max_offenses, timeout_duration, prefixes
		   FROM channel_configs
		  WHERE guild_id = ? AND channel_id = ?`,
		guildID,
		channelID,
	)

	var config storage.ChannelConfig
	err := row.Scan(
		&config.GuildID,
		&config.ChannelID,
		&config.EventExpectancy,
		&config.EventDuration,
		&config.EventCooldown,
		&config.LastEvent,
		&config.MaxOffenses,
		&config.TimeoutDuration,
		&config.Prefixes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChannelConfig{}, false, nil
		}
		return storage.ChannelConfig{}, false, fmt.Errorf("get channel config: %w", err)
	}
	return config, true, nil
}

// PutConfig replaces the whole config row for the record's guild channel,
// inserting when absent. The delete and insert commit as one transaction.
func (s *Store) PutConfig(ctx context.Context, config storage.ChannelConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("put channel config: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put channel config: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM channel_configs WHERE guild_id = ? AND channel_id = ?`,
		config.GuildID,
		config.ChannelID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete channel config: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO channel_configs (
		   guild_id, channel_id, event_expectancy, event_duration,
		   event_cooldown, last_event, max_offenses, timeout_duration, prefixes
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.GuildID,
		config.ChannelID,
		config.EventExpectancy,
		config.EventDuration,
		config.EventCooldown,
		config.LastEvent,
		config.MaxOffenses,
		config.TimeoutDuration,
		config.Prefixes,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert channel config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put channel config: %w", err)
	}
	return nil
}

// GetUser returns the offense record for one user in one guild channel. The
// boolean result is false when no row matches.
func (s *Store) GetUser(ctx context.Context, guildID, channelID, userID int64) (storage.UserOffenses, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserOffenses{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UserOffenses{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT guild_id, channel_id, user_id, current_offenses, total_offenses, last_offense
		   FROM user_offenses
		  WHERE guild_id = ? AND channel_id = ? AND user_id = ?`,
		guildID,
		channelID,
		userID,
	)

	var user storage.UserOffenses
	err := row.Scan(
		&user.GuildID,
		&user.ChannelID,
		&user.UserID,
		&user.CurrentOffenses,
		&user.TotalOffenses,
		&user.LastOffense,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UserOffenses{}, false, nil
		}
		return storage.UserOffenses{}, false, fmt.Errorf("get user offenses: %w", err)
	}
	return user, true, nil
}

// PutUser replaces the whole offense row for the record's user, inserting
// when absent. The delete and insert commit as one transaction.
func (s *Store) PutUser(ctx context.Context, user storage.UserOffenses) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := user.Validate(); err != nil {
		return fmt.Errorf("put user offenses: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put user offenses: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM user_offenses WHERE guild_id = ? AND channel_id = ? AND user_id = ?`,
		user.GuildID,
		user.ChannelID,
		user.UserID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete user offenses: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO user_offenses (
		   guild_id, channel_id, user_id, current_offenses, total_offenses, last_offense
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		user.GuildID,
		user.ChannelID,
		user.UserID,
		user.CurrentOffenses,
		user.TotalOffenses,
		user.LastOffense,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert user offenses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put user offenses: %w", err)
	}
	return nil
}

// ListConfigs returns every stored channel config. The runtime sweep uses
// this to walk configured channels; collaborator reads go through the
// facade instead.
func (s *Store) ListConfigs(ctx context.Context) ([]storage.ChannelConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT guild_id, channel_id, event_expectancy, event_duration,
		        event_cooldown, last_event, max_offenses, timeout_duration, prefixes
		   FROM channel_configs`,
	)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	defer rows.Close()

	configs := make([]storage.ChannelConfig, 0)
	for rows.Next() {
		var config storage.ChannelConfig
		if err := rows.Scan(
			&config.GuildID,
			&config.ChannelID,
			&config.EventExpectancy,
			&config.EventDuration,
			&config.EventCooldown,
			&config.LastEvent,
			&config.MaxOffenses,
			&config.TimeoutDuration,
			&config.Prefixes,
		); err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel configs: %w", err)
	}
	return configs, nil
}

// ListUsers returns every offense record under one guild channel. Order is
// not significant; the result is empty when no rows match.
func (s *Store) ListUsers(ctx context.Context, guildID, channelID int64) ([]storage.UserOffenses, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT guild_id, channel_id, user_id, current_offenses, total_offenses, last_offense
		   FROM user_offenses
		  WHERE guild_id = ? AND channel_id = ?`,
		guildID,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user offenses: %w", err)
	}
	defer rows.Close()

	users := make([]storage.UserOffenses, 0)
	for rows.Next() {
		var user storage.UserOffenses
		if err := rows.Scan(
			&user.GuildID,
			&user.ChannelID,
			&user.UserID,
			&user.CurrentOffenses,
			&user.TotalOffenses,
			&user.LastOffense,
		); err != nil {
			return nil, fmt.Errorf("scan user offenses: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user offenses: %w", err)
	}
	return users, nil
}
