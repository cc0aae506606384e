// Package rulesctl implements an operator CLI over the moderation rule
// store: inspect channel configs, list strikes, and adjust user offenses.
package rulesctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/domain"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/rules"
)

// Config holds rulesctl command configuration.
type Config struct {
	DBPath       string        `env:"THREEPSEAT_MODERATION_DB_PATH"`
	Timeout      time.Duration `env:"THREEPSEAT_RULESCTL_TIMEOUT" envDefault:"30s"`
	GuildID      int64
	ChannelID    int64
	UserID       int64
	ShowConfig   bool
	ListUsers    bool
	AddStrike    bool
	RemoveStrike bool
	ResetUser    bool
	JSONOutput   bool
}

// ParseConfig parses environment defaults and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "moderation.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to moderation sqlite database")
	fs.Int64Var(&cfg.GuildID, "guild", 0, "guild ID")
	fs.Int64Var(&cfg.ChannelID, "channel", 0, "channel ID")
	fs.Int64Var(&cfg.UserID, "user", 0, "user ID (strike operations)")
	fs.BoolVar(&cfg.ShowConfig, "show-config", false, "print the channel config")
	fs.BoolVar(&cfg.ListUsers, "list-users", false, "print offense records for the channel")
	fs.BoolVar(&cfg.AddStrike, "add-strike", false, "record one offense for -user")
	fs.BoolVar(&cfg.RemoveStrike, "remove-strike", false, "forgive one current offense for -user")
	fs.BoolVar(&cfg.ResetUser, "reset-user", false, "clear current offenses for -user")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the selected rulesctl operation against the store at DBPath.
func Run(ctx context.Context, cfg Config, stdout io.Writer) error {
	if cfg.GuildID <= 0 || cfg.ChannelID <= 0 {
		return fmt.Errorf("-guild and -channel are required")
	}

	facade, err := rules.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer facade.Close()

	switch {
	case cfg.ShowConfig:
		return showConfig(ctx, facade, cfg, stdout)
	case cfg.ListUsers:
		return listUsers(ctx, facade, cfg, stdout)
	case cfg.AddStrike, cfg.RemoveStrike, cfg.ResetUser:
		return adjustUser(ctx, facade, cfg, stdout)
	default:
		return fmt.Errorf("no operation selected")
	}
}

func showConfig(ctx context.Context, facade *rules.Rules, cfg Config, stdout io.Writer) error {
	config, ok, err := facade.GetConfig(ctx, cfg.GuildID, cfg.ChannelID)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(stdout, "no config for guild %d channel %d\n", cfg.GuildID, cfg.ChannelID)
		return nil
	}
	if cfg.JSONOutput {
		return writeJSON(stdout, config)
	}
	fmt.Fprintf(stdout, "guild=%d channel=%d expectancy=%.4f duration=%dh cooldown=%.2fh last_event=%d max_offenses=%d timeout=%ds prefixes=%q\n",
		config.GuildID, config.ChannelID, config.EventExpectancy, config.EventDuration,
		config.EventCooldown, config.LastEvent, config.MaxOffenses, config.TimeoutDuration, config.Prefixes)
	return nil
}

func listUsers(ctx context.Context, facade *rules.Rules, cfg Config, stdout io.Writer) error {
	users, err := facade.GetUsers(ctx, cfg.GuildID, cfg.ChannelID)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(stdout, users)
	}
	if len(users) == 0 {
		fmt.Fprintf(stdout, "no offense records for guild %d channel %d\n", cfg.GuildID, cfg.ChannelID)
		return nil
	}
	for _, user := range users {
		fmt.Fprintf(stdout, "user=%d current=%d total=%d last_offense=%d\n",
			user.UserID, user.CurrentOffenses, user.TotalOffenses, user.LastOffense)
	}
	return nil
}

func adjustUser(ctx context.Context, facade *rules.Rules, cfg Config, stdout io.Writer) error {
	if cfg.UserID <= 0 {
		return fmt.Errorf("-user is required for strike operations")
	}
	user, ok, err := facade.GetUser(ctx, cfg.GuildID, cfg.ChannelID, cfg.UserID)
	if err != nil {
		return err
	}
	if !ok {
		// Only -add-strike creates a record. Decrement and reset against a
		// missing user have nothing to change and must not persist a zero row.
		if !cfg.AddStrike {
			fmt.Fprintf(stdout, "no offense record for user %d in guild %d channel %d\n",
				cfg.UserID, cfg.GuildID, cfg.ChannelID)
			return nil
		}
		user.GuildID = cfg.GuildID
		user.ChannelID = cfg.ChannelID
		user.UserID = cfg.UserID
	}

	switch {
	case cfg.AddStrike:
		user = domain.RecordOffense(user, time.Now())
	case cfg.RemoveStrike:
		user = domain.RemoveOffense(user)
	case cfg.ResetUser:
		user = domain.ResetOffenses(user)
	}

	if err := facade.UpdateUser(ctx, user); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "user=%d current=%d total=%d\n", user.UserID, user.CurrentOffenses, user.TotalOffenses)
	return nil
}

func writeJSON(stdout io.Writer, value any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
