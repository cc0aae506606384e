// Package moderation parses moderation service flags and launches the service.
package moderation

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/egarcia1/3pseatBot/internal/platform/cmd"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/app"
)

// Config holds moderation command configuration.
type Config struct {
	Port          int           `env:"THREEPSEAT_MODERATION_PORT" envDefault:"8094"`
	DBPath        string        `env:"THREEPSEAT_MODERATION_DB_PATH" envDefault:"data/moderation.db"`
	SweepInterval time.Duration `env:"THREEPSEAT_MODERATION_SWEEP_INTERVAL" envDefault:"1h"`
	OffenseTTL    time.Duration `env:"THREEPSEAT_MODERATION_OFFENSE_TTL" envDefault:"24h"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The moderation gRPC health port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the moderation sqlite database")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Interval between offense sweeps")
	fs.DurationVar(&cfg.OffenseTTL, "offense-ttl", cfg.OffenseTTL, "Age after which current offenses reset")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the moderation service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceModeration, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			SweepInterval: cfg.SweepInterval,
			OffenseTTL:    cfg.OffenseTTL,
		})
	})
}
