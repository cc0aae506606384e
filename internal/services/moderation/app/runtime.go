// Package app wires the moderation runtime: rule storage, the rules
// facade, the periodic offense sweep, and the gRPC health lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/egarcia1/3pseatBot/internal/services/moderation/domain"
	"github.com/egarcia1/3pseatBot/internal/services/moderation/rules"
	moderationsqlite "github.com/egarcia1/3pseatBot/internal/services/moderation/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls moderation startup and sweep behavior.
type RuntimeConfig struct {
	Port          int
	DBPath        string
	SweepInterval time.Duration
	OffenseTTL    time.Duration
}

const (
	defaultModerationPort = 8094
	defaultModerationDB   = "data/moderation.db"
	defaultSweepInterval  = time.Hour
	defaultOffenseTTL     = 24 * time.Hour
)

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = defaultModerationPort
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultModerationDB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.OffenseTTL <= 0 {
		cfg.OffenseTTL = defaultOffenseTTL
	}
	return cfg
}

// Run starts moderation runtime dependencies and the sweep loop, serving
// until context cancellation.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	store, err := moderationsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open moderation sqlite store: %w", err)
	}
	facade, err := rules.New(store)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if closeErr := facade.Close(); closeErr != nil {
			log.Printf("close moderation store: %v", closeErr)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on moderation port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("moderation.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("moderation server listening at %v", listener.Addr())
	return runSweepLoop(ctx, store, facade, cfg)
}

func runSweepLoop(ctx context.Context, store *moderationsqlite.Store, facade *rules.Rules, cfg RuntimeConfig) error {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// Sweep on startup so stale counters left over from a previous run are
	// cleared without waiting a full interval.
	if err := sweepOnce(ctx, store, facade, cfg.OffenseTTL, time.Now()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("offense sweep: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sweepOnce(ctx, store, facade, cfg.OffenseTTL, time.Now()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("offense sweep: %v", err)
			}
		}
	}
}

// sweepOnce clears stale current-offense counters in every configured
// channel. Totals are preserved; the sweep only rewrites records whose
// last offense is older than ttl.
func sweepOnce(ctx context.Context, store *moderationsqlite.Store, facade *rules.Rules, ttl time.Duration, now time.Time) error {
	configs, err := store.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list configs: %w", err)
	}
	for _, config := range configs {
		users, err := facade.GetUsers(ctx, config.GuildID, config.ChannelID)
		if err != nil {
			return fmt.Errorf("list users for guild %d channel %d: %w", config.GuildID, config.ChannelID, err)
		}
		for _, user := range users {
			if !domain.OffenseStale(user, ttl, now) {
				continue
			}
			if err := facade.UpdateUser(ctx, domain.ResetOffenses(user)); err != nil {
				return fmt.Errorf("reset offenses for user %d: %w", user.UserID, err)
			}
		}
	}
	return nil
}
