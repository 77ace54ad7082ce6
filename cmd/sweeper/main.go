// The sweeper is the approvals service host process for time-based
// transitions: it periodically expires pending instances past their deadline
// and sends expiring-soon reminders. Vote processing itself is invoked
// in-process by host services embedding the service layer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/policy"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()

	log.Info().
		Str("environment", cfg.Service.Environment).
		Dur("sweep_interval", cfg.Sweep.Interval).
		Msg("Starting approvals sweeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database URL")
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()

	notifier, err := client.NewNotificationPublisher(nc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification publisher")
	}

	// Policies
	policies, err := policy.LoadFile(cfg.Policies.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Policies.Path).Msg("Failed to load policies")
	}
	log.Info().Int("policies", len(policies.GetAllPolicies())).Msg("Policy catalog loaded")

	// Collaborators and services
	repo := repository.NewPostgresRepository(db)
	audit := repository.NewPostgresAuditLog(db)
	directory := client.NewStaticDirectory(cfg.Directory.Roles, cfg.Directory.Managers)
	resolver := client.NewDirectoryResolver(directory, nil)

	opts := []service.ApprovalServiceOption{
		service.WithReminderWindow(cfg.Sweep.ReminderWindow),
	}
	if cfg.Policies.DefaultPolicyID != "" {
		opts = append(opts, service.WithDefaultPolicy(cfg.Policies.DefaultPolicyID))
	}
	approvals := service.NewApprovalService(repo, policies, resolver, notifier, audit, log, opts...)

	// Sweep loop
	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, cfg.Sweep.Interval)
			if _, err := approvals.SweepExpired(sweepCtx); err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
			}
			sweepCancel()
		case <-quit:
			log.Info().Msg("Shutting down sweeper...")
			cancel()
			log.Info().Msg("Sweeper stopped")
			return
		}
	}
}
