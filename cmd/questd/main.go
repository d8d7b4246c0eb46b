// questd serves quest progression to game clients over WebSocket.
//
// Usage:
//
//	go run ./cmd/questd -config data/questd.yaml
//	go run ./cmd/questd -issue-token alice
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/notify"
	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/retry"
	"github.com/lawnchairsociety/questengine/internal/server"
	"github.com/lawnchairsociety/questengine/internal/text"
)

const closeTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config", "data/questd.yaml", "Path to service config YAML file")
	envFile := flag.String("env", ".env", "Path to .env file")
	loggingConfig := flag.String("logging", "data/logging.yaml", "Path to logging config YAML file")
	issueToken := flag.String("issue-token", "", "Print a signed token for the given player and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	// Initialize logger first (before any logging)
	logConfig, err := logger.LoadConfig(*loggingConfig)
	if err != nil {
		log.Fatalf("Failed to load logging config: %v", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *issueToken != "" {
		token, err := server.NewAuthenticator(cfg.Auth).IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Quest service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Quest service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Info("Starting quest service", "store", cfg.Store.Driver, "address", cfg.WebSocket.Addr)

	registry := quest.NewRegistry()
	if err := registry.LoadFromDirectory(cfg.Content.QuestsDir); err != nil {
		// Rejected definitions are logged and skipped; the rest still load.
		logger.Warning("Some quest definitions were rejected", "dir", cfg.Content.QuestsDir, "error", err)
	}
	if registry.Count() == 0 {
		return fmt.Errorf("no quests loaded from %s", cfg.Content.QuestsDir)
	}
	logger.Info("Quests loaded", "count", registry.Count())

	resolver, err := text.LoadDirectory(cfg.Content.TextDir, cfg.Content.DefaultLocale)
	if err != nil {
		return fmt.Errorf("failed to load text catalogs: %w", err)
	}
	logger.Info("Text catalogs loaded", "locales", resolver.Locales())

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	hub := server.NewHub(registry, resolver)
	notifiers := notify.Multi{notify.Log{}, hub}
	var broker *notify.Broker
	if cfg.Broker.URL != "" {
		broker, err = notify.NewBroker(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return err
		}
		defer broker.Close()
		notifiers = append(notifiers, broker)
		logger.Info("Publishing notifications", "exchange", cfg.Broker.Exchange)
	}

	opts := []progression.Option{
		progression.WithNotifier(notifiers),
		progression.WithMailQueue(b.mail),
		progression.WithRetry(retry.FromConfig(cfg.Retry)),
		progression.WithMailInterval(cfg.Rewards.MailInterval),
	}
	if b.levels != nil {
		opts = append(opts, progression.WithLevels(b.levels))
	}
	if cfg.Daily.Enabled {
		opts = append(opts, progression.WithDailyRollover(cfg.Daily.RolloverHour))
	}
	engine := progression.New(registry, b.progress, b.granter, opts...)

	switch {
	case len(cfg.WebSocket.AllowedOrigins) == 0:
		logger.Info("WebSocket CORS policy", "mode", "same-origin")
	case slices.Contains(cfg.WebSocket.AllowedOrigins, "*"):
		logger.Warning("WebSocket CORS allows all origins (not recommended for production)")
	default:
		logger.Info("WebSocket CORS policy", "allowed_origins", cfg.WebSocket.AllowedOrigins)
	}
	gateway := server.NewGateway(cfg, engine, hub, resolver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gateway.ListenAndServe(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	if cfg.Daily.Enabled {
		g.Go(func() error { return runRollover(gctx, engine, cfg.Daily.RolloverHour) })
	}

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := engine.Close(closeCtx); cerr != nil {
		logger.Error("Failed to flush quest progress", "error", cerr)
		err = errors.Join(err, cerr)
	}
	return err
}

// runRollover resets repeatable quests of online players at each daily
// rollover. Offline players are reset when they next log in.
func runRollover(ctx context.Context, engine *progression.Engine, hour int) error {
	for {
		next := progression.NextRollover(time.Now(), hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		for _, category := range []quest.Category{quest.CategoryDaily, quest.CategoryEvent} {
			if _, err := engine.ResetCategory(ctx, category, next); err != nil && ctx.Err() == nil {
				logger.Error("Daily reset failed", "category", category, "error", err)
			}
		}
	}
}
