// Command feesync runs one withdrawal fee sync for a single exchange and
// exits. Useful for cron-style deployments and for seeding a fresh database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"exchange-hub/config"
	"exchange-hub/internal/database"
	"exchange-hub/internal/exchange/factory"
	"exchange-hub/internal/gate"
	"exchange-hub/internal/jobs"
	"exchange-hub/internal/logging"
)

func main() {
	name := flag.String("exchange", "", "exchange to sync ("+strings.Join(factory.SupportedExchanges(), ", ")+")")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall sync timeout")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "feesync: -exchange is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "feesync: config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LoggingConfig)

	exCfg, ok := cfg.Exchanges[*name]
	if !ok {
		logger.Fatal().Str("exchange", *name).Msg("exchange not configured")
	}

	ex, err := factory.BuildFromConfig(*name, exCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("adapter construction failed")
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	repo := database.NewRepository(db)
	syncer := jobs.NewFeeSyncer(repo, gate.New(nil, logger), logger)

	if err := syncer.Sync(ctx, ex); err != nil {
		logger.Fatal().Err(err).Msg("fee sync failed")
	}
}
