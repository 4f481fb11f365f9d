package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"exchange-hub/config"
	"exchange-hub/internal/api"
	"exchange-hub/internal/database"
	"exchange-hub/internal/exchange"
	"exchange-hub/internal/exchange/factory"
	"exchange-hub/internal/gate"
	"exchange-hub/internal/jobs"
	"exchange-hub/internal/logging"
	"exchange-hub/internal/vault"
	"exchange-hub/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	repo := database.NewRepository(db)

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, gate degrades to in-process locking")
		}
	}
	jobGate := gate.New(redisClient, logger)

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client failed")
	}

	exchanges := buildExchanges(ctx, cfg, vaultClient, logger)
	if len(exchanges) == 0 {
		logger.Fatal().Msg("no exchanges configured")
	}

	feeSyncer := jobs.NewFeeSyncer(repo, jobGate, logger)
	withdrawals := withdrawal.NewService(repo, jobGate, logger)

	exchangeList := make([]exchange.Exchange, 0, len(exchanges))
	for _, ex := range exchanges {
		exchangeList = append(exchangeList, ex)
	}
	scheduler := jobs.NewScheduler(exchangeList, feeSyncer, withdrawals, cfg.SyncConfig, logger)
	scheduler.Start(ctx)

	server := api.NewServer(cfg.ServerConfig, exchanges, repo, feeSyncer, vaultClient, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	scheduler.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

// buildExchanges constructs one adapter per configured exchange. Credentials
// come from Vault when enabled, falling back to the config file entry.
func buildExchanges(ctx context.Context, cfg *config.Config, vaultClient *vault.Client, logger zerolog.Logger) map[string]exchange.Exchange {
	exchanges := make(map[string]exchange.Exchange, len(cfg.Exchanges))
	for name, exCfg := range cfg.Exchanges {
		creds := exchange.Credentials{
			Key:        exCfg.Key,
			Secret:     exCfg.Secret,
			Passphrase: exCfg.Passphrase,
		}
		if vaultClient.IsEnabled() {
			if data, err := vaultClient.GetAPIKey(ctx, "default", name); err == nil {
				creds = exchange.Credentials{
					Key:        data.APIKey,
					Secret:     data.SecretKey,
					Passphrase: data.Passphrase,
				}
			} else {
				logger.Warn().Err(err).Str("exchange", name).Msg("vault lookup failed, using config credentials")
			}
		}

		ex, err := factory.Build(name, exCfg, creds, logger)
		if err != nil {
			logger.Error().Err(err).Str("exchange", name).Msg("adapter construction failed")
			continue
		}
		exchanges[name] = ex
	}
	return exchanges
}
