// Package jobs runs the periodic background work: ticker metadata refresh,
// withdrawal fee sync, and withdrawal rule evaluation.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"exchange-hub/internal/database"
	"exchange-hub/internal/exchange"
	"exchange-hub/internal/gate"
)

const feeSyncLeaseTTL = 5 * time.Minute

// FeeSyncer pulls the full per-asset withdrawal fee dataset from an exchange
// and persists it. Syncs for one exchange are serialized through the gate so
// overlapping scheduler ticks or manual triggers cannot race.
type FeeSyncer struct {
	repo   *database.Repository
	gate   *gate.Gate
	logger zerolog.Logger
}

// NewFeeSyncer builds a fee syncer.
func NewFeeSyncer(repo *database.Repository, g *gate.Gate, logger zerolog.Logger) *FeeSyncer {
	return &FeeSyncer{
		repo:   repo,
		gate:   g,
		logger: logger.With().Str("component", "feesync").Logger(),
	}
}

// Sync fetches and persists the fee dataset for one exchange. Returns
// gate.ErrBusy when a sync for the exchange is already running.
func (f *FeeSyncer) Sync(ctx context.Context, ex exchange.Exchange) error {
	return f.gate.Run(ctx, gate.FeeSyncKey(ex.Name()), feeSyncLeaseTTL, func(ctx context.Context) error {
		started := time.Now()
		fees, err := ex.FetchWithdrawalFees(ctx)
		if err != nil {
			f.logger.Error().Err(err).Str("exchange", ex.Name()).Msg("fee fetch failed")
			return err
		}

		var failed int
		for asset, assetFees := range fees {
			if err := f.repo.UpsertAssetFees(ctx, ex.Name(), asset, assetFees); err != nil {
				failed++
				f.logger.Error().Err(err).Str("exchange", ex.Name()).Str("asset", asset).Msg("fee upsert failed")
			}
		}
		if failed > 0 {
			return errors.New("fee sync: some assets failed to persist")
		}

		f.logger.Info().Str("exchange", ex.Name()).Int("assets", len(fees)).
			Dur("elapsed", time.Since(started)).Msg("fee sync completed")
		return nil
	})
}
