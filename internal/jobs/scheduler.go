package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exchange-hub/config"
	"exchange-hub/internal/exchange"
	"exchange-hub/internal/gate"
	"exchange-hub/internal/withdrawal"
)

// Scheduler drives the periodic refresh loops for every configured
// exchange. Exchange start times are staggered so the loops do not hammer
// all venues at once.
type Scheduler struct {
	exchanges   []exchange.Exchange
	feeSyncer   *FeeSyncer
	withdrawals *withdrawal.Service
	intervals   config.SyncConfig
	logger      zerolog.Logger

	wg sync.WaitGroup
}

// NewScheduler builds a scheduler over the given adapters.
func NewScheduler(exchanges []exchange.Exchange, feeSyncer *FeeSyncer, withdrawals *withdrawal.Service, intervals config.SyncConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		exchanges:   exchanges,
		feeSyncer:   feeSyncer,
		withdrawals: withdrawals,
		intervals:   intervals,
		logger:      logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the refresh loops. They run until ctx is cancelled; Wait
// blocks until they have all stopped.
func (s *Scheduler) Start(ctx context.Context) {
	stagger := 5 * time.Second
	for i, ex := range s.exchanges {
		delay := time.Duration(i) * stagger

		s.launch(ctx, delay, s.intervals.TickersInterval, ex, s.refreshTickers)
		s.launch(ctx, delay, s.intervals.FeesInterval, ex, s.syncFees)
		s.launch(ctx, delay, s.intervals.WithdrawalsInterval, ex, s.runWithdrawals)
	}
}

// Wait blocks until all loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) launch(ctx context.Context, delay, interval time.Duration, ex exchange.Exchange, job func(context.Context, exchange.Exchange)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		job(ctx, ex)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				job(ctx, ex)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) refreshTickers(ctx context.Context, ex exchange.Exchange) {
	if _, err := ex.GetTickersInfo(ctx, true); err != nil {
		s.logger.Error().Err(err).Str("exchange", ex.Name()).Msg("ticker refresh failed")
	}
}

func (s *Scheduler) syncFees(ctx context.Context, ex exchange.Exchange) {
	err := s.feeSyncer.Sync(ctx, ex)
	if errors.Is(err, gate.ErrBusy) {
		s.logger.Debug().Str("exchange", ex.Name()).Msg("fee sync already running")
	}
}

func (s *Scheduler) runWithdrawals(ctx context.Context, ex exchange.Exchange) {
	evaluations, err := s.withdrawals.RunRules(ctx, ex)
	if err != nil {
		s.logger.Error().Err(err).Str("exchange", ex.Name()).Msg("withdrawal run failed")
		return
	}
	for _, eval := range evaluations {
		if eval.Err != nil || !eval.Permitted {
			continue
		}
		s.logger.Info().Str("exchange", ex.Name()).Str("asset", eval.Rule.Asset).
			Str("withdrawal_id", eval.WithdrawalID).Msg("scheduled withdrawal submitted")
	}
}
