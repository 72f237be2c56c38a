package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Processor struct {
	reconciler   *Reconciler
	accounts     AccountSource
	refreshDelay time.Duration // Time between refresh cycles
}

func NewProcessor(reconciler *Reconciler, accounts AccountSource) *Processor {
	return &Processor{
		reconciler:   reconciler,
		accounts:     accounts,
		refreshDelay: 5 * time.Minute, // Configurable refresh interval
	}
}

// Start begins the periodic refresh loop. Each cycle polls every account's
// live snapshot and schedules background history fetches for accounts
// without a complete cache. One cycle completes before the next begins.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "refresh_processor").Logger()
	logger.Info().Msg("starting refresh processor")

	ticker := time.NewTicker(p.refreshDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down refresh processor")
			return
		case <-ticker.C:
			if err := p.refreshAll(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to refresh accounts")
			}
		}
	}
}

func (p *Processor) refreshAll(ctx context.Context) error {
	logger := log.With().Str("component", "refresh_processor").Logger()

	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	views := p.reconciler.Refresh(ctx, accounts)
	logger.Info().
		Int("accounts", len(accounts)).
		Int("refreshed", len(views)).
		Msg("refresh cycle complete")
	return nil
}
