// Package reconcile merges the fast "current state" poll with the slower
// cached "full history" fetch into the unified account view the rest of the
// application consumes.
package reconcile

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/cache"
	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/types"
	"github.com/ksred/folio-api/pkg/response"
)

// Scheduler starts a non-blocking background full-history fetch. done is
// invoked with the fetch outcome once it finishes.
type Scheduler interface {
	ScheduleFetch(account types.Account, done func(error))
}

// AccountSource lists the accounts a refresh covers.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]types.Account, error)
}

// Reconciler produces merged account views on every ordinary data refresh.
// The fast path never blocks on history: accounts without a complete cache
// get a live-only view and a background fetch is scheduled exactly once.
type Reconciler struct {
	store     *cache.Store
	registry  *exchange.Registry
	scheduler Scheduler

	mu        sync.Mutex
	scheduled map[string]bool
}

// NewReconciler creates a reconciler.
func NewReconciler(store *cache.Store, registry *exchange.Registry, scheduler Scheduler) *Reconciler {
	return &Reconciler{
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		scheduled: make(map[string]bool),
	}
}

// Refresh polls each account's live snapshot and splices the cached history
// on when a complete cache exists. One account's poll failure never blocks
// the others; failed accounts are simply absent from the result.
func (r *Reconciler) Refresh(ctx context.Context, accounts []types.Account) []types.MergedAccountView {
	logger := log.With().Str("component", "reconciler").Logger()

	views := make([]types.MergedAccountView, 0, len(accounts))
	for i := range accounts {
		account := accounts[i]

		client, err := r.registry.ClientFor(&account)
		if err != nil {
			logger.Error().Err(err).Str("account_id", account.AccountID).Msg("no exchange client for account")
			continue
		}

		live, err := client.LiveSnapshot(ctx, &account)
		if err != nil {
			logger.Error().Err(err).Str("account_id", account.AccountID).Msg("live snapshot poll failed")
			continue
		}

		view := types.MergedAccountView{
			Account:     account,
			Live:        *live,
			LastUpdated: live.Timestamp,
		}

		cached, err := r.store.Load(ctx, account.AccountID)
		if err != nil {
			logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("cache load failed during refresh")
			cached = nil
		}

		switch {
		case cached != nil && cached.IsComplete && client.SupportsIncremental():
			// Historical data, once complete, is never dropped by a
			// live-only poll.
			view.Trades = cached.Trades
			view.ClosedPnL = cached.ClosedPnL
			view.HistoryComplete = true
			if cached.LastUpdated.After(view.LastUpdated) {
				view.LastUpdated = cached.LastUpdated
			}
		default:
			r.scheduleOnce(account)
		}

		views = append(views, view)
	}

	return views
}

// scheduleOnce schedules a background full-history fetch the first time an
// account shows up without a usable cache. A failed fetch clears the flag so
// a later refresh schedules again.
func (r *Reconciler) scheduleOnce(account types.Account) {
	r.mu.Lock()
	already := r.scheduled[account.AccountID]
	r.scheduled[account.AccountID] = true
	r.mu.Unlock()

	if already {
		return
	}

	log.Info().
		Str("component", "reconciler").
		Str("account_id", account.AccountID).
		Msg("scheduling background historical fetch")
	r.scheduler.ScheduleFetch(account, func(err error) {
		if err == nil {
			return
		}
		r.mu.Lock()
		delete(r.scheduled, account.AccountID)
		r.mu.Unlock()
	})
}

// GinHandlers contains HTTP handlers for the merged portfolio view.
type GinHandlers struct {
	reconciler *Reconciler
	accounts   AccountSource
}

// NewGinHandlers creates the portfolio endpoint handlers.
func NewGinHandlers(reconciler *Reconciler, accounts AccountSource) *GinHandlers {
	return &GinHandlers{reconciler: reconciler, accounts: accounts}
}

// PortfolioHandler handles GET requests for the merged view of every account.
func (h *GinHandlers) PortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.accounts.ListAccounts(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		views := h.reconciler.Refresh(c.Request.Context(), accounts)
		response.Success(c, views)
	}
}
