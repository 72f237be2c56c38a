package history

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/cache"
	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/types"
	"github.com/ksred/folio-api/pkg/response"
)

// defaultLookback is how far back a first-time fetch reaches when no prior
// cache exists for the account.
const defaultLookback = 2 * 365 * 24 * time.Hour

// AccountSource resolves account ids for the HTTP handlers.
type AccountSource interface {
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
}

// Service is the historical-data engine: it owns the cache store, the
// progress reporter and the per-exchange client registry, and coalesces
// concurrent fetch requests so one account's cache partition is never
// written by two fetch passes at once.
type Service struct {
	store    *cache.Store
	reporter *progress.Reporter
	registry *exchange.Registry
	lookback time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightFetch
	loaded   map[string]*types.HistoricalCache
}

type inflightFetch struct {
	done   chan struct{}
	result *types.HistoricalCache
	err    error
}

// NewService creates the history service.
func NewService(store *cache.Store, reporter *progress.Reporter, registry *exchange.Registry) *Service {
	return &Service{
		store:    store,
		reporter: reporter,
		registry: registry,
		lookback: defaultLookback,
		inflight: make(map[string]*inflightFetch),
		loaded:   make(map[string]*types.HistoricalCache),
	}
}

// SetLookback overrides how far back a first-time fetch reaches.
func (s *Service) SetLookback(lookback time.Duration) {
	s.lookback = lookback
}

// FetchCompleteHistoricalData fetches the account's full history, blocking
// until complete or failed. A second call for an account already mid-fetch
// is coalesced into the in-flight one and shares its result. Partial
// accumulations are persisted even on error so a later run can resume.
func (s *Service) FetchCompleteHistoricalData(ctx context.Context, account *types.Account, withProgress bool) (*types.HistoricalCache, error) {
	s.mu.Lock()
	if existing, ok := s.inflight[account.AccountID]; ok {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-existing.done:
			return existing.result, existing.err
		}
	}
	flight := &inflightFetch{done: make(chan struct{})}
	s.inflight[account.AccountID] = flight
	s.mu.Unlock()

	flight.result, flight.err = s.runFetch(ctx, account, withProgress)

	s.mu.Lock()
	delete(s.inflight, account.AccountID)
	s.mu.Unlock()
	close(flight.done)

	return flight.result, flight.err
}

func (s *Service) runFetch(ctx context.Context, account *types.Account, withProgress bool) (*types.HistoricalCache, error) {
	logger := log.With().
		Str("component", "history_service").
		Str("account_id", account.AccountID).
		Logger()

	client, err := s.registry.ClientFor(account)
	if err != nil {
		return nil, err
	}

	base, err := s.store.Load(ctx, account.AccountID)
	if err != nil {
		// A corrupt partition only loses its own resume point; refetch.
		logger.Warn().Err(err).Msg("prior cache unreadable, fetching from scratch")
		base = nil
	}

	end := time.Now()
	start := end.Add(-s.lookback)
	if base != nil {
		start = base.DataRange.Latest
		if start.After(end) {
			start = end
		}
	}

	reporter := s.reporter
	if !withProgress {
		reporter = nil
	}

	result, fetchErr := NewFetcher(client, reporter).FetchRange(ctx, account, start, end, base)
	if result == nil {
		return nil, fetchErr
	}

	// Persist even when cancelled: cancellation must never discard
	// already-fetched pages.
	saveCtx := context.WithoutCancel(ctx)
	if saveErr := s.store.Save(saveCtx, account.AccountID, result); saveErr != nil {
		logger.Error().Err(saveErr).Msg("failed to persist fetched history")
		if fetchErr == nil {
			return result, saveErr
		}
	}

	s.mu.Lock()
	s.loaded[account.AccountID] = result
	s.mu.Unlock()

	return result, fetchErr
}

// GetCachedHistoricalData returns the last-loaded in-memory cache for the
// account, or nil when none has been loaded this process.
func (s *Service) GetCachedHistoricalData(accountID string) *types.HistoricalCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[accountID]
}

// LoadCachedHistoricalData forces a load from persistent storage and
// refreshes the in-memory copy. A nil result means never fetched.
func (s *Service) LoadCachedHistoricalData(ctx context.Context, accountID string) (*types.HistoricalCache, error) {
	cached, err := s.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.mu.Lock()
		s.loaded[accountID] = cached
		s.mu.Unlock()
	}
	return cached, nil
}

// OnProgress subscribes to progress events for all accounts. The returned
// function removes the subscription.
func (s *Service) OnProgress(cb progress.Callback) func() {
	return s.reporter.SubscribeAll(cb)
}

// Forget drops the in-memory cache for an account, used when the account is
// deleted.
func (s *Service) Forget(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, accountID)
}

// ScheduleFetch starts a background full-history fetch for the account,
// invoking done with the outcome. The single-flight guard makes repeated
// scheduling safe.
func (s *Service) ScheduleFetch(account types.Account, done func(error)) {
	go func() {
		_, err := s.FetchCompleteHistoricalData(context.Background(), &account, false)
		if err != nil {
			log.Error().
				Err(err).
				Str("component", "history_service").
				Str("account_id", account.AccountID).
				Msg("background historical fetch failed")
		}
		if done != nil {
			done(err)
		}
	}()
}

// GinHandlers contains HTTP handlers for the history endpoints.
type GinHandlers struct {
	service  *Service
	accounts AccountSource
}

// NewGinHandlers creates the history endpoint handlers.
func NewGinHandlers(service *Service, accounts AccountSource) *GinHandlers {
	return &GinHandlers{service: service, accounts: accounts}
}

// FetchHandler handles POST requests to run a full historical fetch for one
// account, blocking until complete or failed.
// URL parameter: account_id
func (h *GinHandlers) FetchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		account, err := h.accounts.GetAccount(c.Request.Context(), accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		cached, err := h.service.FetchCompleteHistoricalData(c.Request.Context(), account, true)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, cached)
	}
}

// GetHistoryHandler handles GET requests for an account's cached history.
// Query parameter reload=true forces a load from persistent storage.
// URL parameter: account_id
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		var cached *types.HistoricalCache
		if c.Query("reload") == "true" {
			loaded, err := h.service.LoadCachedHistoricalData(c.Request.Context(), accountID)
			if err != nil {
				response.InternalError(c, err.Error())
				return
			}
			cached = loaded
		} else {
			cached = h.service.GetCachedHistoricalData(accountID)
			if cached == nil {
				loaded, err := h.service.LoadCachedHistoricalData(c.Request.Context(), accountID)
				if err != nil {
					response.InternalError(c, err.Error())
					return
				}
				cached = loaded
			}
		}

		if cached == nil {
			response.NotFound(c, "No historical data for account")
			return
		}

		response.Success(c, cached)
	}
}
