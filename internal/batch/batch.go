// Package batch runs historical fetches across a set of accounts as one
// ordered, observable batch. Accounts are processed sequentially by design:
// the exchange rate limiter is shared per credential set, so concurrent
// full-history fetches would multiply lockout risk.
package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/types"
	"github.com/ksred/folio-api/pkg/response"
)

// ErrBatchRunning is returned when a batch is started while one is in flight.
var ErrBatchRunning = errors.New("batch: a batch fetch is already running")

// HistoryFetcher is the blocking per-account fetch the orchestrator drives.
type HistoryFetcher interface {
	FetchCompleteHistoricalData(ctx context.Context, account *types.Account, withProgress bool) (*types.HistoricalCache, error)
}

// AccountSource resolves the batch's account ids.
type AccountSource interface {
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
}

// Orchestrator tracks one batch run's per-account statuses. Statuses live
// for the duration of the run and remain queryable until the next batch
// starts.
type Orchestrator struct {
	history  HistoryFetcher
	accounts AccountSource
	reporter *progress.Reporter

	mu       sync.RWMutex
	running  bool
	order    []string
	statuses map[string]*types.AccountFetchStatus
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(history HistoryFetcher, accounts AccountSource, reporter *progress.Reporter) *Orchestrator {
	return &Orchestrator{
		history:  history,
		accounts: accounts,
		reporter: reporter,
		statuses: make(map[string]*types.AccountFetchStatus),
	}
}

// Run processes the accounts sequentially, blocking until every account
// reaches a terminal state. One account's failure never halts the batch.
func (o *Orchestrator) Run(ctx context.Context, accountIDs []string) error {
	resolved, err := o.begin(ctx, accountIDs)
	if err != nil {
		return err
	}
	o.process(ctx, resolved)
	return nil
}

// Start begins a batch in the background, returning once statuses are
// initialized.
func (o *Orchestrator) Start(ctx context.Context, accountIDs []string) error {
	resolved, err := o.begin(ctx, accountIDs)
	if err != nil {
		return err
	}
	go o.process(context.WithoutCancel(ctx), resolved)
	return nil
}

// begin initializes a fresh status table, discarding the previous batch's.
func (o *Orchestrator) begin(ctx context.Context, accountIDs []string) ([]*types.Account, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil, ErrBatchRunning
	}
	o.running = true
	o.order = append([]string(nil), accountIDs...)
	o.statuses = make(map[string]*types.AccountFetchStatus, len(accountIDs))

	resolved := make([]*types.Account, len(accountIDs))
	for i, id := range accountIDs {
		status := &types.AccountFetchStatus{AccountID: id, Status: types.FetchStatusPending}
		account, err := o.accounts.GetAccount(ctx, id)
		if err != nil || account == nil {
			status.Status = types.FetchStatusError
			status.Message = "account not found"
		} else {
			status.Name = account.Name
			status.ExchangeKind = account.ExchangeKind
			resolved[i] = account
		}
		o.statuses[id] = status
	}
	return resolved, nil
}

func (o *Orchestrator) process(ctx context.Context, resolved []*types.Account) {
	logger := log.With().Str("component", "batch_orchestrator").Logger()
	logger.Info().Int("accounts", len(resolved)).Msg("starting batch historical fetch")

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	for i, account := range resolved {
		accountID := o.order[i]
		if account == nil {
			continue // already terminal from resolution
		}

		o.update(accountID, func(s *types.AccountFetchStatus) {
			s.Status = types.FetchStatusFetching
		})

		unsubscribe := o.reporter.Subscribe(accountID, func(event types.FetchProgressEvent) {
			if event.TotalChunks == 0 {
				return
			}
			o.update(accountID, func(s *types.AccountFetchStatus) {
				s.Progress = float64(event.ChunkIndex) / float64(event.TotalChunks) * 100
			})
		})

		result, err := o.history.FetchCompleteHistoricalData(ctx, account, true)
		unsubscribe()

		if err != nil {
			logger.Warn().
				Err(err).
				Str("account_id", accountID).
				Msg("account fetch failed, continuing batch")
			o.update(accountID, func(s *types.AccountFetchStatus) {
				s.Status = types.FetchStatusError
				s.Message = err.Error()
			})
			if errors.Is(err, context.Canceled) {
				// Remaining accounts stay pending; partials are already
				// persisted by the fetch layer.
				logger.Info().Msg("batch cancelled")
				return
			}
			continue
		}

		totalRecords := len(result.ClosedPnL) + len(result.Trades)
		o.update(accountID, func(s *types.AccountFetchStatus) {
			s.Status = types.FetchStatusComplete
			s.Progress = 100
			s.TotalRecords = totalRecords
		})
	}

	logger.Info().Msg("batch historical fetch finished")
}

func (o *Orchestrator) update(accountID string, fn func(*types.AccountFetchStatus)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status, ok := o.statuses[accountID]; ok {
		fn(status)
	}
}

// Status reports the current batch's per-account statuses in submission
// order plus the aggregate progress (mean of per-account progress).
func (o *Orchestrator) Status() types.BatchStatusResponse {
	o.mu.RLock()
	defer o.mu.RUnlock()

	resp := types.BatchStatusResponse{Running: o.running}
	var total float64
	for _, id := range o.order {
		status, ok := o.statuses[id]
		if !ok {
			continue
		}
		resp.Accounts = append(resp.Accounts, *status)
		total += status.Progress
	}
	if len(resp.Accounts) > 0 {
		resp.OverallProgress = total / float64(len(resp.Accounts))
	}
	return resp
}

// GinHandlers contains HTTP handlers for batch fetch endpoints.
type GinHandlers struct {
	orchestrator *Orchestrator
}

// NewGinHandlers creates the batch endpoint handlers.
func NewGinHandlers(orchestrator *Orchestrator) *GinHandlers {
	return &GinHandlers{orchestrator: orchestrator}
}

type startBatchRequest struct {
	AccountIDs []string `json:"account_ids" binding:"required,min=1"`
}

// StartBatchHandler handles POST requests to begin a batch historical fetch.
// The batch runs in the background; progress is polled via the status route.
func (h *GinHandlers) StartBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.orchestrator.Start(c.Request.Context(), req.AccountIDs); err != nil {
			if errors.Is(err, ErrBatchRunning) {
				response.Conflict(c, "A batch fetch is already running")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, h.orchestrator.Status())
	}
}

// BatchStatusHandler handles GET requests for the current batch's statuses.
func (h *GinHandlers) BatchStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.orchestrator.Status())
	}
}
