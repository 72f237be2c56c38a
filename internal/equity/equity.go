// Package equity reconstructs a historical equity timeline from realized
// P&L events when no snapshot history was ever recorded. The reconstruction
// is explicitly an estimate: realized P&L does not capture unrealized
// swings, fees outside P&L records, or external transfers.
package equity

import (
	"context"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/types"
	"github.com/ksred/folio-api/pkg/response"
)

// combinedRetention caps the combined cross-account series; per-account
// series are persisted without a cap.
const combinedRetention = 720

// Point is one point of a single account's equity series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// BackfillAccount synthesizes a backward-in-time daily equity series from an
// account's closed-P&L history and its current live-polled equity. P&L
// records are grouped by UTC calendar day; walking days in reverse
// chronological order, each day's equity is the running equity before that
// day's realized P&L. The final point always equals currentEquity exactly —
// the live value is never overwritten, only the past is inferred.
//
// An account with no closed-P&L records contributes no synthesized history.
func BackfillAccount(closedPnL []types.ClosedPnLRecord, currentEquity float64, now time.Time) []Point {
	if len(closedPnL) == 0 {
		return nil
	}

	today := now.UTC().Truncate(24 * time.Hour)
	daily := make(map[time.Time]float64)
	for _, record := range closedPnL {
		day := record.CreatedTime.UTC().Truncate(24 * time.Hour)
		if !day.Before(today) {
			// Today's realized P&L is already reflected in live equity.
			continue
		}
		daily[day] += record.ClosedPnl
	}

	days := make([]time.Time, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	points := make([]Point, 0, len(days)+1)
	points = append(points, Point{Timestamp: now, Equity: currentEquity})

	running := currentEquity
	for _, day := range days {
		running -= daily[day]
		points = append(points, Point{Timestamp: day, Equity: running})
	}

	// Reverse into chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points
}

// MergeSeries unions per-account series by timestamp. At each distinct
// timestamp an account contributes its most recent known value at-or-before
// that timestamp — a step series, not interpolated — and is absent before
// its first point. TotalEquity is the sum of contributions.
func MergeSeries(series map[string][]Point) []types.EquitySnapshot {
	seen := make(map[time.Time]bool)
	var timestamps []time.Time
	for _, points := range series {
		for _, p := range points {
			if !seen[p.Timestamp] {
				seen[p.Timestamp] = true
				timestamps = append(timestamps, p.Timestamp)
			}
		}
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	snapshots := make([]types.EquitySnapshot, 0, len(timestamps))
	for _, ts := range timestamps {
		snap := types.EquitySnapshot{Timestamp: ts, Accounts: make(map[string]float64)}
		for accountID, points := range series {
			value, ok := valueAt(points, ts)
			if !ok {
				continue
			}
			snap.Accounts[accountID] = value
			snap.TotalEquity += value
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// valueAt finds the latest point at-or-before ts in a chronological series.
func valueAt(points []Point, ts time.Time) (float64, bool) {
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp.After(ts)
	})
	if idx == 0 {
		return 0, false
	}
	return points[idx-1].Equity, true
}

// AccountSource lists the accounts a backfill covers.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]types.Account, error)
}

// HistorySource loads an account's cached history.
type HistorySource interface {
	LoadCachedHistoricalData(ctx context.Context, accountID string) (*types.HistoricalCache, error)
}

// Service runs the backfill across all accounts and persists the results.
type Service struct {
	db        *Database
	accounts  AccountSource
	histories HistorySource
	registry  *exchange.Registry
}

// NewService creates the equity service.
func NewService(gormDB *gorm.DB, accounts AccountSource, histories HistorySource, registry *exchange.Registry) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		accounts:  accounts,
		histories: histories,
		registry:  registry,
	}
}

// BackfillEquityHistory synthesizes every account's equity series from its
// cached closed-P&L history and current live equity, persists the
// per-account series, and replaces the combined series with the merged
// result capped at the retention window. Accounts without usable history
// degrade to "no synthesized history" rather than failing the run.
func (s *Service) BackfillEquityHistory(ctx context.Context) ([]types.EquitySnapshot, error) {
	logger := log.With().Str("component", "equity_backfill").Logger()

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	perAccount := make(map[string][]Point)
	for i := range accounts {
		account := accounts[i]

		client, err := s.registry.ClientFor(&account)
		if err != nil {
			logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("no exchange client, skipping backfill")
			continue
		}

		live, err := client.LiveSnapshot(ctx, &account)
		if err != nil {
			logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("live poll failed, skipping backfill")
			continue
		}

		cached, err := s.histories.LoadCachedHistoricalData(ctx, account.AccountID)
		if err != nil {
			logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("cache load failed, skipping backfill")
			continue
		}
		if cached == nil || len(cached.ClosedPnL) == 0 {
			logger.Debug().Str("account_id", account.AccountID).Msg("no closed P&L history, nothing to synthesize")
			continue
		}

		points := BackfillAccount(cached.ClosedPnL, live.Equity, now)
		if len(points) == 0 {
			continue
		}

		if err := s.db.ReplaceAccountSeries(ctx, account.AccountID, points); err != nil {
			return nil, err
		}
		perAccount[account.AccountID] = points

		logger.Info().
			Str("account_id", account.AccountID).
			Int("points", len(points)).
			Float64("current_equity", live.Equity).
			Msg("equity series synthesized")
	}

	merged := MergeSeries(perAccount)
	if len(merged) > combinedRetention {
		merged = merged[len(merged)-combinedRetention:]
	}
	if err := s.db.ReplaceCombinedSeries(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// CombinedHistory returns the persisted combined series in chronological
// order.
func (s *Service) CombinedHistory(ctx context.Context) ([]types.EquitySnapshot, error) {
	return s.db.CombinedSeries(ctx)
}

// DeleteAccountSeries removes an account's persisted series, used when the
// account is deleted.
func (s *Service) DeleteAccountSeries(ctx context.Context, accountID string) error {
	return s.db.DeleteAccountSeries(ctx, accountID)
}

// GinHandlers contains HTTP handlers for the equity endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the equity endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// BackfillHandler handles POST requests to run the equity backfill.
func (h *GinHandlers) BackfillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := h.service.BackfillEquityHistory(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, snapshots)
	}
}

// HistoryHandler handles GET requests for the combined equity series.
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := h.service.CombinedHistory(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, snapshots)
	}
}
