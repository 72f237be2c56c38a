package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/cache"
	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/types"
)

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	fetchErr  error
}

func (f *fakeScheduler) ScheduleFetch(account types.Account, done func(error)) {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, account.AccountID)
	err := f.fetchErr
	f.mu.Unlock()
	done(err)
}

func (f *fakeScheduler) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scheduled...)
}

func newTestReconciler(t *testing.T, mock *exchange.MockExchange) (*Reconciler, *cache.Store, *fakeScheduler) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&cache.CachePartition{}))

	store := cache.NewStore(db)
	registry := exchange.NewRegistry()
	registry.Register("mock", mock)
	scheduler := &fakeScheduler{}

	return NewReconciler(store, registry, scheduler), store, scheduler
}

func completeCache(accountID string, trades, pnl int) *types.HistoricalCache {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cached := &types.HistoricalCache{
		AccountID:   accountID,
		IsComplete:  true,
		LastUpdated: now,
		DataRange:   types.DataRange{Earliest: now.Add(-30 * 24 * time.Hour), Latest: now},
	}
	for i := 0; i < trades; i++ {
		cached.Trades = append(cached.Trades, types.TradeRecord{AccountID: accountID, Symbol: "BTCUSDT"})
	}
	for i := 0; i < pnl; i++ {
		cached.ClosedPnL = append(cached.ClosedPnL, types.ClosedPnLRecord{AccountID: accountID, Symbol: "BTCUSDT"})
	}
	return cached
}

func TestRefreshSplicesCompleteHistory(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.Seed("acct-1", &exchange.MockDataset{Equity: 12500, AvailableBalance: 4000})

	reconciler, store, scheduler := newTestReconciler(t, mock)
	require.NoError(t, store.Save(context.Background(), "acct-1", completeCache("acct-1", 40, 25)))

	accounts := []types.Account{{AccountID: "acct-1", Name: "main", ExchangeKind: "mock"}}
	views := reconciler.Refresh(context.Background(), accounts)
	require.Len(t, views, 1)

	view := views[0]
	assert.InDelta(t, 12500, view.Live.Equity, 0.001)
	assert.True(t, view.HistoryComplete)

	// A live-only poll never drops historical records
	assert.Len(t, view.Trades, 40)
	assert.Len(t, view.ClosedPnL, 25)

	// Nothing to schedule when the cache is complete
	assert.Empty(t, scheduler.calls())
}

func TestRefreshWithoutCacheSchedulesOnce(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.Seed("acct-1", &exchange.MockDataset{Equity: 8000})

	reconciler, _, scheduler := newTestReconciler(t, mock)

	accounts := []types.Account{{AccountID: "acct-1", ExchangeKind: "mock"}}
	views := reconciler.Refresh(context.Background(), accounts)
	require.Len(t, views, 1)

	// Live-only view while history is missing
	assert.False(t, views[0].HistoryComplete)
	assert.Empty(t, views[0].Trades)
	assert.InDelta(t, 8000, views[0].Live.Equity, 0.001)

	// Repeated refreshes schedule the background fetch exactly once
	reconciler.Refresh(context.Background(), accounts)
	reconciler.Refresh(context.Background(), accounts)
	assert.Equal(t, []string{"acct-1"}, scheduler.calls())
}

func TestRefreshReschedulesAfterFailedFetch(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.Seed("acct-1", &exchange.MockDataset{Equity: 8000})

	reconciler, _, scheduler := newTestReconciler(t, mock)
	scheduler.fetchErr = errors.New("gateway unreachable")

	accounts := []types.Account{{AccountID: "acct-1", ExchangeKind: "mock"}}
	reconciler.Refresh(context.Background(), accounts)
	reconciler.Refresh(context.Background(), accounts)

	// Each failed background fetch clears the flag, so every refresh retries
	assert.Equal(t, []string{"acct-1", "acct-1"}, scheduler.calls())

	// Once a fetch succeeds the account stays scheduled-once again
	scheduler.fetchErr = nil
	reconciler.Refresh(context.Background(), accounts)
	reconciler.Refresh(context.Background(), accounts)
	assert.Equal(t, []string{"acct-1", "acct-1", "acct-1"}, scheduler.calls())
}

func TestRefreshIncompleteCacheStaysLiveOnly(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.Seed("acct-1", &exchange.MockDataset{Equity: 8000})

	reconciler, store, scheduler := newTestReconciler(t, mock)

	partial := completeCache("acct-1", 10, 5)
	partial.IsComplete = false
	require.NoError(t, store.Save(context.Background(), "acct-1", partial))

	accounts := []types.Account{{AccountID: "acct-1", ExchangeKind: "mock"}}
	views := reconciler.Refresh(context.Background(), accounts)
	require.Len(t, views, 1)

	// An incomplete cache is never presented as history
	assert.False(t, views[0].HistoryComplete)
	assert.Empty(t, views[0].Trades)
	assert.Equal(t, []string{"acct-1"}, scheduler.calls())
}

func TestRefreshSkipsFailedAccounts(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.Seed("acct-1", &exchange.MockDataset{Equity: 5000})
	mock.Seed("acct-2", &exchange.MockDataset{Equity: 7000})
	mock.FailAuth("acct-2")

	reconciler, _, _ := newTestReconciler(t, mock)

	accounts := []types.Account{
		{AccountID: "acct-1", ExchangeKind: "mock"},
		{AccountID: "acct-2", ExchangeKind: "mock"},
	}
	views := reconciler.Refresh(context.Background(), accounts)

	// The failing account is absent, the healthy one unaffected
	require.Len(t, views, 1)
	assert.Equal(t, "acct-1", views[0].Account.AccountID)
}

func TestRefreshUnknownExchangeKind(t *testing.T) {
	t.Parallel()

	reconciler, _, scheduler := newTestReconciler(t, exchange.NewMockExchange())

	accounts := []types.Account{{AccountID: "acct-1", ExchangeKind: "unregistered"}}
	views := reconciler.Refresh(context.Background(), accounts)

	assert.Empty(t, views)
	assert.Empty(t, scheduler.calls())
}
