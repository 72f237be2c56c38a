package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/types"
)

var fetchBase = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testAccount() *types.Account {
	return &types.Account{AccountID: "acct-1", Name: "main", ExchangeKind: "mock"}
}

// seedThreeChunks installs three 7-day chunks worth of history: per chunk
// 3 trades, 2 closed P&L records and 1 deposit, plus one withdrawal in the
// second chunk.
func seedThreeChunks(mock *exchange.MockExchange, accountID string) {
	dataset := &exchange.MockDataset{Equity: 10000}
	for c := 0; c < 3; c++ {
		chunkStart := fetchBase.Add(time.Duration(c) * 7 * 24 * time.Hour)
		for i := 0; i < 3; i++ {
			dataset.Trades = append(dataset.Trades, types.TradeRecord{
				AccountID: accountID,
				ExecID:    fmt.Sprintf("exec-%d-%d", c, i),
				Symbol:    "BTCUSDT",
				Side:      "BUY",
				Qty:       1,
				Price:     50000,
				Fee:       5,
				ExecTime:  chunkStart.Add(time.Duration(i+1) * time.Hour),
			})
		}
		for i := 0; i < 2; i++ {
			dataset.ClosedPnL = append(dataset.ClosedPnL, types.ClosedPnLRecord{
				AccountID:   accountID,
				OrderID:     fmt.Sprintf("ord-%d-%d", c, i),
				Symbol:      "BTCUSDT",
				ClosedPnl:   float64(100 - 150*i),
				CreatedTime: chunkStart.Add(time.Duration(i+4) * time.Hour),
			})
		}
		dataset.Deposits = append(dataset.Deposits, types.TransferRecord{
			AccountID:  accountID,
			TransferID: fmt.Sprintf("dep-%d", c),
			Asset:      "USDT",
			Amount:     1000,
			Direction:  "DEPOSIT",
			Time:       chunkStart.Add(6 * time.Hour),
		})
	}
	dataset.Withdrawals = append(dataset.Withdrawals, types.TransferRecord{
		AccountID:  accountID,
		TransferID: "wd-0",
		Asset:      "USDT",
		Amount:     200,
		Direction:  "WITHDRAWAL",
		Time:       fetchBase.Add(7*24*time.Hour + 7*time.Hour),
	})
	mock.Seed(accountID, dataset)
}

func TestFetchRangeComplete(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	end := fetchBase.Add(21 * 24 * time.Hour)
	result, err := NewFetcher(mock, nil).FetchRange(context.Background(), account, fetchBase, end, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.IsComplete)
	assert.Len(t, result.Trades, 9)
	assert.Len(t, result.ClosedPnL, 6)
	assert.Len(t, result.Deposits, 3)
	assert.Len(t, result.Withdrawals, 1)
	assert.Equal(t, fetchBase, result.DataRange.Earliest)
	assert.Equal(t, end, result.DataRange.Latest)

	// Metrics derive from the fetched records
	assert.Equal(t, 9, result.Metrics.TotalTrades)
	assert.InDelta(t, 150, result.Metrics.TotalClosedPnl, 0.001)
	assert.InDelta(t, 50, result.Metrics.WinRate, 0.001)
	assert.InDelta(t, 45, result.Metrics.TotalFees, 0.001)
}

func TestFetchRangePaginates(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	mock.PageSize = 2
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	end := fetchBase.Add(21 * 24 * time.Hour)
	result, err := NewFetcher(mock, nil).FetchRange(context.Background(), account, fetchBase, end, nil)
	require.NoError(t, err)

	// Pagination must not drop or duplicate records
	assert.Len(t, result.Trades, 9)
	assert.Len(t, result.ClosedPnL, 6)

	// 3 trades per chunk at page size 2 means a second page per chunk
	var paginated int
	for _, req := range mock.Requests() {
		if req.Cursor != "" {
			paginated++
		}
	}
	assert.Equal(t, 3, paginated)
}

func TestFetchRangeProgressEvents(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	reporter := progress.NewReporter()
	var events []types.FetchProgressEvent
	unsubscribe := reporter.Subscribe(account.AccountID, func(event types.FetchProgressEvent) {
		events = append(events, event)
	})
	defer unsubscribe()

	end := fetchBase.Add(21 * 24 * time.Hour)
	_, err := NewFetcher(mock, reporter).FetchRange(context.Background(), account, fetchBase, end, nil)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	// One event per page, chunk indices and record counts never regress
	for i, event := range events {
		assert.Equal(t, account.AccountID, event.AccountID)
		assert.Equal(t, 3, event.TotalChunks)
		if i > 0 {
			assert.GreaterOrEqual(t, event.ChunkIndex, events[i-1].ChunkIndex)
			assert.GreaterOrEqual(t, event.RecordsRetrieved, events[i-1].RecordsRetrieved)
		}
	}

	last := events[len(events)-1]
	assert.Equal(t, 3, last.ChunkIndex)
	assert.Equal(t, 19, last.RecordsRetrieved)
}

// failFromClient delegates to the mock until a chunk at or past failFrom is
// requested.
type failFromClient struct {
	*exchange.MockExchange
	failFrom time.Time
}

func (c *failFromClient) FetchPage(ctx context.Context, account *types.Account, kind exchange.RecordKind, start, end time.Time, cursor string) (*exchange.Page, error) {
	if !start.Before(c.failFrom) {
		return nil, exchange.ErrTransient
	}
	return c.MockExchange.FetchPage(ctx, account, kind, start, end, cursor)
}

func TestFetchRangePartialKeepsCompletedChunks(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	// Fail once the third chunk starts
	failFrom := fetchBase.Add(14 * 24 * time.Hour)
	client := &failFromClient{MockExchange: mock, failFrom: failFrom}

	end := fetchBase.Add(21 * 24 * time.Hour)
	result, err := NewFetcher(client, nil).FetchRange(context.Background(), account, fetchBase, end, nil)
	require.Error(t, err)
	require.NotNil(t, result)

	// Exactly the first two chunks survive
	assert.False(t, result.IsComplete)
	assert.Len(t, result.Trades, 6)
	assert.Len(t, result.ClosedPnL, 4)
	assert.Len(t, result.Deposits, 2)
	assert.Len(t, result.Withdrawals, 1)
	assert.Equal(t, failFrom, result.DataRange.Latest)
}

func TestFetchRangeResumeSkipsCompletedChunks(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	failFrom := fetchBase.Add(14 * 24 * time.Hour)
	end := fetchBase.Add(21 * 24 * time.Hour)

	partial, err := NewFetcher(&failFromClient{MockExchange: mock, failFrom: failFrom}, nil).
		FetchRange(context.Background(), account, fetchBase, end, nil)
	require.Error(t, err)
	require.NotNil(t, partial)

	// Resume from the partial's high-water mark
	mock.ResetRequests()
	result, err := NewFetcher(mock, nil).FetchRange(context.Background(), account, partial.DataRange.Latest, end, partial)
	require.NoError(t, err)

	assert.True(t, result.IsComplete)
	assert.Len(t, result.Trades, 9)
	assert.Len(t, result.ClosedPnL, 6)
	assert.Len(t, result.Deposits, 3)
	assert.Equal(t, fetchBase, result.DataRange.Earliest)
	assert.Equal(t, end, result.DataRange.Latest)

	// No completed chunk was re-requested
	for _, req := range mock.Requests() {
		assert.False(t, req.Start.Before(failFrom),
			"request for already-fetched range at %s", req.Start)
	}
}

// cancellingClient cancels the run once a chunk at or past cancelFrom is
// requested, simulating a shutdown mid-fetch.
type cancellingClient struct {
	*exchange.MockExchange
	cancel     context.CancelFunc
	cancelFrom time.Time
}

func (c *cancellingClient) FetchPage(ctx context.Context, account *types.Account, kind exchange.RecordKind, start, end time.Time, cursor string) (*exchange.Page, error) {
	if !start.Before(c.cancelFrom) {
		c.cancel()
		return nil, ctx.Err()
	}
	return c.MockExchange.FetchPage(ctx, account, kind, start, end, cursor)
}

func TestFetchRangeCancellationReturnsPartial(t *testing.T) {
	t.Parallel()

	mock := exchange.NewMockExchange()
	account := testAccount()
	seedThreeChunks(mock, account.AccountID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancellingClient{
		MockExchange: mock,
		cancel:       cancel,
		cancelFrom:   fetchBase.Add(7 * 24 * time.Hour),
	}

	end := fetchBase.Add(21 * 24 * time.Hour)
	result, err := NewFetcher(client, nil).FetchRange(ctx, account, fetchBase, end, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)

	assert.False(t, result.IsComplete)
	assert.Len(t, result.Trades, 3)
	assert.Equal(t, fetchBase.Add(7*24*time.Hour), result.DataRange.Latest)
}
