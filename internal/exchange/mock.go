package exchange

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ksred/folio-api/internal/types"
)

// MockDataset is the full remote-side history for one simulated account.
type MockDataset struct {
	Trades      []types.TradeRecord
	ClosedPnL   []types.ClosedPnLRecord
	Deposits    []types.TransferRecord
	Withdrawals []types.TransferRecord

	Equity           float64
	AvailableBalance float64
	Positions        []types.Position
}

// PageRequest records one FetchPage call against the mock, for inspection.
type PageRequest struct {
	AccountID string
	Kind      RecordKind
	Start     time.Time
	End       time.Time
	Cursor    string
}

// MockExchange simulates a remote exchange serving paginated history with
// configurable latency and failure behaviour. Used by the simulation and by
// tests as the counterparty.
type MockExchange struct {
	MinLatency int // in milliseconds
	MaxLatency int
	PageSize   int
	QuerySpan  time.Duration

	mu        sync.Mutex
	datasets  map[string]*MockDataset
	authFails map[string]bool
	fetchErrs map[string]int // remaining injected fetch failures per account
	requests  []PageRequest
}

// NewMockExchange creates a mock with a 7-day query span and 50-record pages.
func NewMockExchange() *MockExchange {
	return &MockExchange{
		PageSize:  50,
		QuerySpan: 7 * 24 * time.Hour,
		datasets:  make(map[string]*MockDataset),
		authFails: make(map[string]bool),
		fetchErrs: make(map[string]int),
	}
}

// Seed installs the remote-side dataset for an account. Records are sorted
// chronologically so pagination is stable across runs.
func (m *MockExchange) Seed(accountID string, dataset *MockDataset) {
	sort.Slice(dataset.Trades, func(i, j int) bool {
		return dataset.Trades[i].ExecTime.Before(dataset.Trades[j].ExecTime)
	})
	sort.Slice(dataset.ClosedPnL, func(i, j int) bool {
		return dataset.ClosedPnL[i].CreatedTime.Before(dataset.ClosedPnL[j].CreatedTime)
	})
	sort.Slice(dataset.Deposits, func(i, j int) bool {
		return dataset.Deposits[i].Time.Before(dataset.Deposits[j].Time)
	})
	sort.Slice(dataset.Withdrawals, func(i, j int) bool {
		return dataset.Withdrawals[i].Time.Before(dataset.Withdrawals[j].Time)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[accountID] = dataset
}

// FailAuth makes every call for the account fail with ErrAuthFailed.
func (m *MockExchange) FailAuth(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFails[accountID] = true
}

// FailNextFetches injects n unrecoverable fetch failures for the account.
func (m *MockExchange) FailNextFetches(accountID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErrs[accountID] = n
}

// Requests returns a copy of every FetchPage call seen so far.
func (m *MockExchange) Requests() []PageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PageRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ResetRequests clears the recorded request log.
func (m *MockExchange) ResetRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// MaxQuerySpan implements HistoryClient.
func (m *MockExchange) MaxQuerySpan() time.Duration { return m.QuerySpan }

// SupportsIncremental implements HistoryClient.
func (m *MockExchange) SupportsIncremental() bool { return true }

// FetchPage implements HistoryClient against the seeded dataset.
func (m *MockExchange) FetchPage(ctx context.Context, account *types.Account, kind RecordKind, start, end time.Time, cursor string) (*Page, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, PageRequest{
		AccountID: account.AccountID,
		Kind:      kind,
		Start:     start,
		End:       end,
		Cursor:    cursor,
	})

	if m.authFails[account.AccountID] {
		return nil, ErrAuthFailed
	}
	if m.fetchErrs[account.AccountID] > 0 {
		m.fetchErrs[account.AccountID]--
		return nil, ErrTransient
	}

	dataset, exists := m.datasets[account.AccountID]
	if !exists {
		return &Page{}, nil
	}

	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, ErrTransient
		}
		offset = parsed
	}

	page := &Page{}
	var total int
	switch kind {
	case KindClosedPnL:
		matched := filterClosedPnL(dataset.ClosedPnL, start, end)
		total = len(matched)
		page.ClosedPnL = sliceWindow(matched, offset, m.PageSize)
	case KindExecution:
		matched := filterTrades(dataset.Trades, start, end)
		total = len(matched)
		page.Trades = sliceWindow(matched, offset, m.PageSize)
	case KindDeposit:
		matched := filterTransfers(dataset.Deposits, start, end)
		total = len(matched)
		page.Transfers = sliceWindow(matched, offset, m.PageSize)
	case KindWithdrawal:
		matched := filterTransfers(dataset.Withdrawals, start, end)
		total = len(matched)
		page.Transfers = sliceWindow(matched, offset, m.PageSize)
	}

	if next := offset + m.PageSize; next < total {
		page.NextCursor = strconv.Itoa(next)
	}
	return page, nil
}

// LiveSnapshot implements HistoryClient from the seeded dataset.
func (m *MockExchange) LiveSnapshot(ctx context.Context, account *types.Account) (*types.LiveSnapshot, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.authFails[account.AccountID] {
		return nil, ErrAuthFailed
	}

	dataset, exists := m.datasets[account.AccountID]
	if !exists {
		return &types.LiveSnapshot{AccountID: account.AccountID, Timestamp: time.Now()}, nil
	}

	var unrealised float64
	for _, p := range dataset.Positions {
		unrealised += p.UnrealisedPnl
	}

	return &types.LiveSnapshot{
		AccountID:        account.AccountID,
		Equity:           dataset.Equity,
		AvailableBalance: dataset.AvailableBalance,
		UnrealisedPnl:    unrealised,
		Positions:        append([]types.Position(nil), dataset.Positions...),
		Timestamp:        time.Now(),
	}, nil
}

func (m *MockExchange) simulateLatency(ctx context.Context) error {
	if m.MaxLatency <= 0 {
		return ctx.Err()
	}
	latency := m.MinLatency
	if spread := m.MaxLatency - m.MinLatency; spread > 0 {
		latency += rand.Intn(spread + 1)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
		return nil
	}
}

// Range filters use half-open [start, end) semantics to match the chunker.

func filterClosedPnL(records []types.ClosedPnLRecord, start, end time.Time) []types.ClosedPnLRecord {
	var out []types.ClosedPnLRecord
	for _, r := range records {
		if !r.CreatedTime.Before(start) && r.CreatedTime.Before(end) {
			out = append(out, r)
		}
	}
	return out
}

func filterTrades(records []types.TradeRecord, start, end time.Time) []types.TradeRecord {
	var out []types.TradeRecord
	for _, r := range records {
		if !r.ExecTime.Before(start) && r.ExecTime.Before(end) {
			out = append(out, r)
		}
	}
	return out
}

func filterTransfers(records []types.TransferRecord, start, end time.Time) []types.TransferRecord {
	var out []types.TransferRecord
	for _, r := range records {
		if !r.Time.Before(start) && r.Time.Before(end) {
			out = append(out, r)
		}
	}
	return out
}

func sliceWindow[T any](records []T, offset, size int) []T {
	if offset >= len(records) {
		return nil
	}
	end := offset + size
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
