package types

import (
	"time"

	"gorm.io/gorm"
)

// Account represents one exchange account tracked by the engine.
// Credentials are never stored here; CredentialsRef names an entry in the
// external secret store that owns them.
type Account struct {
	gorm.Model     `json:"-"`
	AccountID      string    `gorm:"uniqueIndex" json:"account_id"`
	Name           string    `json:"name"`
	ExchangeKind   string    `json:"exchange_kind"` // e.g. "bybit", "mock"
	IsTestnet      bool      `json:"is_testnet"`
	CredentialsRef string    `json:"credentials_ref"`
	CreatedAt      time.Time `json:"created_at"`
}

// TradeRecord is a single execution reported by the exchange.
// Immutable once fetched; identified by (AccountID, ExecID).
type TradeRecord struct {
	AccountID string    `json:"account_id"`
	OrderID   string    `json:"order_id"`
	ExecID    string    `json:"exec_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // BUY or SELL
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	ExecTime  time.Time `json:"exec_time"`
}

// ClosedPnLRecord is an exchange-reported realized profit/loss event for a
// fully-closed position lot.
type ClosedPnLRecord struct {
	AccountID     string    `json:"account_id"`
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           float64   `json:"qty"`
	ClosedPnl     float64   `json:"closed_pnl"`
	CumEntryValue float64   `json:"cum_entry_value"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	AvgExitPrice  float64   `json:"avg_exit_price"`
	Leverage      float64   `json:"leverage"`
	CreatedTime   time.Time `json:"created_time"`
	UpdatedTime   time.Time `json:"updated_time"`
}

// TransferRecord is a deposit or withdrawal on the account.
type TransferRecord struct {
	AccountID  string    `json:"account_id"`
	TransferID string    `json:"transfer_id"`
	Asset      string    `json:"asset"`
	Amount     float64   `json:"amount"`
	Direction  string    `json:"direction"` // DEPOSIT or WITHDRAWAL
	Time       time.Time `json:"time"`
}

// DataRange is the span of history a cache covers.
type DataRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// PerformanceMetrics are summary statistics computed when a fetch completes.
type PerformanceMetrics struct {
	TotalTrades    int     `json:"total_trades"`
	TotalClosedPnl float64 `json:"total_closed_pnl"`
	WinRate        float64 `json:"win_rate"`
	TotalFees      float64 `json:"total_fees"`
}

// HistoricalCache is the full historical record for one account.
// IsComplete == true means every chunk of the requested span was fetched
// without error; an incomplete cache must never be presented as final.
type HistoricalCache struct {
	AccountID   string             `json:"account_id"`
	Trades      []TradeRecord      `json:"trades"`
	ClosedPnL   []ClosedPnLRecord  `json:"closed_pnl"`
	Deposits    []TransferRecord   `json:"deposits"`
	Withdrawals []TransferRecord   `json:"withdrawals"`
	DataRange   DataRange          `json:"data_range"`
	Metrics     PerformanceMetrics `json:"performance_metrics"`
	IsComplete  bool               `json:"is_complete"`
	LastUpdated time.Time          `json:"last_updated"`
}

// FetchProgressEvent is published after every page fetched during a
// historical run. Transient; never persisted.
type FetchProgressEvent struct {
	AccountID        string    `json:"account_id"`
	ChunkIndex       int       `json:"chunk_index"` // 1-based
	TotalChunks      int       `json:"total_chunks"`
	RecordsRetrieved int       `json:"records_retrieved"`
	RangeStart       time.Time `json:"range_start"`
	RangeEnd         time.Time `json:"range_end"`
}

// Batch fetch statuses.
const (
	FetchStatusPending  = "PENDING"
	FetchStatusFetching = "FETCHING"
	FetchStatusComplete = "COMPLETE"
	FetchStatusError    = "ERROR"
)

// AccountFetchStatus tracks one account's place in a batch run.
type AccountFetchStatus struct {
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	ExchangeKind string  `json:"exchange_kind"`
	Status       string  `json:"status"` // PENDING, FETCHING, COMPLETE, ERROR
	Progress     float64 `json:"progress"` // 0-100
	Message      string  `json:"message,omitempty"`
	TotalRecords int     `json:"total_records,omitempty"`
}

// Position is an open position from the live poll.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealisedPnl float64 `json:"unrealised_pnl"`
	Leverage      float64 `json:"leverage"`
}

// LiveSnapshot is the fast "current state" poll: balance and open positions.
type LiveSnapshot struct {
	AccountID        string     `json:"account_id"`
	Equity           float64    `json:"equity"`
	AvailableBalance float64    `json:"available_balance"`
	UnrealisedPnl    float64    `json:"unrealised_pnl"`
	Positions        []Position `json:"positions"`
	Timestamp        time.Time  `json:"timestamp"`
}

// EquitySnapshot is one point of the combined equity series across accounts.
type EquitySnapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	TotalEquity float64            `json:"total_equity"`
	Accounts    map[string]float64 `json:"accounts"`
}
