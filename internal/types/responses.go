package types

import "time"

// MergedAccountView is the unified view the rest of the application consumes:
// the live snapshot with the cached history spliced on when a complete cache
// exists. HistoryComplete tells the UI whether the historical fields are
// final or still loading.
type MergedAccountView struct {
	Account         Account           `json:"account"`
	Live            LiveSnapshot      `json:"live"`
	Trades          []TradeRecord     `json:"trades,omitempty"`
	ClosedPnL       []ClosedPnLRecord `json:"closed_pnl,omitempty"`
	HistoryComplete bool              `json:"history_complete"`
	LastUpdated     time.Time         `json:"last_updated"`
}

// BatchStatusResponse reports a batch run's per-account statuses plus the
// aggregate progress (mean of per-account progress while running).
type BatchStatusResponse struct {
	Running         bool                 `json:"running"`
	OverallProgress float64              `json:"overall_progress"`
	Accounts        []AccountFetchStatus `json:"accounts"`
}
