package equity

import (
	"time"

	"gorm.io/gorm"
)

// EquityPoint is one persisted point of an account's synthesized equity
// series. Per-account series are kept in full.
type EquityPoint struct {
	gorm.Model `json:"-"`
	AccountID  string    `gorm:"index" json:"account_id"`
	Timestamp  time.Time `json:"timestamp"`
	Equity     float64   `json:"equity"`
}

// CombinedSnapshot is one persisted point of the combined cross-account
// series, capped at the most recent combinedRetention points.
type CombinedSnapshot struct {
	gorm.Model   `json:"-"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
	TotalEquity  float64   `json:"total_equity"`
	AccountsJSON []byte    `json:"-"` // map[accountID]equity
}
