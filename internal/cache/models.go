package cache

import (
	"time"

	"gorm.io/gorm"
)

// CachePartition is the durable row backing one account's HistoricalCache.
// Each account gets its own row keyed by AccountID, so one account's
// oversized or corrupt payload cannot affect another's load or save.
type CachePartition struct {
	gorm.Model  `json:"-"`
	AccountID   string    `gorm:"uniqueIndex" json:"account_id"`
	Payload     []byte    `json:"-"` // JSON-encoded types.HistoricalCache
	IsComplete  bool      `json:"is_complete"`
	LastUpdated time.Time `json:"last_updated"`
}
