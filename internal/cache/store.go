// Package cache is the durable per-account store for historical data. Each
// account's HistoricalCache lives in its own partition; saves are whole-record
// replacements, never merges — merge logic belongs to the reconciler.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/types"
)

// Store persists one HistoricalCache per account.
type Store struct {
	db *Database
}

// NewStore creates a cache store on the given database connection.
func NewStore(gormDB *gorm.DB) *Store {
	return &Store{db: NewDatabase(gormDB)}
}

// Load reads an account's cache from storage. A nil result with a nil error
// means the account has never been fetched — callers must distinguish this
// from a cache with IsComplete == false.
func (s *Store) Load(ctx context.Context, accountID string) (*types.HistoricalCache, error) {
	partition, err := s.db.GetPartition(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading cache partition for account %s: %w", accountID, err)
	}
	if partition == nil {
		return nil, nil
	}

	var cached types.HistoricalCache
	if err := json.Unmarshal(partition.Payload, &cached); err != nil {
		// A corrupt partition affects only its own account.
		return nil, fmt.Errorf("corrupt cache partition for account %s: %w", accountID, err)
	}
	return &cached, nil
}

// Save writes the cache as a whole-record replacement of the account's
// partition. Partial caches (IsComplete == false) are saved too, so an
// interrupted fetch can resume rather than refetch everything.
func (s *Store) Save(ctx context.Context, accountID string, cached *types.HistoricalCache) error {
	payload, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encoding cache for account %s: %w", accountID, err)
	}

	partition := &CachePartition{
		AccountID:   accountID,
		Payload:     payload,
		IsComplete:  cached.IsComplete,
		LastUpdated: cached.LastUpdated,
	}
	if err := s.db.UpsertPartition(ctx, partition); err != nil {
		return fmt.Errorf("saving cache partition for account %s: %w", accountID, err)
	}

	log.Debug().
		Str("component", "cache_store").
		Str("account_id", accountID).
		Bool("is_complete", cached.IsComplete).
		Int("payload_bytes", len(payload)).
		Msg("cache partition saved")
	return nil
}

// Delete removes the account's partition entirely.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	if err := s.db.DeletePartition(ctx, accountID); err != nil {
		return fmt.Errorf("deleting cache partition for account %s: %w", accountID, err)
	}
	return nil
}
