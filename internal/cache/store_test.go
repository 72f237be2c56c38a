package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/types"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CachePartition{}))

	return NewStore(db), db
}

func sampleCache(accountID string, complete bool) *types.HistoricalCache {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &types.HistoricalCache{
		AccountID: accountID,
		Trades: []types.TradeRecord{
			{AccountID: accountID, ExecID: "exec-1", Symbol: "BTCUSDT", Qty: 1, Price: 50000, ExecTime: now},
		},
		ClosedPnL: []types.ClosedPnLRecord{
			{AccountID: accountID, OrderID: "ord-1", Symbol: "BTCUSDT", ClosedPnl: 120, CreatedTime: now},
		},
		DataRange:   types.DataRange{Earliest: now.Add(-24 * time.Hour), Latest: now},
		IsComplete:  complete,
		LastUpdated: now,
	}
}

func TestStoreLoadNeverFetched(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	loaded, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	cached := sampleCache("acct-1", true)

	require.NoError(t, store.Save(context.Background(), "acct-1", cached))

	loaded, err := store.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, cached.AccountID, loaded.AccountID)
	assert.Equal(t, cached.Trades, loaded.Trades)
	assert.Equal(t, cached.ClosedPnL, loaded.ClosedPnL)
	assert.True(t, loaded.IsComplete)
	assert.True(t, cached.DataRange.Latest.Equal(loaded.DataRange.Latest))
}

func TestStoreSaveReplacesWholeRecord(t *testing.T) {
	t.Parallel()

	store, db := newTestStore(t)

	partial := sampleCache("acct-1", false)
	require.NoError(t, store.Save(context.Background(), "acct-1", partial))

	// A later save fully replaces the partition, it never merges
	full := sampleCache("acct-1", true)
	full.Trades = append(full.Trades, types.TradeRecord{AccountID: "acct-1", ExecID: "exec-2"})
	require.NoError(t, store.Save(context.Background(), "acct-1", full))

	loaded, err := store.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, loaded.IsComplete)
	assert.Len(t, loaded.Trades, 2)

	// Only one partition row exists for the account
	var count int64
	require.NoError(t, db.Model(&CachePartition{}).Where("account_id = ?", "acct-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStorePartitionIsolation(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), "acct-1", sampleCache("acct-1", true)))
	require.NoError(t, store.Save(context.Background(), "acct-2", sampleCache("acct-2", false)))

	first, err := store.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	second, err := store.Load(context.Background(), "acct-2")
	require.NoError(t, err)

	assert.Equal(t, "acct-1", first.AccountID)
	assert.True(t, first.IsComplete)
	assert.Equal(t, "acct-2", second.AccountID)
	assert.False(t, second.IsComplete)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), "acct-1", sampleCache("acct-1", true)))
	require.NoError(t, store.Delete(context.Background(), "acct-1"))

	loaded, err := store.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting a missing partition is not an error
	assert.NoError(t, store.Delete(context.Background(), "acct-1"))
}

func TestStoreCorruptPartition(t *testing.T) {
	t.Parallel()

	store, db := newTestStore(t)

	require.NoError(t, db.Create(&CachePartition{
		AccountID: "acct-1",
		Payload:   []byte("{not json"),
	}).Error)

	_, err := store.Load(context.Background(), "acct-1")
	assert.Error(t, err)

	// Other accounts are unaffected
	require.NoError(t, store.Save(context.Background(), "acct-2", sampleCache("acct-2", true)))
	loaded, err := store.Load(context.Background(), "acct-2")
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}
