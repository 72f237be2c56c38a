package equity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/folio-api/internal/types"
)

func pnlRecord(ts time.Time, pnl float64) types.ClosedPnLRecord {
	return types.ClosedPnLRecord{
		AccountID:   "acct-1",
		Symbol:      "BTCUSDT",
		ClosedPnl:   pnl,
		CreatedTime: ts,
	}
}

func TestBackfillAccountReconstruction(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	dayMinus1 := now.Add(-24 * time.Hour)
	dayMinus2 := now.Add(-48 * time.Hour)

	// Current equity $5,181; yesterday lost $1,000, the day before lost $300.
	// Equity before each losing day must be higher than after it.
	records := []types.ClosedPnLRecord{
		pnlRecord(dayMinus2.Add(2*time.Hour), -300),
		pnlRecord(dayMinus1.Add(3*time.Hour), -600),
		pnlRecord(dayMinus1.Add(5*time.Hour), -400),
	}

	points := BackfillAccount(records, 5181, now)
	require.Len(t, points, 3)

	assert.Equal(t, dayMinus2.Truncate(24*time.Hour), points[0].Timestamp)
	assert.InDelta(t, 6481, points[0].Equity, 0.001)

	assert.Equal(t, dayMinus1.Truncate(24*time.Hour), points[1].Timestamp)
	assert.InDelta(t, 6181, points[1].Equity, 0.001)

	assert.Equal(t, now, points[2].Timestamp)
	assert.InDelta(t, 5181, points[2].Equity, 0.001)
}

func TestBackfillAccountFinalPointIsLiveEquity(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	records := []types.ClosedPnLRecord{
		pnlRecord(now.Add(-72*time.Hour), 250.5),
		pnlRecord(now.Add(-48*time.Hour), -120.25),
		pnlRecord(now.Add(-24*time.Hour), 33.75),
	}

	points := BackfillAccount(records, 9876.54, now)
	require.NotEmpty(t, points)

	last := points[len(points)-1]
	assert.Equal(t, now, last.Timestamp)
	assert.Equal(t, 9876.54, last.Equity)

	// Chronological order throughout
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Timestamp.Before(points[i].Timestamp))
	}
}

func TestBackfillAccountNoRecords(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	assert.Nil(t, BackfillAccount(nil, 5000, now))
	assert.Nil(t, BackfillAccount([]types.ClosedPnLRecord{}, 5000, now))
}

func TestBackfillAccountSkipsToday(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	records := []types.ClosedPnLRecord{
		// Already reflected in live equity, must not generate a point
		pnlRecord(now.Add(-time.Hour), 500),
		pnlRecord(now.Add(-24*time.Hour), -100),
	}

	points := BackfillAccount(records, 2000, now)
	require.Len(t, points, 2)

	assert.InDelta(t, 2100, points[0].Equity, 0.001)
	assert.InDelta(t, 2000, points[1].Equity, 0.001)
}

func TestBackfillAccountGroupsByUTCDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	day := now.Add(-24 * time.Hour).Truncate(24 * time.Hour)

	// Several records on the same UTC day collapse into one point
	records := []types.ClosedPnLRecord{
		pnlRecord(day.Add(1*time.Hour), 10),
		pnlRecord(day.Add(12*time.Hour), 20),
		pnlRecord(day.Add(23*time.Hour), 30),
	}

	points := BackfillAccount(records, 1060, now)
	require.Len(t, points, 2)
	assert.Equal(t, day, points[0].Timestamp)
	assert.InDelta(t, 1000, points[0].Equity, 0.001)
}

func TestMergeSeriesStepFunction(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t2.Add(24 * time.Hour)

	series := map[string][]Point{
		"acct-a": {
			{Timestamp: t1, Equity: 100},
			{Timestamp: t3, Equity: 150},
		},
		"acct-b": {
			{Timestamp: t2, Equity: 50},
			{Timestamp: t3, Equity: 60},
		},
	}

	merged := MergeSeries(series)
	require.Len(t, merged, 3)

	// acct-b is absent before its first point
	assert.Equal(t, t1, merged[0].Timestamp)
	assert.InDelta(t, 100, merged[0].TotalEquity, 0.001)
	assert.NotContains(t, merged[0].Accounts, "acct-b")

	// acct-a contributes its last-known value at t2
	assert.Equal(t, t2, merged[1].Timestamp)
	assert.InDelta(t, 150, merged[1].TotalEquity, 0.001)
	assert.InDelta(t, 100, merged[1].Accounts["acct-a"], 0.001)
	assert.InDelta(t, 50, merged[1].Accounts["acct-b"], 0.001)

	assert.Equal(t, t3, merged[2].Timestamp)
	assert.InDelta(t, 210, merged[2].TotalEquity, 0.001)
}

func TestMergeSeriesEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, MergeSeries(nil))
	assert.Empty(t, MergeSeries(map[string][]Point{"acct-a": nil}))
}

func TestMergeSeriesSingleAccount(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	series := map[string][]Point{
		"acct-a": {{Timestamp: t1, Equity: 42}},
	}

	merged := MergeSeries(series)
	require.Len(t, merged, 1)
	assert.InDelta(t, 42, merged[0].TotalEquity, 0.001)
	assert.InDelta(t, 42, merged[0].Accounts["acct-a"], 0.001)
}
