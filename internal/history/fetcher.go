package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/types"
)

// fetchState makes the chunk loop an explicit state machine so cancellation
// and resumption are first-class states rather than control-flow artifacts.
type fetchState int

const (
	stateIdle fetchState = iota
	stateFetchingChunk
	stateMerging
	stateComplete
	statePartial
	stateFailed
)

func (s fetchState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetchingChunk:
		return "fetching_chunk"
	case stateMerging:
		return "merging"
	case stateComplete:
		return "complete"
	case statePartial:
		return "partial"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Fetcher drives one account's historical fetch: chunk by chunk in
// chronological order, page by page within each chunk, publishing a progress
// event after every page. A nil reporter disables progress publishing.
type Fetcher struct {
	client   exchange.HistoryClient
	reporter *progress.Reporter
}

// NewFetcher creates a fetcher over the given exchange client.
func NewFetcher(client exchange.HistoryClient, reporter *progress.Reporter) *Fetcher {
	return &Fetcher{client: client, reporter: reporter}
}

type fetchRun struct {
	logger zerolog.Logger
	state  fetchState
}

func (r *fetchRun) transition(next fetchState) {
	r.logger.Debug().
		Str("from", r.state.String()).
		Str("to", next.String()).
		Msg("fetch state transition")
	r.state = next
}

// FetchRange fetches [start, end) for the account, extending base when a
// prior cache exists. On success the returned cache has IsComplete == true.
// On an unrecoverable error (or cancellation) the partial accumulation is
// returned alongside the error with IsComplete == false — callers must
// persist it so a later run can resume from DataRange.Latest. The cache only
// ever contains records from fully completed chunks, keeping
// DataRange.Latest a contiguous, gap-free prefix of history.
func (f *Fetcher) FetchRange(ctx context.Context, account *types.Account, start, end time.Time, base *types.HistoricalCache) (*types.HistoricalCache, error) {
	run := &fetchRun{
		logger: log.With().
			Str("component", "fetcher").
			Str("account_id", account.AccountID).
			Logger(),
		state: stateIdle,
	}

	chunks, err := ChunkRange(start, end, f.client.MaxQuerySpan())
	if err != nil {
		run.transition(stateFailed)
		return nil, err
	}

	run.logger.Info().
		Int("total_chunks", len(chunks)).
		Time("range_start", start).
		Time("range_end", end).
		Bool("resuming", base != nil).
		Msg("starting historical fetch")

	acc := newAccumulator(account.AccountID, base, start)
	records := acc.count()

	for i, chunk := range chunks {
		run.transition(stateFetchingChunk)

		// Pages buffer per chunk and commit only when the chunk completes,
		// so an interrupted cache holds exactly the chunks that finished.
		buffer := &chunkBuffer{}
		for _, kind := range exchange.AllRecordKinds {
			cursor := ""
			for {
				page, err := f.client.FetchPage(ctx, account, kind, chunk.Start, chunk.End, cursor)
				if err != nil {
					run.transition(statePartial)
					run.logger.Warn().
						Err(err).
						Int("chunk_index", i+1).
						Int("total_chunks", len(chunks)).
						Str("record_kind", string(kind)).
						Msg("fetch interrupted, returning partial accumulation")
					return acc.finalize(false), err
				}

				buffer.add(page)
				records += page.Count()
				f.publish(types.FetchProgressEvent{
					AccountID:        account.AccountID,
					ChunkIndex:       i + 1,
					TotalChunks:      len(chunks),
					RecordsRetrieved: records,
					RangeStart:       chunk.Start,
					RangeEnd:         chunk.End,
				})

				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}
		}

		acc.commit(buffer, chunk.End)
	}

	run.transition(stateMerging)
	result := acc.finalize(true)
	run.transition(stateComplete)

	run.logger.Info().
		Int("records", records).
		Int("trades", len(result.Trades)).
		Int("closed_pnl", len(result.ClosedPnL)).
		Msg("historical fetch complete")
	return result, nil
}

func (f *Fetcher) publish(event types.FetchProgressEvent) {
	if f.reporter != nil {
		f.reporter.Publish(event)
	}
}

// chunkBuffer accumulates one chunk's pages before they are committed.
type chunkBuffer struct {
	trades      []types.TradeRecord
	closedPnL   []types.ClosedPnLRecord
	deposits    []types.TransferRecord
	withdrawals []types.TransferRecord
}

func (b *chunkBuffer) add(page *exchange.Page) {
	b.trades = append(b.trades, page.Trades...)
	b.closedPnL = append(b.closedPnL, page.ClosedPnL...)
	for _, t := range page.Transfers {
		if t.Direction == "WITHDRAWAL" {
			b.withdrawals = append(b.withdrawals, t)
		} else {
			b.deposits = append(b.deposits, t)
		}
	}
}

// accumulator builds the HistoricalCache payload across chunks.
type accumulator struct {
	cache *types.HistoricalCache
}

func newAccumulator(accountID string, base *types.HistoricalCache, start time.Time) *accumulator {
	cached := &types.HistoricalCache{
		AccountID: accountID,
		DataRange: types.DataRange{Earliest: start, Latest: start},
	}
	if base != nil {
		cached.Trades = append(cached.Trades, base.Trades...)
		cached.ClosedPnL = append(cached.ClosedPnL, base.ClosedPnL...)
		cached.Deposits = append(cached.Deposits, base.Deposits...)
		cached.Withdrawals = append(cached.Withdrawals, base.Withdrawals...)
		cached.DataRange.Earliest = base.DataRange.Earliest
		cached.DataRange.Latest = base.DataRange.Latest
	}
	return &accumulator{cache: cached}
}

func (a *accumulator) count() int {
	return len(a.cache.Trades) + len(a.cache.ClosedPnL) +
		len(a.cache.Deposits) + len(a.cache.Withdrawals)
}

func (a *accumulator) commit(buffer *chunkBuffer, chunkEnd time.Time) {
	a.cache.Trades = append(a.cache.Trades, buffer.trades...)
	a.cache.ClosedPnL = append(a.cache.ClosedPnL, buffer.closedPnL...)
	a.cache.Deposits = append(a.cache.Deposits, buffer.deposits...)
	a.cache.Withdrawals = append(a.cache.Withdrawals, buffer.withdrawals...)
	a.cache.DataRange.Latest = chunkEnd
}

func (a *accumulator) finalize(complete bool) *types.HistoricalCache {
	a.cache.IsComplete = complete
	a.cache.LastUpdated = time.Now()
	a.cache.Metrics = computeMetrics(a.cache)
	return a.cache
}

// computeMetrics derives the summary statistics stored with the cache.
func computeMetrics(cached *types.HistoricalCache) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{TotalTrades: len(cached.Trades)}

	wins := 0
	for _, pnl := range cached.ClosedPnL {
		metrics.TotalClosedPnl += pnl.ClosedPnl
		if pnl.ClosedPnl > 0 {
			wins++
		}
	}
	if len(cached.ClosedPnL) > 0 {
		metrics.WinRate = float64(wins) / float64(len(cached.ClosedPnL)) * 100
	}
	for _, trade := range cached.Trades {
		metrics.TotalFees += trade.Fee
	}
	return metrics
}
