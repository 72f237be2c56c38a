package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/folio-api/internal/accounts"
	"github.com/ksred/folio-api/internal/batch"
	"github.com/ksred/folio-api/internal/cache"
	"github.com/ksred/folio-api/internal/database"
	"github.com/ksred/folio-api/internal/equity"
	"github.com/ksred/folio-api/internal/exchange"
	"github.com/ksred/folio-api/internal/history"
	"github.com/ksred/folio-api/internal/progress"
	"github.com/ksred/folio-api/internal/reconcile"
	"github.com/ksred/folio-api/internal/types"
)

const (
	historyDays   = 30
	minDayRecords = 2
	maxDayRecords = 8
)

var symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the portfolio simulation end to end: it seeds a mock exchange
// with a month of history for three accounts, runs a batch historical fetch
// (one account deliberately failing auth), refreshes the merged portfolio
// view and synthesizes the combined equity series.
func main() {
	ctx := context.Background()

	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Wire the engine against the mock exchange only
	mock := exchange.NewMockExchange()
	mock.MinLatency = 5
	mock.MaxLatency = 25

	registry := exchange.NewRegistry()
	registry.Register("mock", mock)

	cacheStore := cache.NewStore(db)
	reporter := progress.NewReporter()

	historyService := history.NewService(cacheStore, reporter, registry)
	historyService.SetLookback(historyDays * 24 * time.Hour)

	accountsService := accounts.NewService(db, cacheStore, equity.NewDatabase(db), historyService)
	equityService := equity.NewService(db, accountsService, historyService, registry)
	reconciler := reconcile.NewReconciler(cacheStore, registry, historyService)
	orchestrator := batch.NewOrchestrator(historyService, accountsService, reporter)

	// Register accounts and seed each one's remote-side history
	names := []string{"main", "scalping", "swing"}
	accountIDs := make([]string, 0, len(names))
	for _, name := range names {
		account := &types.Account{
			Name:         name,
			ExchangeKind: "mock",
			IsTestnet:    true,
		}
		if err := accountsService.CreateAccount(ctx, account); err != nil {
			log.Fatal().Err(err).Str("name", name).Msg("Failed to create account")
		}
		mock.Seed(account.AccountID, generateDataset(account.AccountID))
		accountIDs = append(accountIDs, account.AccountID)

		log.Info().
			Str("account_id", account.AccountID).
			Str("name", name).
			Msg("Account registered and seeded")
	}

	// The swing account fails auth to show one failure never halts the batch
	mock.FailAuth(accountIDs[2])

	// Log progress as pages arrive
	unsubscribe := historyService.OnProgress(func(event types.FetchProgressEvent) {
		log.Info().
			Str("account_id", event.AccountID).
			Int("chunk", event.ChunkIndex).
			Int("total_chunks", event.TotalChunks).
			Int("records", event.RecordsRetrieved).
			Msg("Fetch progress")
	})
	defer unsubscribe()

	start := time.Now()
	log.Info().Int("accounts", len(accountIDs)).Msg("Starting batch historical fetch")

	if err := orchestrator.Run(ctx, accountIDs); err != nil {
		log.Fatal().Err(err).Msg("Failed to start batch fetch")
	}

	status := orchestrator.Status()
	for _, s := range status.Accounts {
		log.Info().
			Str("account_id", s.AccountID).
			Str("name", s.Name).
			Str("status", s.Status).
			Float64("progress", s.Progress).
			Int("total_records", s.TotalRecords).
			Str("message", s.Message).
			Msg("Batch account result")
	}

	// Merged portfolio view: live snapshot plus cached history where complete
	allAccounts, err := accountsService.ListAccounts(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}
	views := reconciler.Refresh(ctx, allAccounts)
	for _, view := range views {
		log.Info().
			Str("account_id", view.Account.AccountID).
			Str("name", view.Account.Name).
			Float64("equity", view.Live.Equity).
			Int("trades", len(view.Trades)).
			Int("closed_pnl", len(view.ClosedPnL)).
			Bool("history_complete", view.HistoryComplete).
			Msg("Merged account view")
	}

	// Reconstruct the combined equity series from realized P&L
	merged, err := equityService.BackfillEquityHistory(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to backfill equity history")
	}

	printSummary(status, views, merged, time.Since(start))
}

// generateDataset builds a month of pseudo-random trading history plus a
// plausible current balance for one account.
func generateDataset(accountID string) *exchange.MockDataset {
	dataset := &exchange.MockDataset{
		Equity:           5000 + rand.Float64()*10000,
		AvailableBalance: 1000 + rand.Float64()*4000,
	}

	now := time.Now()
	for day := historyDays; day >= 1; day-- {
		dayStart := now.AddDate(0, 0, -day)
		records := minDayRecords + rand.Intn(maxDayRecords-minDayRecords+1)

		for i := 0; i < records; i++ {
			execTime := dayStart.Add(time.Duration(rand.Intn(86400)) * time.Second)
			symbol := symbols[rand.Intn(len(symbols))]
			side := "BUY"
			if rand.Intn(2) == 0 {
				side = "SELL"
			}
			qty := float64(rand.Intn(100)+1) / 10
			price := 100 + rand.Float64()*60000

			dataset.Trades = append(dataset.Trades, types.TradeRecord{
				AccountID: accountID,
				OrderID:   fmt.Sprintf("ord-%s-%d-%d", accountID[:8], day, i),
				ExecID:    fmt.Sprintf("exec-%s-%d-%d", accountID[:8], day, i),
				Symbol:    symbol,
				Side:      side,
				Qty:       qty,
				Price:     price,
				Fee:       qty * price * 0.00055,
				ExecTime:  execTime,
			})

			// Roughly every other execution closes a position lot
			if i%2 == 0 {
				pnl := (rand.Float64() - 0.45) * 200
				dataset.ClosedPnL = append(dataset.ClosedPnL, types.ClosedPnLRecord{
					AccountID:     accountID,
					OrderID:       fmt.Sprintf("ord-%s-%d-%d", accountID[:8], day, i),
					Symbol:        symbol,
					Side:          side,
					Qty:           qty,
					ClosedPnl:     pnl,
					AvgEntryPrice: price,
					AvgExitPrice:  price + pnl/qty,
					Leverage:      float64(rand.Intn(10) + 1),
					CreatedTime:   execTime,
					UpdatedTime:   execTime,
				})
			}
		}
	}

	// One deposit at the start and an occasional withdrawal
	dataset.Deposits = append(dataset.Deposits, types.TransferRecord{
		AccountID:  accountID,
		TransferID: fmt.Sprintf("dep-%s", accountID[:8]),
		Asset:      "USDT",
		Amount:     5000,
		Direction:  "DEPOSIT",
		Time:       now.AddDate(0, 0, -historyDays),
	})
	if rand.Intn(2) == 0 {
		dataset.Withdrawals = append(dataset.Withdrawals, types.TransferRecord{
			AccountID:  accountID,
			TransferID: fmt.Sprintf("wd-%s", accountID[:8]),
			Asset:      "USDT",
			Amount:     500,
			Direction:  "WITHDRAWAL",
			Time:       now.AddDate(0, 0, -historyDays/2),
		})
	}

	dataset.Positions = []types.Position{
		{
			Symbol:        symbols[rand.Intn(len(symbols))],
			Side:          "Buy",
			Size:          float64(rand.Intn(50)+1) / 10,
			EntryPrice:    40000 + rand.Float64()*5000,
			MarkPrice:     40000 + rand.Float64()*5000,
			UnrealisedPnl: (rand.Float64() - 0.5) * 300,
			Leverage:      5,
		},
	}

	return dataset
}

// printSummary outputs the end-of-run statistics
func printSummary(status types.BatchStatusResponse, views []types.MergedAccountView, merged []types.EquitySnapshot, duration time.Duration) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PORTFOLIO SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	complete, failed := 0, 0
	totalRecords := 0
	for _, s := range status.Accounts {
		switch s.Status {
		case types.FetchStatusComplete:
			complete++
		case types.FetchStatusError:
			failed++
		}
		totalRecords += s.TotalRecords
	}

	var totalEquity float64
	for _, view := range views {
		totalEquity += view.Live.Equity
	}

	fmt.Printf(`
Batch Fetch
-----------
Accounts:        %d
Complete:        %d
Failed:          %d
Records Fetched: %d
Duration:        %v

Portfolio
---------
Merged Views:    %d
Total Equity:    $%.2f
Equity Points:   %d
`, len(status.Accounts), complete, failed, totalRecords, duration.Round(time.Millisecond),
		len(views), totalEquity, len(merged))

	if len(merged) > 0 {
		first := merged[0]
		last := merged[len(merged)-1]
		fmt.Printf(`
Equity Series
-------------
From:            %s ($%.2f)
To:              %s ($%.2f)
Change:          $%.2f
`, first.Timestamp.Format("2006-01-02"), first.TotalEquity,
			last.Timestamp.Format("2006-01-02"), last.TotalEquity,
			last.TotalEquity-first.TotalEquity)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("accounts", len(status.Accounts)).
		Int("complete", complete).
		Int("failed", failed).
		Float64("total_equity", totalEquity).
		Dur("duration", duration).
		Msg("Simulation completed")
}
