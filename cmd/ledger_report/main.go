// Command ledger_report prints realized performance per instrument from the
// position archive, followed by the ledger net notional.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"tripwireBot/internal/adapters/logger"
	"tripwireBot/internal/adapters/sqlite"
	"tripwireBot/internal/analytics"
	"tripwireBot/internal/domain"
)

func main() {
	_ = godotenv.Load()
	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/tripwire.db"
	}

	dbPath := flag.String("db", defaultDB, "path to the SQLite archive")
	symbol := flag.String("symbol", "", "limit the report to one instrument")
	showTrades := flag.Bool("trades", false, "list every closed position")
	limit := flag.Int("limit", 0, "maximum number of closed positions to read (0 = all)")
	flag.Parse()

	appLogger := logger.New(logger.LevelWarn, os.Stderr, true)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening archive %s: %v", *dbPath, err)
	}
	defer repo.Close()

	if err := report(context.Background(), os.Stdout, repo, *symbol, *limit, *showTrades); err != nil {
		log.Fatalf("Error building report: %v", err)
	}
}

type archive interface {
	FindClosed(ctx context.Context, symbol string, limit int) ([]*domain.Position, error)
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	NetNotional(ctx context.Context) (float64, error)
}

func report(ctx context.Context, out io.Writer, repo archive, symbol string, limit int, showTrades bool) error {
	closed, err := repo.FindClosed(ctx, symbol, limit)
	if err != nil {
		return fmt.Errorf("reading closed positions: %w", err)
	}
	open, err := repo.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("reading open positions: %w", err)
	}
	net, err := repo.NetNotional(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	perSymbol := analytics.BySymbol(closed)
	symbols := make([]string, 0, len(perSymbol))
	for s := range perSymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Instrument\tTrades\tWinRate\tAvgWin\tAvgLoss\tPNL\tMaxDD\tTP\tSL\tTRAIL\tAborted\t")
	for _, s := range symbols {
		writeRow(w, s, perSymbol[s])
	}
	if len(symbols) > 1 {
		writeRow(w, "ALL", analytics.AnalyzePerformance(closed))
	}
	w.Flush()

	if showTrades {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Position\tEntry\tExit\tQty\tReason\tPNL\tClosed")
		for _, p := range closed {
			fmt.Fprintf(tw, "%s\t%.6g\t%.6g\t%g\t%s\t%.4f\t%s\n",
				p.Key(), p.EntryPrice, p.ExitPrice, p.Quantity, p.State, p.PNL, p.ExitTime.UTC().Format(time.RFC3339))
		}
		tw.Flush()
	}

	fmt.Fprintf(out, "\nOpen positions: %d\n", len(open))
	fmt.Fprintf(out, "Ledger net notional (SELL - BUY - HEDGE): %.4f\n", net)
	return nil
}

func writeRow(w io.Writer, label string, m *analytics.PerformanceMetrics) {
	fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t%d\t%d\t%d\t\n",
		label, m.TotalTrades, m.WinRate*100, m.AverageWin, m.AverageLoss, m.TotalProfit, m.MaxDrawdown,
		m.ExitReasons[domain.ExitTakeProfit], m.ExitReasons[domain.ExitStopLoss], m.ExitReasons[domain.ExitTrailingStop],
		m.Aborted)
}
