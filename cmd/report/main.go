package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"evm-swap-bot/internal/config"
	"evm-swap-bot/internal/database"
	"evm-swap-bot/internal/ledger"
	"go.uber.org/zap"
)

// report prints an offline summary of the trade ledger: our own trading
// stats, the most recent trades and the top whale wallets.
func main() {
	configPath := flag.String("config", "./configs", "directory containing config.yml")
	topWhales := flag.Int("top", 10, "number of whale wallets to show")
	recent := flag.Int("recent", 15, "number of recent own trades to show")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open database: %v\n", err)
		os.Exit(1)
	}

	l := ledger.New(db, zap.NewNop())

	stats, err := l.OwnStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not compute stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("== Trading summary ==")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total trades\t%d\n", stats.TotalTrades)
	fmt.Fprintf(w, "Successful trades\t%d\n", stats.SuccessfulTrades)
	fmt.Fprintf(w, "Closed trades\t%d\n", stats.ClosedTrades)
	fmt.Fprintf(w, "Winning trades\t%d\n", stats.WinningTrades)
	fmt.Fprintf(w, "Win rate\t%.1f%%\n", stats.WinRate*100)
	fmt.Fprintf(w, "Realized PnL (native)\t%s\n", stats.PnLNative)
	fmt.Fprintf(w, "Realized PnL (USD)\t%s\n", stats.PnLUSD)
	w.Flush()

	trades, err := l.RecentOwnTrades(*recent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not query trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n== Recent trades ==")
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSIDE\tPRICE\tNATIVE\tPNL (USD)\tREASON\tOK\tTX")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Side, t.Price, t.NativeAmount, t.RealizedPnLUSD, t.Reason, t.Success, t.TxHash)
	}
	w.Flush()

	wallets, err := l.WhaleSummary(*topWhales)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not query whale summary: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n== Top whale wallets ==")
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WALLET\tTRADES\tVOLUME (USD)\tBOUGHT\tSOLD\tNET\tLAST SEEN")
	for _, wa := range wallets {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			wa.Address, wa.TotalTrades, wa.TotalVolumeUSD, wa.TotalBought,
			wa.TotalSold, wa.NetPosition, wa.LastSeen.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
