package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kenyonj/auto-investor/app"
	"github.com/kenyonj/auto-investor/config"
)

func main() {
	execute := flag.Bool("execute", false, "submit real orders (default is dry run)")
	schedule := flag.Bool("schedule", false, "run continuously on the configured interval")
	dashboard := flag.Bool("dashboard", false, "serve the dashboard without scheduling")
	reset := flag.Bool("reset", false, "delete the local database and start fresh")
	flag.Parse()

	cfg := config.LoadFromEnv()

	if *reset {
		resetDatabase(cfg)
		if !*schedule && !*dashboard {
			return
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Printf("auto-investor — mode: %s\n", cfg.Trading.Mode)
	fmt.Printf("Watchlist: %s\n", strings.Join(cfg.Watchlist, ", "))
	if len(cfg.CryptoWatchlist) > 0 {
		fmt.Printf("Crypto: %s\n", strings.Join(cfg.CryptoWatchlist, ", "))
	}

	dryRun := !*execute
	if dryRun {
		fmt.Println("⚠️ Running in DRY RUN mode (pass --execute to submit orders)")
	}

	application := app.New(cfg, app.Options{
		DryRun:    dryRun,
		Schedule:  *schedule,
		Dashboard: *dashboard,
	})
	if err := application.Setup(); err != nil {
		log.Fatal(err)
	}

	if *schedule || *dashboard {
		if err := application.Start(); err != nil {
			log.Fatal(err)
		}
		return
	}

	// One-shot: a single cycle per active lane, then exit.
	ctx := context.Background()
	if len(cfg.Watchlist) > 0 {
		if _, err := application.Engine().RunCycle(ctx, app.LaneEquity); err != nil {
			log.Printf("❌ Equity cycle error: %v", err)
		}
	}
	if len(cfg.CryptoWatchlist) > 0 {
		if _, err := application.Engine().RunCycle(ctx, app.LaneCrypto); err != nil {
			log.Printf("❌ Crypto cycle error: %v", err)
		}
	}
}

// resetDatabase removes the sqlite file. Postgres deployments reset
// out-of-band.
func resetDatabase(cfg *config.Config) {
	if cfg.Database.Driver != "sqlite" {
		fmt.Println("⚠️ --reset only applies to the sqlite driver")
		return
	}
	if _, err := os.Stat(cfg.Database.Path); err != nil {
		fmt.Println("No database to reset")
		return
	}
	if err := os.Remove(cfg.Database.Path); err != nil {
		log.Fatalf("❌ Failed to delete %s: %v", cfg.Database.Path, err)
	}
	fmt.Printf("✅ Deleted %s — starting fresh\n", cfg.Database.Path)
}
