package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"eodcollector/internal/config"
	"eodcollector/internal/store"
)

func main() {
	date := flag.String("date", "", "trade date YYYY-MM-DD (default: today)")
	flag.Parse()

	cfgPath := "config/collector.yaml"
	if p := os.Getenv("EODCOLLECTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	target := *date
	if target == "" {
		target = time.Now().Format("2006-01-02")
	}

	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	candidates, err := st.RepairCandidates(ctx, target)
	if err != nil {
		log.Fatalf("failed to load repair candidates: %v", err)
	}
	if len(candidates) == 0 {
		fmt.Printf("%s: nothing to repair\n", target)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSTATUS\tRETRIES\tLAST ERROR")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Symbol, c.Status, c.RetryCount, c.LastError)
	}
	w.Flush()
	fmt.Printf("%s: %d symbols to repair; rerun cn-daily -date %s\n", target, len(candidates), target)
}
