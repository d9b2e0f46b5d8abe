// Command doaseval evaluates scan containers.
//
// Usage:
//
//	doaseval -config doas.yaml [flags] scan.pak ...
//
// Examples:
//
//	doaseval -config doas.yaml scan_0001.pak
//	doaseval -config doas.yaml -window BrO -workers 4 -db results.db *.pak
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/scan"
	"github.com/cwbudde/algo-doas/doas/store"
	"github.com/cwbudde/algo-doas/internal/config"
)

func main() {
	cfgPath := flag.String("config", "doas.yaml", "YAML configuration file")
	windowName := flag.String("window", "", "fit window to evaluate (default: first configured)")
	dbPath := flag.String("db", "", "SQLite database to store results in")
	workers := flag.Int("workers", 0, "concurrent scans (default: from config, then one per CPU)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doaseval -config doas.yaml [flags] scan.pak ...\n\n")
		fmt.Fprintf(os.Stderr, "Evaluates scan containers with a DOAS fit window.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, *cfgPath, *windowName, *dbPath, *workers, flag.Args()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfgPath, windowName, dbPath string, workers int, paths []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	w, err := cfg.Window(windowName)
	if err != nil {
		return err
	}
	settings, err := cfg.ScanSettings()
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = cfg.Workers
	}

	stats := &scan.Statistics{}
	ev := scan.New(settings,
		scan.WithLogger(logger),
		scan.WithStatistics(stats),
		scan.WithFitOptions(cfg.FitOptions()...),
	)
	readerOpts := append(cfg.ReaderOptions(), pak.WithLogger(logger))
	batch := &scan.Batch{Evaluator: ev, Window: w, Workers: workers, ReaderOptions: readerOpts}

	items, runErr := batch.Run(ctx, paths)

	var db *store.Store
	if dbPath != "" {
		if db, err = store.Open(dbPath, store.WithMkdirAll()); err != nil {
			return err
		}
		defer db.Close()
	}

	data := [][]string{{"Scan", "Spectra", "Corrupted", "Most absorbing", w.References[0].Name, "Error", "Status"}}
	failed := 0
	for _, it := range items {
		name := filepath.Base(it.Path)
		if it.Err != nil {
			failed++
			data = append(data, []string{name, "", "", "", "", "", pterm.Red(it.Err.Error())})
			continue
		}
		res := it.Result
		row := []string{name, strconv.Itoa(res.Len()), strconv.Itoa(len(res.Corrupted)), "-", "", "", pterm.Green("ok")}
		if i := res.MostAbsorbingEntry; i >= 0 {
			row[3] = strconv.Itoa(res.MostAbsorbing)
			row[4] = fmt.Sprintf("%.3e", res.Column(i, 0))
			row[5] = fmt.Sprintf("%.1e", res.ColumnError(i, 0))
		}
		if db != nil {
			id, err := db.SaveScan(ctx, it.Path, res)
			if err != nil {
				return err
			}
			logger.Debug("stored scan", "file", it.Path, "id", id)
		}
		data = append(data, row)
	}

	pterm.DefaultSection.Printf("Window %s\n", w.Name)
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	c := stats.Snapshot()
	pterm.Info.Printf("%d scans, %d spectra evaluated, %d ignored, %d failed fits, %d corrupted, %s\n",
		c.Scans, c.Evaluated, c.Ignored, c.FailedFits, c.Corrupted, c.Elapsed.Round(time.Millisecond))
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		pterm.Warning.Printf("%d of %d scans failed\n", failed, len(items))
	} else {
		pterm.Success.Println("all scans evaluated")
	}
	return nil
}
