package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"drought-tracker/internal/config"
	"drought-tracker/internal/dataset"
	"drought-tracker/internal/services"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

func main() {
	// Parse command-line flags
	historicalPath := flag.String("historical", "", "Path to the historical anomaly CSV (defaults to the configured file)")
	forecastPath := flag.String("forecast", "", "Path to the forecast CSV (defaults to the configured file)")
	threshold := flag.Float64("threshold", services.DefaultDeficitThreshold, "Deficit threshold in cm")
	topN := flag.Int("top", services.DefaultTopRisks, "Number of countries in the risk table")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *historicalPath == "" {
		*historicalPath = cfg.Data.HistoricalPath()
	}
	if *forecastPath == "" {
		*forecastPath = cfg.Data.ForecastPath()
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("drought-report", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[REPORT_START] Generating drought report", logging.Fields{
		"historical": *historicalPath,
		"forecast":   *forecastPath,
		"threshold":  *threshold,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("drought_report")

	// Load datasets
	loader := dataset.NewLoader(dataset.NewCache(metricsCollector), logger, metricsCollector)

	hist, err := loader.LoadHistorical(ctx, *historicalPath)
	if err != nil {
		logger.Fatal(ctx, "[REPORT_ERROR] Failed to load historical dataset", logging.Fields{
			"path": *historicalPath,
		}, err)
	}

	summaries := services.NewSummaryService(logger, metricsCollector)

	// Overview
	overview := summaries.ComputeOverview(ctx, hist, *threshold)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("DROUGHT RISK REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Latest Month:       %s\n", overview.LatestDate.Format("2006-01"))
	fmt.Printf("Tracked Countries:  %d\n", overview.TrackedCountries)
	if overview.GlobalAvgTWS != nil {
		fmt.Printf("Global Avg TWS:     %.2f cm\n", *overview.GlobalAvgTWS)
	}
	fmt.Printf("Countries < %.1f cm: %d\n", *threshold, overview.DeficitCount)
	if overview.WorstHitTWS != nil {
		fmt.Printf("Worst Hit:          %s (%.2f cm)\n", overview.WorstHitCountry, *overview.WorstHitTWS)
	}

	// Risk table
	snapshot := summaries.LatestSnapshot(hist)
	rows := summaries.TopRisks(snapshot, *topN)

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("TOP %d AT-RISK COUNTRIES\n", len(rows))
	fmt.Println(strings.Repeat("-", 80))
	for _, row := range rows {
		fmt.Printf("%3d. %-40s %8.2f cm  %s\n", row.Rank, row.Country, row.TWSMeanCm, row.AqueductLabel)
	}

	// Data health
	health := summaries.DataHealth(hist)

	fmt.Println(strings.Repeat("-", 80))
	fmt.Println("DATA HEALTH")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Rows:               %d\n", health.Rows)
	fmt.Printf("Duplicate Rows:     %d\n", health.DuplicateRows)
	fmt.Printf("Duplicate Keys:     %d\n", health.DuplicateKeys)
	for _, column := range health.Columns {
		if n := health.NullCounts[column]; n > 0 {
			fmt.Printf("Nulls in %-18s %d\n", column+":", n)
		}
	}

	// Forecast coverage, optional
	fc, err := loader.LoadForecast(ctx, *forecastPath)
	if err != nil {
		fmt.Println(strings.Repeat("-", 80))
		fmt.Println("Forecast dataset unavailable, skipping forecast summary")
		fmt.Println(strings.Repeat("=", 80))
		return
	}

	forecasts := services.NewForecastService(logger, metricsCollector)
	fc = forecasts.Reconcile(ctx, hist, fc)

	fmt.Println(strings.Repeat("-", 80))
	fmt.Println("FORECAST COVERAGE")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Forecast Rows:      %d\n", len(fc.Records))
	fmt.Printf("Horizon:            %s to %s\n", fc.MinDate.Format("2006-01"), fc.MaxDate.Format("2006-01"))
	fmt.Println(strings.Repeat("=", 80))
}
