package repository

import (
	"context"
	"fmt"
	"time"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/database"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// DatasetRepository provides data access for the Postgres dataset source
type DatasetRepository interface {
	LoadHistorical(ctx context.Context) (*models.HistoricalTable, error)
	LoadForecast(ctx context.Context) (*models.ForecastTable, error)
	HealthCheck(ctx context.Context) error
}

// datasetRepository implements DatasetRepository
type datasetRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) DatasetRepository {
	return &datasetRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// LoadHistorical reads the full historical anomaly table, ordered the way
// the CSV source delivers it: by country, then date.
func (r *datasetRepository) LoadHistorical(ctx context.Context) (*models.HistoricalTable, error) {
	timer := time.Now()

	query := `
		SELECT country, iso_a3, date, tws_mean_cm, aqueduct_label, aqueduct_wb_region
		FROM historical_records
		ORDER BY country, date
	`

	var records []models.HistoricalRecord
	if err := r.db.SelectContext(ctx, "load_historical", &records, query); err != nil {
		r.metrics.RecordLoadError("db_select")
		return nil, fmt.Errorf("failed to load historical records: %w", err)
	}

	table := assembleHistorical(records)

	r.metrics.RecordLoad("historical", "postgres", len(records))
	r.metrics.DatasetLoadDuration.WithLabelValues("historical").Observe(time.Since(timer).Seconds())

	r.logger.Info(ctx, "[REPO_LOAD_HISTORICAL] Historical table loaded", logging.Fields{
		"rows":      len(records),
		"countries": table.CountryCount(),
	})

	return table, nil
}

// LoadForecast reads the full forecast table ordered by country and date.
func (r *datasetRepository) LoadForecast(ctx context.Context) (*models.ForecastTable, error) {
	timer := time.Now()

	query := `
		SELECT country, country_name, forecast_date, predicted_tws
		FROM forecast_records
		ORDER BY country, forecast_date
	`

	var records []models.ForecastRecord
	if err := r.db.SelectContext(ctx, "load_forecast", &records, query); err != nil {
		r.metrics.RecordLoadError("db_select")
		return nil, fmt.Errorf("failed to load forecast records: %w", err)
	}

	table := assembleForecast(records)

	r.metrics.RecordLoad("forecast", "postgres", len(records))
	r.metrics.DatasetLoadDuration.WithLabelValues("forecast").Observe(time.Since(timer).Seconds())

	r.logger.Info(ctx, "[REPO_LOAD_FORECAST] Forecast table loaded", logging.Fields{
		"rows":             len(records),
		"has_country_name": table.HasCountryName,
	})

	return table, nil
}

// HealthCheck verifies database connectivity
func (r *datasetRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// assembleHistorical derives the table metadata the services depend on:
// date bounds, column presence flags and duplicate counts.
func assembleHistorical(records []models.HistoricalRecord) *models.HistoricalTable {
	table := &models.HistoricalTable{Records: records}

	type key struct {
		country string
		date    time.Time
	}
	keys := make(map[key]int, len(records))
	rows := make(map[models.HistoricalRecord]int, len(records))

	for i := range records {
		rec := records[i]

		if table.MinDate.IsZero() || rec.Date.Before(table.MinDate) {
			table.MinDate = rec.Date
		}
		if rec.Date.After(table.MaxDate) {
			table.MaxDate = rec.Date
		}
		if rec.AqueductLabel != "" {
			table.HasLabel = true
		}
		if rec.AqueductRegion != "" {
			table.HasRegion = true
		}

		k := key{country: rec.Country, date: rec.Date}
		if keys[k]++; keys[k] > 1 {
			table.DuplicateKeys++
		}
		if rows[rec]++; rows[rec] > 1 {
			table.DuplicateRows++
		}
	}

	return table
}

func assembleForecast(records []models.ForecastRecord) *models.ForecastTable {
	table := &models.ForecastTable{Records: records}

	for i := range records {
		rec := records[i]
		if table.MinDate.IsZero() || rec.ForecastDate.Before(table.MinDate) {
			table.MinDate = rec.ForecastDate
		}
		if rec.ForecastDate.After(table.MaxDate) {
			table.MaxDate = rec.ForecastDate
		}
		if rec.CountryName != "" {
			table.HasCountryName = true
		}
	}

	return table
}
