package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// Loader parses the historical and forecast CSV tables. Parsed results are
// memoized in the session cache keyed by source identity, so reloading an
// unchanged source skips the parse.
type Loader struct {
	cache   *Cache
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLoader creates a new table loader
func NewLoader(cache *Cache, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Loader {
	return &Loader{
		cache:   cache,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// LoadHistorical loads the historical table from a file path.
func (l *Loader) LoadHistorical(ctx context.Context, path string) (*models.HistoricalTable, error) {
	fingerprint, err := FileFingerprint(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.metrics.RecordLoadError("not_found")
			return nil, &LoadError{Source: path, NotFound: true, Err: err}
		}
		l.metrics.RecordLoadError("stat_error")
		return nil, &LoadError{Source: path, Err: err}
	}

	if cached, ok := l.cache.Get(path, fingerprint); ok {
		return cached.(*models.HistoricalTable), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		l.metrics.RecordLoadError("read_error")
		return nil, &LoadError{Source: path, Err: err}
	}

	table, err := l.parseHistorical(ctx, path, "file", data)
	if err != nil {
		return nil, err
	}

	l.cache.Put(path, fingerprint, table)
	return table, nil
}

// LoadHistoricalBytes loads the historical table from an in-memory upload.
// name identifies the upload slot for caching purposes.
func (l *Loader) LoadHistoricalBytes(ctx context.Context, name string, data []byte) (*models.HistoricalTable, error) {
	fingerprint := BytesFingerprint(data)
	if cached, ok := l.cache.Get(name, fingerprint); ok {
		return cached.(*models.HistoricalTable), nil
	}

	table, err := l.parseHistorical(ctx, name, "upload", data)
	if err != nil {
		return nil, err
	}

	l.cache.Put(name, fingerprint, table)
	return table, nil
}

// LoadForecast loads the forecast table from a file path.
func (l *Loader) LoadForecast(ctx context.Context, path string) (*models.ForecastTable, error) {
	fingerprint, err := FileFingerprint(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.metrics.RecordLoadError("not_found")
			return nil, &LoadError{Source: path, NotFound: true, Err: err}
		}
		l.metrics.RecordLoadError("stat_error")
		return nil, &LoadError{Source: path, Err: err}
	}

	if cached, ok := l.cache.Get(path, fingerprint); ok {
		return cached.(*models.ForecastTable), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		l.metrics.RecordLoadError("read_error")
		return nil, &LoadError{Source: path, Err: err}
	}

	table, err := l.parseForecast(ctx, path, "file", data)
	if err != nil {
		return nil, err
	}

	l.cache.Put(path, fingerprint, table)
	return table, nil
}

// LoadForecastBytes loads the forecast table from an in-memory upload.
func (l *Loader) LoadForecastBytes(ctx context.Context, name string, data []byte) (*models.ForecastTable, error) {
	fingerprint := BytesFingerprint(data)
	if cached, ok := l.cache.Get(name, fingerprint); ok {
		return cached.(*models.ForecastTable), nil
	}

	table, err := l.parseForecast(ctx, name, "upload", data)
	if err != nil {
		return nil, err
	}

	l.cache.Put(name, fingerprint, table)
	return table, nil
}

// parseHistorical parses delimited text into a HistoricalTable.
func (l *Loader) parseHistorical(ctx context.Context, source, sourceType string, data []byte) (*models.HistoricalTable, error) {
	timer := l.metrics.NewTimer(l.metrics.DatasetLoadDuration.WithLabelValues("historical"))
	defer timer.ObserveDuration()

	header, rows, err := readCSV(source, data)
	if err != nil {
		l.metrics.RecordLoadError("parse_error")
		return nil, err
	}

	required := []string{"country", "iso_a3", "date", "tws_mean_cm"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			l.metrics.RecordLoadError("missing_column")
			return nil, &LoadError{Source: source, Err: &models.MissingColumnError{Column: col}}
		}
	}

	_, hasLabel := header["aqueduct_label"]
	_, hasRegion := header["aqueduct_wb_region"]

	table := &models.HistoricalTable{
		Records:   make([]models.HistoricalRecord, 0, len(rows)),
		HasLabel:  hasLabel,
		HasRegion: hasRegion,
	}

	keySeen := make(map[string]struct{}, len(rows))
	rowSeen := make(map[string]struct{}, len(rows))

	for i, row := range rows {
		raw := models.RawHistoricalRow{
			Country:        cell(row, header, "country"),
			ISOA3:          cell(row, header, "iso_a3"),
			Date:           cell(row, header, "date"),
			TWSMeanCm:      cell(row, header, "tws_mean_cm"),
			AqueductLabel:  cell(row, header, "aqueduct_label"),
			AqueductRegion: cell(row, header, "aqueduct_wb_region"),
		}

		rec, err := raw.ToRecord()
		if err != nil {
			l.metrics.RecordLoadError("parse_error")
			return nil, &LoadError{Source: source, Err: fmt.Errorf("row %d: %w", i+2, err)}
		}

		// (country, date) should be unique per the data contract, but the
		// source does not enforce it. Count violations, keep the rows.
		key := rec.Country + "|" + rec.Date.Format("2006-01-02")
		if _, dup := keySeen[key]; dup {
			table.DuplicateKeys++
		}
		keySeen[key] = struct{}{}

		full := strings.Join(row, "\x1f")
		if _, dup := rowSeen[full]; dup {
			table.DuplicateRows++
		}
		rowSeen[full] = struct{}{}

		if table.MinDate.IsZero() || rec.Date.Before(table.MinDate) {
			table.MinDate = rec.Date
		}
		if rec.Date.After(table.MaxDate) {
			table.MaxDate = rec.Date
		}

		table.Records = append(table.Records, *rec)
	}

	table.ExtraNumeric, table.ExtraCategorical = extraColumns(header, rows)

	l.metrics.RecordLoad("historical", sourceType, len(table.Records))

	log := l.logger.WithFields(logging.Fields{
		"source":      source,
		"source_type": sourceType,
	})
	log.Info(ctx, "[LOAD_HISTORICAL] Historical table loaded", logging.Fields{
		"rows":           len(table.Records),
		"countries":      table.CountryCount(),
		"min_date":       formatDate(table.MinDate),
		"max_date":       formatDate(table.MaxDate),
		"duplicate_keys": table.DuplicateKeys,
		"duplicate_rows": table.DuplicateRows,
	})

	if table.DuplicateKeys > 0 {
		log.Warn(ctx, "[LOAD_DUPLICATES] Duplicate (country, date) pairs in historical table", logging.Fields{
			"duplicate_keys": table.DuplicateKeys,
		})
	}

	return table, nil
}

// parseForecast parses delimited text into a ForecastTable.
func (l *Loader) parseForecast(ctx context.Context, source, sourceType string, data []byte) (*models.ForecastTable, error) {
	timer := l.metrics.NewTimer(l.metrics.DatasetLoadDuration.WithLabelValues("forecast"))
	defer timer.ObserveDuration()

	header, rows, err := readCSV(source, data)
	if err != nil {
		l.metrics.RecordLoadError("parse_error")
		return nil, err
	}

	required := []string{"country", "forecast_date", "predicted_tws"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			l.metrics.RecordLoadError("missing_column")
			return nil, &LoadError{Source: source, Err: &models.MissingColumnError{Column: col}}
		}
	}

	_, hasCountryName := header["country_name"]

	table := &models.ForecastTable{
		Records:        make([]models.ForecastRecord, 0, len(rows)),
		HasCountryName: hasCountryName,
	}

	for i, row := range rows {
		raw := models.RawForecastRow{
			Country:      cell(row, header, "country"),
			CountryName:  cell(row, header, "country_name"),
			ForecastDate: cell(row, header, "forecast_date"),
			PredictedTWS: cell(row, header, "predicted_tws"),
		}

		rec, err := raw.ToRecord()
		if err != nil {
			l.metrics.RecordLoadError("parse_error")
			return nil, &LoadError{Source: source, Err: fmt.Errorf("row %d: %w", i+2, err)}
		}

		if table.MinDate.IsZero() || rec.ForecastDate.Before(table.MinDate) {
			table.MinDate = rec.ForecastDate
		}
		if rec.ForecastDate.After(table.MaxDate) {
			table.MaxDate = rec.ForecastDate
		}

		table.Records = append(table.Records, *rec)
	}

	l.metrics.RecordLoad("forecast", sourceType, len(table.Records))

	l.logger.WithFields(logging.Fields{
		"source":      source,
		"source_type": sourceType,
	}).Info(ctx, "[LOAD_FORECAST] Forecast table loaded", logging.Fields{
		"rows":             len(table.Records),
		"has_country_name": table.HasCountryName,
	})

	return table, nil
}

// readCSV parses delimited text and returns the lower-cased header index and
// the data rows. An empty source fails as unparseable, which keeps it
// distinct from the not-found case surfaced by LoadHistorical/LoadForecast.
func readCSV(source string, data []byte) (map[string]int, [][]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, &LoadError{Source: source, Err: fmt.Errorf("source is empty")}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	headerRow, err := reader.Read()
	if err != nil {
		return nil, nil, &LoadError{Source: source, Err: fmt.Errorf("failed to read header: %w", err)}
	}

	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &LoadError{Source: source, Err: fmt.Errorf("malformed row: %w", err)}
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

// historicalSchema lists the modeled historical columns; anything else in the
// header is carried as an extra column.
var historicalSchema = map[string]struct{}{
	"country": {}, "iso_a3": {}, "date": {}, "tws_mean_cm": {},
	"aqueduct_label": {}, "aqueduct_wb_region": {},
}

// extraColumns splits unmodeled source columns into numeric and categorical
// series. A column is numeric when every non-blank cell parses as a real
// number; blank cells become NaN, matching how the original treated missing
// numeric values.
func extraColumns(header map[string]int, rows [][]string) (map[string][]float64, map[string][]string) {
	var numeric map[string][]float64
	var categorical map[string][]string

	for name, idx := range header {
		if _, known := historicalSchema[name]; known {
			continue
		}

		values := make([]float64, len(rows))
		cells := make([]string, len(rows))
		isNumeric := true
		nonBlank := 0

		for i, row := range rows {
			c := ""
			if idx < len(row) {
				c = strings.TrimSpace(row[idx])
			}
			cells[i] = c

			if c == "" {
				values[i] = math.NaN()
				continue
			}
			nonBlank++
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				isNumeric = false
				continue
			}
			values[i] = v
		}

		if isNumeric && nonBlank > 0 {
			if numeric == nil {
				numeric = make(map[string][]float64)
			}
			numeric[name] = values
		} else {
			if categorical == nil {
				categorical = make(map[string][]string)
			}
			categorical[name] = cells
		}
	}

	return numeric, categorical
}

// cell returns the named column of a row, or "" when the column is absent.
func cell(row []string, header map[string]int, column string) string {
	idx, ok := header[column]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
