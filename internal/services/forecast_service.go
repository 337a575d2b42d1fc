package services

import (
	"context"
	"sort"
	"time"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// Series type tags for the combined historical+forecast series.
const (
	SeriesHistorical = "Historical"
	SeriesForecast   = "Forecast"
)

// historyLookbackMonths is how much trailing history the combined series
// carries for context ahead of the forecast horizon.
const historyLookbackMonths = 24

// SeriesPoint is one row of the combined historical+forecast series.
type SeriesPoint struct {
	Country   string    `json:"country"`
	Date      time.Time `json:"date"`
	TWSMeanCm float64   `json:"tws_mean_cm"`
	Type      string    `json:"type"`
}

// ForecastPivot is the forecast grid: one row per country, one column per
// forecast date. Cells are nil where a country has no prediction for a date.
type ForecastPivot struct {
	Dates []time.Time        `json:"dates"`
	Rows  []ForecastPivotRow `json:"rows"`
}

// ForecastPivotRow is one country's predictions across the pivot columns.
type ForecastPivotRow struct {
	Country string     `json:"country"`
	Values  []*float64 `json:"values"`
}

// ForecastService reconciles forecast country identifiers against the
// historical table and derives the forecast views.
type ForecastService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewForecastService creates a new forecast service
func NewForecastService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ForecastService {
	return &ForecastService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Reconcile resolves the forecast table's country identifiers into display
// names using the iso_a3 lookup built from the historical table. A table
// that already carries country names passes through untouched, so the
// operation is idempotent. The decision whether the country column holds
// ISO3 codes is made once from the first row: exactly three characters, all
// upper-case. A mixed-format file will mis-map some rows; that limitation is
// inherited from the data contract and deliberately not papered over.
func (s *ForecastService) Reconcile(ctx context.Context, hist *models.HistoricalTable, fc *models.ForecastTable) *models.ForecastTable {
	if fc == nil {
		return nil
	}
	if fc.HasCountryName || fc.Empty() {
		return fc
	}

	resolved := &models.ForecastTable{
		Records:        make([]models.ForecastRecord, len(fc.Records)),
		HasCountryName: true,
		MinDate:        fc.MinDate,
		MaxDate:        fc.MaxDate,
	}
	copy(resolved.Records, fc.Records)

	sample := fc.Records[0].Country
	if isISO3(sample) && hist != nil {
		isoMap := hist.ISOMap()
		mapped := 0
		for i := range resolved.Records {
			if name, ok := isoMap[resolved.Records[i].Country]; ok {
				resolved.Records[i].CountryName = name
				mapped++
			} else {
				// No match: fall back to the raw code unchanged.
				resolved.Records[i].CountryName = resolved.Records[i].Country
			}
		}
		s.logger.Info(ctx, "[RECONCILE] Forecast countries mapped from ISO3 codes", logging.Fields{
			"rows":   len(resolved.Records),
			"mapped": mapped,
		})
	} else {
		for i := range resolved.Records {
			resolved.Records[i].CountryName = resolved.Records[i].Country
		}
		s.logger.Info(ctx, "[RECONCILE] Forecast country column treated as display names", logging.Fields{
			"rows": len(resolved.Records),
		})
	}

	return resolved
}

// CombinedSeries builds the trailing-24-month history plus forecast series
// for the selected countries, sorted by country then date. An empty forecast
// selection yields EmptySelectionError so the caller can render the
// "no forecast available" outcome instead of an empty chart.
func (s *ForecastService) CombinedSeries(ctx context.Context, hist *models.HistoricalTable, fc *models.ForecastTable, countries []string) ([]SeriesPoint, error) {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("forecast_series"))
	defer timer.ObserveDuration()

	selected := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		selected[c] = struct{}{}
	}

	forecast := filterForecast(fc, selected)
	if len(forecast) == 0 {
		return nil, &EmptySelectionError{Countries: countries}
	}

	var points []SeriesPoint

	if hist != nil && !hist.Empty() {
		lookback := hist.MaxDate.AddDate(0, -historyLookbackMonths, 0)
		for i := range hist.Records {
			rec := hist.Records[i]
			if rec.Date.Before(lookback) {
				continue
			}
			if _, ok := selected[rec.Country]; !ok {
				continue
			}
			points = append(points, SeriesPoint{
				Country:   rec.Country,
				Date:      rec.Date,
				TWSMeanCm: rec.TWSMeanCm,
				Type:      SeriesHistorical,
			})
		}
	}

	for i := range forecast {
		points = append(points, SeriesPoint{
			Country:   forecast[i].CountryName,
			Date:      forecast[i].ForecastDate,
			TWSMeanCm: forecast[i].PredictedTWS,
			Type:      SeriesForecast,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Country != points[j].Country {
			return points[i].Country < points[j].Country
		}
		return points[i].Date.Before(points[j].Date)
	})

	return points, nil
}

// Pivot reshapes the selected forecast rows into a country-by-date grid.
// Duplicate (country, forecast_date) pairs make the reshape ambiguous and
// are rejected with AmbiguousPivotError.
func (s *ForecastService) Pivot(ctx context.Context, fc *models.ForecastTable, countries []string) (*ForecastPivot, error) {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("forecast_pivot"))
	defer timer.ObserveDuration()

	selected := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		selected[c] = struct{}{}
	}

	forecast := filterForecast(fc, selected)
	if len(forecast) == 0 {
		return nil, &EmptySelectionError{Countries: countries}
	}

	type cellKey struct {
		country string
		date    time.Time
	}
	cells := make(map[cellKey]float64, len(forecast))
	dateSet := make(map[time.Time]struct{})
	countrySet := make(map[string]struct{})

	for i := range forecast {
		k := cellKey{country: forecast[i].CountryName, date: forecast[i].ForecastDate}
		if _, dup := cells[k]; dup {
			return nil, &AmbiguousPivotError{Country: k.country, Date: k.date}
		}
		cells[k] = forecast[i].PredictedTWS
		dateSet[k.date] = struct{}{}
		countrySet[k.country] = struct{}{}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	names := make([]string, 0, len(countrySet))
	for c := range countrySet {
		names = append(names, c)
	}
	sort.Strings(names)

	pivot := &ForecastPivot{Dates: dates, Rows: make([]ForecastPivotRow, 0, len(names))}
	for _, name := range names {
		row := ForecastPivotRow{Country: name, Values: make([]*float64, len(dates))}
		for j, d := range dates {
			if v, ok := cells[cellKey{country: name, date: d}]; ok {
				value := v
				row.Values[j] = &value
			}
		}
		pivot.Rows = append(pivot.Rows, row)
	}

	return pivot, nil
}

// filterForecast restricts forecast rows to the selected country names.
func filterForecast(fc *models.ForecastTable, selected map[string]struct{}) []models.ForecastRecord {
	if fc == nil {
		return nil
	}
	var out []models.ForecastRecord
	for i := range fc.Records {
		name := fc.Records[i].CountryName
		if name == "" {
			name = fc.Records[i].Country
		}
		if _, ok := selected[name]; ok {
			rec := fc.Records[i]
			if rec.CountryName == "" {
				rec.CountryName = name
			}
			out = append(out, rec)
		}
	}
	return out
}

// isISO3 is the single-sample heuristic for code-style country identifiers.
func isISO3(v string) bool {
	if len(v) != 3 {
		return false
	}
	for _, r := range v {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
