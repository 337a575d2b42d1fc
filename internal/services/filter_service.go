package services

import (
	"context"
	"time"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// FilterService derives filtered views from the historical table. The input
// table is never mutated; both outputs are fresh slices.
type FilterService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFilterService creates a new filter service
func NewFilterService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *FilterService {
	return &FilterService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Apply returns the rows matching both the country and date predicates, and
// the rows matching only the date predicate. The second view keeps region
// and category comparisons unbiased by the country subset. Countries not
// present in the table silently yield an empty filtered view.
func (s *FilterService) Apply(ctx context.Context, table *models.HistoricalTable, sel models.FilterSelection) (filtered, dateOnly []models.HistoricalRecord) {
	if table.Empty() {
		return nil, nil
	}

	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("filter"))
	defer timer.ObserveDuration()

	start, end := ClampRange(table, sel.Start, sel.End)

	selected := make(map[string]struct{}, len(sel.Countries))
	for _, c := range sel.Countries {
		selected[c] = struct{}{}
	}

	filtered = make([]models.HistoricalRecord, 0)
	dateOnly = make([]models.HistoricalRecord, 0, len(table.Records))

	for i := range table.Records {
		rec := table.Records[i]
		if rec.Date.Before(start) || rec.Date.After(end) {
			continue
		}
		dateOnly = append(dateOnly, rec)
		if _, ok := selected[rec.Country]; ok {
			filtered = append(filtered, rec)
		}
	}

	s.logger.Debug(ctx, "[FILTER_APPLY] Filter applied", logging.Fields{
		"countries":      len(sel.Countries),
		"start":          start.Format("2006-01-02"),
		"end":            end.Format("2006-01-02"),
		"filtered_rows":  len(filtered),
		"date_only_rows": len(dateOnly),
	})

	return filtered, dateOnly
}

// ClampRange bounds an inclusive interval to the table's observed min/max
// dates. Zero bounds take the corresponding table bound.
func ClampRange(table *models.HistoricalTable, start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() || start.Before(table.MinDate) {
		start = table.MinDate
	}
	if end.IsZero() || end.After(table.MaxDate) {
		end = table.MaxDate
	}
	return start, end
}

// DefaultSelection builds the initial filter state: the preferred countries
// that exist in the table (else the first three alphabetically), over the
// trailing windowYears years of available data.
func (s *FilterService) DefaultSelection(table *models.HistoricalTable, preferred []string, windowYears int) models.FilterSelection {
	available := table.Countries()

	inTable := make(map[string]struct{}, len(available))
	for _, c := range available {
		inTable[c] = struct{}{}
	}

	countries := make([]string, 0, len(preferred))
	for _, c := range preferred {
		if _, ok := inTable[c]; ok {
			countries = append(countries, c)
		}
	}
	if len(countries) == 0 {
		n := 3
		if len(available) < n {
			n = len(available)
		}
		countries = append(countries, available[:n]...)
	}

	start := table.MaxDate.AddDate(-windowYears, 0, 0)
	if start.Before(table.MinDate) {
		start = table.MinDate
	}

	return models.FilterSelection{
		Countries: countries,
		Start:     start,
		End:       table.MaxDate,
	}
}
