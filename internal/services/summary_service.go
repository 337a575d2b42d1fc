package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// DefaultDeficitThreshold is the fixed TWS anomaly below which a country
// counts as being in high deficit.
const DefaultDeficitThreshold = -5.0

// DefaultTopRisks is the default length of the ranked risk table.
const DefaultTopRisks = 15

// SummaryService computes the scalar and tabular summaries over the loaded
// tables and their filtered views. Every method is a pure reducer; inputs are
// never mutated.
type SummaryService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSummaryService creates a new summary service
func NewSummaryService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SummaryService {
	return &SummaryService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Overview bundles the four dashboard KPIs.
type Overview struct {
	LatestDate       time.Time `json:"latest_date"`
	GlobalAvgTWS     *float64  `json:"global_avg_tws_cm"`
	DeficitCount     int       `json:"deficit_count"`
	DeficitThreshold float64   `json:"deficit_threshold_cm"`
	WorstHitCountry  string    `json:"worst_hit_country,omitempty"`
	WorstHitTWS      *float64  `json:"worst_hit_tws_cm,omitempty"`
	TrackedCountries int       `json:"tracked_countries"`
}

// RiskRow is one entry of the ranked risk table.
type RiskRow struct {
	Rank          int     `json:"rank"`
	Country       string  `json:"country"`
	TWSMeanCm     float64 `json:"tws_mean_cm"`
	AqueductLabel string  `json:"aqueduct_label,omitempty"`
}

// MapPoint is one country's value for the choropleth dataset.
type MapPoint struct {
	ISOA3         string  `json:"iso_a3"`
	Country       string  `json:"country"`
	TWSMeanCm     float64 `json:"tws_mean_cm"`
	AqueductLabel string  `json:"aqueduct_label,omitempty"`
}

// ColumnStats holds descriptive statistics for one numeric column. Std is nil
// below two observations.
type ColumnStats struct {
	Column string   `json:"column"`
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	Std    *float64 `json:"std"`
	Min    float64  `json:"min"`
	Q25    float64  `json:"q25"`
	Median float64  `json:"median"`
	Q75    float64  `json:"q75"`
	Max    float64  `json:"max"`
}

// ValueCount is one categorical frequency entry.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// CorrelationMatrix is the pairwise Pearson correlation over the numeric
// columns. Cells are nil when fewer than two complete observation pairs
// exist for the column pair.
type CorrelationMatrix struct {
	Columns []string     `json:"columns"`
	Matrix  [][]*float64 `json:"matrix"`
}

// YearCountryMean is one cell of the country-by-year intensity grid.
type YearCountryMean struct {
	Country  string  `json:"country"`
	Year     int     `json:"year"`
	MeanTWS  float64 `json:"mean_tws_cm"`
	RowCount int     `json:"row_count"`
}

// RegionSummary keeps the full per-region value distribution plus the
// box-style summary numbers.
type RegionSummary struct {
	Region string    `json:"region"`
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	Min    float64   `json:"min"`
	Q25    float64   `json:"q25"`
	Median float64   `json:"median"`
	Q75    float64   `json:"q75"`
	Max    float64   `json:"max"`
	Values []float64 `json:"values"`
}

// HealthReport is the null/duplicate data-quality summary.
type HealthReport struct {
	Rows          int            `json:"rows"`
	Columns       []string       `json:"columns"`
	NullCounts    map[string]int `json:"null_counts"`
	DuplicateRows int            `json:"duplicate_rows"`
	DuplicateKeys int            `json:"duplicate_country_date_keys"`
}

// LatestSnapshot selects exactly the rows whose date equals the table's
// maximum date. Empty table yields an empty snapshot.
func (s *SummaryService) LatestSnapshot(table *models.HistoricalTable) []models.HistoricalRecord {
	if table.Empty() {
		return nil
	}
	var out []models.HistoricalRecord
	for i := range table.Records {
		if table.Records[i].Date.Equal(table.MaxDate) {
			out = append(out, table.Records[i])
		}
	}
	return out
}

// SnapshotAt selects the rows for one calendar month. The month selector
// works at month resolution; the latest snapshot does not.
func (s *SummaryService) SnapshotAt(table *models.HistoricalTable, month time.Time) []models.HistoricalRecord {
	if table.Empty() {
		return nil
	}
	var out []models.HistoricalRecord
	for i := range table.Records {
		d := table.Records[i].Date
		if d.Year() == month.Year() && d.Month() == month.Month() {
			out = append(out, table.Records[i])
		}
	}
	return out
}

// GlobalMean is the arithmetic mean of the anomaly over a snapshot, NaN when
// the snapshot is empty.
func (s *SummaryService) GlobalMean(snapshot []models.HistoricalRecord) float64 {
	if len(snapshot) == 0 {
		return math.NaN()
	}
	values := make([]float64, len(snapshot))
	for i := range snapshot {
		values[i] = snapshot[i].TWSMeanCm
	}
	return stat.Mean(values, nil)
}

// DeficitCount counts snapshot rows strictly below the threshold.
func (s *SummaryService) DeficitCount(snapshot []models.HistoricalRecord, threshold float64) int {
	count := 0
	for i := range snapshot {
		if snapshot[i].TWSMeanCm < threshold {
			count++
		}
	}
	return count
}

// WorstHit returns the snapshot row with the minimum anomaly; ties resolve to
// the first row in table order. Nil on an empty snapshot.
func (s *SummaryService) WorstHit(snapshot []models.HistoricalRecord) *models.HistoricalRecord {
	if len(snapshot) == 0 {
		return nil
	}
	worst := &snapshot[0]
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i].TWSMeanCm < worst.TWSMeanCm {
			worst = &snapshot[i]
		}
	}
	rec := *worst
	return &rec
}

// ComputeOverview derives the four KPIs from the latest snapshot.
func (s *SummaryService) ComputeOverview(ctx context.Context, table *models.HistoricalTable, threshold float64) Overview {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("overview"))
	defer timer.ObserveDuration()

	snapshot := s.LatestSnapshot(table)

	overview := Overview{
		DeficitThreshold: threshold,
		DeficitCount:     s.DeficitCount(snapshot, threshold),
		TrackedCountries: table.CountryCount(),
	}
	if !table.Empty() {
		overview.LatestDate = table.MaxDate
	}

	if mean := s.GlobalMean(snapshot); !math.IsNaN(mean) {
		overview.GlobalAvgTWS = &mean
	}

	if worst := s.WorstHit(snapshot); worst != nil {
		overview.WorstHitCountry = worst.Country
		tws := worst.TWSMeanCm
		overview.WorstHitTWS = &tws
	}

	s.logger.Debug(ctx, "[VIEW_OVERVIEW] Overview computed", logging.Fields{
		"snapshot_rows": len(snapshot),
		"deficit_count": overview.DeficitCount,
	})

	return overview
}

// TopRisks sorts a snapshot ascending by anomaly and returns the first n rows
// with contiguous ranks. The sort is stable so equal values keep table order.
func (s *SummaryService) TopRisks(snapshot []models.HistoricalRecord, n int) []RiskRow {
	if n <= 0 {
		n = DefaultTopRisks
	}

	ordered := make([]models.HistoricalRecord, len(snapshot))
	copy(ordered, snapshot)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TWSMeanCm < ordered[j].TWSMeanCm
	})

	if len(ordered) > n {
		ordered = ordered[:n]
	}

	rows := make([]RiskRow, len(ordered))
	for i := range ordered {
		rows[i] = RiskRow{
			Rank:          i + 1,
			Country:       ordered[i].Country,
			TWSMeanCm:     ordered[i].TWSMeanCm,
			AqueductLabel: ordered[i].AqueductLabel,
		}
	}
	return rows
}

// MapDataset builds the choropleth rows for one month.
func (s *SummaryService) MapDataset(table *models.HistoricalTable, month time.Time) []MapPoint {
	snapshot := s.SnapshotAt(table, month)
	points := make([]MapPoint, 0, len(snapshot))
	for i := range snapshot {
		points = append(points, MapPoint{
			ISOA3:         snapshot[i].ISOA3,
			Country:       snapshot[i].Country,
			TWSMeanCm:     snapshot[i].TWSMeanCm,
			AqueductLabel: snapshot[i].AqueductLabel,
		})
	}
	return points
}

// DataHealth reports per-column missing counts and duplicate rows.
func (s *SummaryService) DataHealth(table *models.HistoricalTable) HealthReport {
	report := HealthReport{
		Rows:          len(table.Records),
		NullCounts:    make(map[string]int),
		DuplicateRows: table.DuplicateRows,
		DuplicateKeys: table.DuplicateKeys,
	}

	for _, col := range table.CategoricalColumnNames() {
		values, _ := table.CategoricalColumn(col)
		nulls := 0
		for _, v := range values {
			if v == "" {
				nulls++
			}
		}
		report.Columns = append(report.Columns, col)
		report.NullCounts[col] = nulls
	}

	numeric := table.NumericColumns()
	numericNames := make([]string, 0, len(numeric))
	for name := range numeric {
		numericNames = append(numericNames, name)
	}
	sort.Strings(numericNames)

	for _, name := range numericNames {
		nulls := 0
		for _, v := range numeric[name] {
			if math.IsNaN(v) {
				nulls++
			}
		}
		report.Columns = append(report.Columns, name)
		report.NullCounts[name] = nulls
	}

	// The date column survives parsing by construction.
	report.Columns = append(report.Columns, "date")
	report.NullCounts["date"] = 0

	return report
}

// Describe computes count/mean/std/min/quartiles/max per numeric column.
// Columns with no valid observations are omitted.
func (s *SummaryService) Describe(ctx context.Context, table *models.HistoricalTable) []ColumnStats {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("describe"))
	defer timer.ObserveDuration()

	numeric := table.NumericColumns()
	names := make([]string, 0, len(numeric))
	for name := range numeric {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ColumnStats, 0, len(names))
	for _, name := range names {
		valid := dropNaN(numeric[name])
		if len(valid) == 0 {
			continue
		}

		sorted := make([]float64, len(valid))
		copy(sorted, valid)
		sort.Float64s(sorted)

		cs := ColumnStats{
			Column: name,
			Count:  len(valid),
			Mean:   stat.Mean(valid, nil),
			Min:    sorted[0],
			Q25:    stat.Quantile(0.25, stat.LinInterp, sorted, nil),
			Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
			Q75:    stat.Quantile(0.75, stat.LinInterp, sorted, nil),
			Max:    sorted[len(sorted)-1],
		}
		if len(valid) > 1 {
			std := stat.StdDev(valid, nil)
			cs.Std = &std
		}
		out = append(out, cs)
	}
	return out
}

// ValueCounts builds the frequency table for a categorical column, most
// frequent first, ties broken by value.
func (s *SummaryService) ValueCounts(table *models.HistoricalTable, column string) ([]ValueCount, error) {
	values, ok := table.CategoricalColumn(column)
	if !ok {
		return nil, &models.MissingColumnError{Column: column}
	}

	counts := make(map[string]int)
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
	}

	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// Correlations computes the pairwise Pearson matrix over the numeric columns.
// Returns false when fewer than two numeric columns exist; the summary is
// skipped in that case, not an error.
func (s *SummaryService) Correlations(ctx context.Context, table *models.HistoricalTable) (*CorrelationMatrix, bool) {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("correlation"))
	defer timer.ObserveDuration()

	numeric := table.NumericColumns()
	if len(numeric) < 2 {
		return nil, false
	}

	names := make([]string, 0, len(numeric))
	for name := range numeric {
		names = append(names, name)
	}
	sort.Strings(names)

	matrix := make([][]*float64, len(names))
	for i := range names {
		matrix[i] = make([]*float64, len(names))
		for j := range names {
			if r, ok := pearson(numeric[names[i]], numeric[names[j]]); ok {
				v := r
				matrix[i][j] = &v
			}
		}
	}

	return &CorrelationMatrix{Columns: names, Matrix: matrix}, true
}

// YearCountryMeans groups rows by (country, year) and averages the anomaly.
// Output is sorted by country then year, ready for the heatmap grid.
func (s *SummaryService) YearCountryMeans(ctx context.Context, rows []models.HistoricalRecord) []YearCountryMean {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("heatmap"))
	defer timer.ObserveDuration()

	type key struct {
		country string
		year    int
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for i := range rows {
		k := key{country: rows[i].Country, year: rows[i].Date.Year()}
		sums[k] += rows[i].TWSMeanCm
		counts[k]++
	}

	out := make([]YearCountryMean, 0, len(sums))
	for k, sum := range sums {
		out = append(out, YearCountryMean{
			Country:  k.country,
			Year:     k.year,
			MeanTWS:  sum / float64(counts[k]),
			RowCount: counts[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// RegionDistributions groups the date-only view by region, falling back to
// the stress label when no region column exists. Returns false when neither
// column is present; the summary is then omitted entirely.
func (s *SummaryService) RegionDistributions(ctx context.Context, table *models.HistoricalTable, rows []models.HistoricalRecord) ([]RegionSummary, bool) {
	timer := s.metrics.NewTimer(s.metrics.ViewComputeDuration.WithLabelValues("regions"))
	defer timer.ObserveDuration()

	group := func(r *models.HistoricalRecord) string { return r.AqueductRegion }
	if !table.HasRegion {
		if !table.HasLabel {
			return nil, false
		}
		group = func(r *models.HistoricalRecord) string { return r.AqueductLabel }
	}

	byRegion := make(map[string][]float64)
	for i := range rows {
		region := group(&rows[i])
		if region == "" {
			continue
		}
		byRegion[region] = append(byRegion[region], rows[i].TWSMeanCm)
	}

	regions := make([]string, 0, len(byRegion))
	for region := range byRegion {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	out := make([]RegionSummary, 0, len(regions))
	for _, region := range regions {
		values := byRegion[region]
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)

		out = append(out, RegionSummary{
			Region: region,
			Count:  len(values),
			Mean:   stat.Mean(values, nil),
			Min:    sorted[0],
			Q25:    stat.Quantile(0.25, stat.LinInterp, sorted, nil),
			Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
			Q75:    stat.Quantile(0.75, stat.LinInterp, sorted, nil),
			Max:    sorted[len(sorted)-1],
			Values: values,
		})
	}
	return out, true
}

// dropNaN filters NaN entries out of a column.
func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// pearson computes the correlation over pairwise-complete observations.
func pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return 0, false
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

// IsMissingColumn reports whether err is the missing-column case, so the
// caller can omit the dependent summary instead of failing.
func IsMissingColumn(err error) bool {
	var target *models.MissingColumnError
	return errors.As(err, &target)
}
