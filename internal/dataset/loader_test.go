package dataset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drought-tracker/internal/models"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// One collector for the whole test binary; promauto registration is global.
var testMetrics = metrics.NewCollector("dataset_test")

func newTestLoader() *Loader {
	logger := logging.NewStructuredLogger("dataset-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return NewLoader(NewCache(testMetrics), logger, testMetrics)
}

const historicalCSV = `country,iso_a3,date,tws_mean_cm,aqueduct_label,aqueduct_wb_region
India,IND,2023-05-01,-6.10,High (40-80%),South Asia
India,IND,2023-06-01,-7.25,High (40-80%),South Asia
Brazil,BRA,2023-06-01,3.40,Low (<10%),Latin America
`

const forecastCSV = `country,forecast_date,predicted_tws
IND,2023-07-01,-8.00
IND,2023-08-01,-8.50
BRA,2023-07-01,2.90
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadHistorical(t *testing.T) {
	loader := newTestLoader()
	path := writeFile(t, t.TempDir(), "historical.csv", historicalCSV)

	table, err := loader.LoadHistorical(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, table.Records, 3)
	assert.True(t, table.HasLabel)
	assert.True(t, table.HasRegion)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), table.MinDate)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), table.MaxDate)
	assert.Equal(t, 0, table.DuplicateKeys)
	assert.Equal(t, []string{"Brazil", "India"}, table.Countries())
}

func TestLoadHistorical_NotFound(t *testing.T) {
	loader := newTestLoader()

	_, err := loader.LoadHistorical(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	loadErr, ok := err.(*LoadError)
	require.True(t, ok, "expected *LoadError, got %T", err)
	assert.True(t, loadErr.NotFound)
}

func TestLoadHistorical_EmptyFileIsNotNotFound(t *testing.T) {
	loader := newTestLoader()
	path := writeFile(t, t.TempDir(), "empty.csv", "")

	_, err := loader.LoadHistorical(context.Background(), path)
	require.Error(t, err)

	loadErr, ok := err.(*LoadError)
	require.True(t, ok, "expected *LoadError, got %T", err)
	assert.False(t, loadErr.NotFound, "0-byte file must be a parse failure, not not-found")
}

func TestLoadHistorical_MissingRequiredColumn(t *testing.T) {
	loader := newTestLoader()
	path := writeFile(t, t.TempDir(), "nocol.csv", "country,date\nIndia,2023-06-01\n")

	_, err := loader.LoadHistorical(context.Background(), path)
	require.Error(t, err)

	var colErr *models.MissingColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "iso_a3", colErr.Column)
}

func TestLoadHistorical_MalformedValueFailsLoad(t *testing.T) {
	loader := newTestLoader()
	csvText := "country,iso_a3,date,tws_mean_cm\nIndia,IND,2023-06-01,not-a-number\n"
	path := writeFile(t, t.TempDir(), "bad.csv", csvText)

	_, err := loader.LoadHistorical(context.Background(), path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "row 2")
}

func TestLoadHistorical_CountsDuplicateKeys(t *testing.T) {
	loader := newTestLoader()
	csvText := `country,iso_a3,date,tws_mean_cm
India,IND,2023-06-01,-7.25
India,IND,2023-06-01,-7.30
India,IND,2023-06-01,-7.25
`
	path := writeFile(t, t.TempDir(), "dupes.csv", csvText)

	table, err := loader.LoadHistorical(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, table.Records, 3, "duplicates are retained")
	assert.Equal(t, 2, table.DuplicateKeys)
	assert.Equal(t, 1, table.DuplicateRows)
}

func TestLoadForecast(t *testing.T) {
	loader := newTestLoader()
	path := writeFile(t, t.TempDir(), "forecast.csv", forecastCSV)

	table, err := loader.LoadForecast(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, table.Records, 3)
	assert.False(t, table.HasCountryName)
	assert.Equal(t, "IND", table.Records[0].Country)
	assert.Equal(t, -8.0, table.Records[0].PredictedTWS)
}

func TestLoadForecast_CountryNameColumnDetected(t *testing.T) {
	loader := newTestLoader()
	csvText := "country,country_name,forecast_date,predicted_tws\nIND,India,2023-07-01,-8.0\n"
	path := writeFile(t, t.TempDir(), "forecast_named.csv", csvText)

	table, err := loader.LoadForecast(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, table.HasCountryName)
	assert.Equal(t, "India", table.Records[0].CountryName)
}

func TestLoadHistoricalBytes_UsesCacheByContent(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	first, err := loader.LoadHistoricalBytes(ctx, "upload:historical", []byte(historicalCSV))
	require.NoError(t, err)

	again, err := loader.LoadHistoricalBytes(ctx, "upload:historical", []byte(historicalCSV))
	require.NoError(t, err)
	assert.Same(t, first, again, "identical content must hit the cache")

	changed := historicalCSV + "Australia,AUS,2023-06-01,0.50,Low (<10%),East Asia & Pacific\n"
	third, err := loader.LoadHistoricalBytes(ctx, "upload:historical", []byte(changed))
	require.NoError(t, err)
	assert.NotSame(t, first, third, "changed content must reparse")
	assert.Len(t, third.Records, 4)
}

func TestLoadHistorical_FileCacheInvalidatesOnChange(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "historical.csv", historicalCSV)

	first, err := loader.LoadHistorical(ctx, path)
	require.NoError(t, err)

	again, err := loader.LoadHistorical(ctx, path)
	require.NoError(t, err)
	assert.Same(t, first, again)

	// Rewrite with different content and a different size; the fingerprint
	// covers size so the mtime granularity does not matter here.
	updated := historicalCSV + "Australia,AUS,2023-06-01,0.50,Low (<10%),East Asia & Pacific\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	third, err := loader.LoadHistorical(ctx, path)
	require.NoError(t, err)
	assert.Len(t, third.Records, 4)
}

func TestCache_Stats(t *testing.T) {
	cache := NewCache(testMetrics)

	_, ok := cache.Get("k", "fp")
	assert.False(t, ok)

	cache.Put("k", "fp", 42)
	v, ok := cache.Get("k", "fp")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = cache.Get("k", "other-fp")
	assert.False(t, ok, "stale fingerprint must miss")

	cache.Invalidate("k")
	_, ok = cache.Get("k", "fp")
	assert.False(t, ok)

	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, misses)
}
