package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"drought-tracker/internal/config"
	"drought-tracker/internal/dataset"
	"drought-tracker/internal/exporter"
	"drought-tracker/internal/models"
	"drought-tracker/internal/services"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// One collector for the whole test binary; promauto registration is global.
var testMetrics = metrics.NewCollector("handlers_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func date(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func testDataConfig() config.DataConfig {
	return config.DataConfig{
		SourceMode:         config.SourceUpload,
		PreferredCountries: []string{"Afghanistan", "India", "United States", "Brazil", "Australia"},
		WindowYears:        5,
		DeficitThreshold:   -5.0,
	}
}

func newTestHandler(t *testing.T, sourceMode string) (*DashboardHandler, *dataset.Session) {
	t.Helper()

	logger := testLogger()
	session := dataset.NewSession(sourceMode)
	loader := dataset.NewLoader(dataset.NewCache(testMetrics), logger, testMetrics)

	h := NewDashboardHandler(
		session,
		loader,
		services.NewFilterService(logger, testMetrics),
		services.NewSummaryService(logger, testMetrics),
		services.NewForecastService(logger, testMetrics),
		exporter.NewExporter(logger),
		testDataConfig(),
		logger,
		testMetrics,
		rate.NewLimiter(rate.Inf, 1),
	)
	return h, session
}

func testRouter(h *DashboardHandler) *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func histRecord(country, iso string, d time.Time, tws float64) models.HistoricalRecord {
	return models.HistoricalRecord{Country: country, ISOA3: iso, Date: d, TWSMeanCm: tws}
}

func seedHistorical(session *dataset.Session, records ...models.HistoricalRecord) {
	table := &models.HistoricalTable{Records: records}
	for i := range records {
		d := records[i].Date
		if table.MinDate.IsZero() || d.Before(table.MinDate) {
			table.MinDate = d
		}
		if d.After(table.MaxDate) {
			table.MaxDate = d
		}
		if records[i].AqueductLabel != "" {
			table.HasLabel = true
		}
		if records[i].AqueductRegion != "" {
			table.HasRegion = true
		}
	}
	session.SetHistorical(table)
}

func seedForecast(session *dataset.Session, records ...models.ForecastRecord) {
	table := &models.ForecastTable{Records: records}
	for i := range records {
		d := records[i].ForecastDate
		if table.MinDate.IsZero() || d.Before(table.MinDate) {
			table.MinDate = d
		}
		if d.After(table.MaxDate) {
			table.MaxDate = d
		}
		if records[i].CountryName != "" {
			table.HasCountryName = true
		}
	}
	session.SetForecast(table)
}

func doGet(t *testing.T, router *mux.Router, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGetOverview(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("A", "AAA", date(2020, 1), 10.0),
		histRecord("A", "AAA", date(2020, 2), -6.0),
		histRecord("B", "BBB", date(2020, 2), 2.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/overview")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, float64(1), body["deficit_count"])
	assert.Equal(t, "A", body["worst_hit_country"])
	assert.Equal(t, -6.0, body["worst_hit_tws_cm"])
	assert.Equal(t, float64(2), body["tracked_countries"])
}

func TestGetOverview_CustomThreshold(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("A", "AAA", date(2020, 2), -6.0),
		histRecord("B", "BBB", date(2020, 2), -1.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/overview?threshold=0")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(2), decodeBody(t, rr)["deficit_count"])

	rr = doGet(t, router, "/api/overview?threshold=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDegradedWithoutHistorical(t *testing.T) {
	h, _ := newTestHandler(t, config.SourceUpload)
	router := testRouter(h)

	for _, url := range []string{
		"/api/overview",
		"/api/map",
		"/api/top-risks",
		"/api/series",
		"/api/heatmap",
		"/api/regions",
		"/api/stats/describe",
		"/api/data/health",
	} {
		rr := doGet(t, router, url)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, url)
	}

	// Health stays up regardless.
	rr := doGet(t, router, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetTopRisks(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("A", "AAA", date(2020, 2), -6.0),
		histRecord("B", "BBB", date(2020, 2), 2.0),
		histRecord("C", "CCC", date(2020, 2), -1.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/top-risks?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "2020-02", body["as_of"])
	rows := body["rows"].([]interface{})
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "A", first["country"])
	assert.Equal(t, float64(1), first["rank"])
}

func TestGetMap_MonthSelection(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("A", "AAA", date(2020, 1), 10.0),
		histRecord("A", "AAA", date(2020, 2), -6.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/map?month=2020-01")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "2020-01", body["month"])
	require.Len(t, body["points"], 1)

	rr = doGet(t, router, "/api/map")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2020-02", decodeBody(t, rr)["month"], "defaults to the latest month")

	rr = doGet(t, router, "/api/map?month=January")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRegions_NoGroupingColumn(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session, histRecord("A", "AAA", date(2020, 1), 1.0))
	router := testRouter(h)

	rr := doGet(t, router, "/api/regions")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetValueCounts(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session, models.HistoricalRecord{
		Country: "A", ISOA3: "AAA", Date: date(2020, 1), TWSMeanCm: 1.0, AqueductLabel: "High",
	})
	router := testRouter(h)

	rr := doGet(t, router, "/api/value-counts")
	assert.Equal(t, http.StatusNotFound, rr.Code, "unregistered path")

	rr = doGet(t, router, "/api/stats/value-counts")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "column parameter required")

	rr = doGet(t, router, "/api/stats/value-counts?column=aqueduct_label")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "aqueduct_label", body["column"])

	rr = doGet(t, router, "/api/stats/value-counts?column=tws_mean_cm")
	assert.Equal(t, http.StatusNotFound, rr.Code, "numeric column is not countable")
}

func TestForecastEndpoints(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("Brazil", "BRA", date(2024, 12), 2.0),
		histRecord("India", "IND", date(2024, 12), -4.0),
	)
	seedForecast(session,
		models.ForecastRecord{Country: "BRA", ForecastDate: date(2025, 1), PredictedTWS: 1.5},
		models.ForecastRecord{Country: "IND", ForecastDate: date(2025, 1), PredictedTWS: -2.0},
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/forecast/series?countries=Brazil")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	points := body["points"].([]interface{})
	require.Len(t, points, 2, "trailing history plus forecast")

	rr = doGet(t, router, "/api/forecast/pivot?countries=Brazil,India")
	require.Equal(t, http.StatusOK, rr.Code)
	pivot := decodeBody(t, rr)
	assert.Len(t, pivot["rows"], 2)

	rr = doGet(t, router, "/api/forecast/series?countries=Mongolia")
	assert.Equal(t, http.StatusNotFound, rr.Code, "empty selection")
}

func TestForecastPivot_DuplicateCell(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedForecast(session,
		models.ForecastRecord{Country: "USA", CountryName: "USA", ForecastDate: date(2024, 1), PredictedTWS: 1.0},
		models.ForecastRecord{Country: "USA", CountryName: "USA", ForecastDate: date(2024, 1), PredictedTWS: 2.0},
	)
	session.SetHistorical(nil)
	router := testRouter(h)

	rr := doGet(t, router, "/api/forecast/pivot?countries=USA")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestForecast_DegradedWithoutTable(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session, histRecord("A", "AAA", date(2020, 1), 1.0))
	router := testRouter(h)

	rr := doGet(t, router, "/api/forecast/series")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUploadFlow(t *testing.T) {
	h, _ := newTestHandler(t, config.SourceUpload)
	router := testRouter(h)

	csvBody := "country,iso_a3,date,tws_mean_cm\nKenya,KEN,2024-01-01,-7.5\nKenya,KEN,2024-02-01,-8.0\n"
	req := httptest.NewRequest(http.MethodPost, "/api/datasets/historical", strings.NewReader(csvBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, float64(2), body["rows"])

	rr = doGet(t, router, "/api/overview")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Kenya", decodeBody(t, rr)["worst_hit_country"])
}

func TestUpload_RejectedOutsideUploadMode(t *testing.T) {
	h, _ := newTestHandler(t, config.SourceAuto)
	router := testRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/historical", strings.NewReader("country,iso_a3,date,tws_mean_cm\n"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpload_MalformedCSV(t *testing.T) {
	h, _ := newTestHandler(t, config.SourceUpload)
	router := testRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/historical", strings.NewReader("country,date\nKenya,2024-01-01\n"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "iso_a3")
}

func TestUpload_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t, config.SourceUpload)
	h.uploadLimiter = rate.NewLimiter(rate.Limit(0.001), 1)
	router := testRouter(h)

	csvBody := "country,iso_a3,date,tws_mean_cm\nKenya,KEN,2024-01-01,-7.5\n"

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/historical", strings.NewReader(csvBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/datasets/historical", strings.NewReader(csvBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestExportTopRisksCSV(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("A", "AAA", date(2020, 2), -6.0),
		histRecord("B", "BBB", date(2020, 2), 2.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/export/top-risks.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "rank,country,date,tws_mean_cm")
	assert.Contains(t, rr.Body.String(), "1,A,2020-02-01,-6")
}

func TestExportForecastXLSX(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedForecast(session,
		models.ForecastRecord{Country: "Brazil", CountryName: "Brazil", ForecastDate: date(2025, 1), PredictedTWS: 1.5},
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/export/forecast.xlsx?countries=Brazil")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Body.Bytes())
}

func TestGetMeta(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session,
		histRecord("India", "IND", date(2019, 1), 1.0),
		histRecord("Brazil", "BRA", date(2024, 6), -2.0),
	)
	router := testRouter(h)

	rr := doGet(t, router, "/api/meta")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "upload", body["source_mode"])
	assert.Equal(t, float64(2), body["rows"])
	assert.Equal(t, "2019-01-01", body["min_date"])
	assert.Equal(t, "2024-06-01", body["max_date"])
	assert.ElementsMatch(t, []interface{}{"Brazil", "India"}, body["countries"])
	assert.Equal(t, false, body["forecast_loaded"])
}

func TestRequestIDMiddleware(t *testing.T) {
	h, session := newTestHandler(t, config.SourceUpload)
	seedHistorical(session, histRecord("A", "AAA", date(2020, 1), 1.0))

	router := testRouter(h)
	router.Use(MetricsMiddleware(testMetrics))
	wrapped := RequestIDMiddleware(router)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rr = httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	assert.Equal(t, "upstream-id", rr.Header().Get("X-Request-ID"))
}
