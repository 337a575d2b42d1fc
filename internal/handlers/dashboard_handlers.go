package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"drought-tracker/internal/config"
	"drought-tracker/internal/dataset"
	"drought-tracker/internal/exporter"
	"drought-tracker/internal/models"
	"drought-tracker/internal/services"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

// maxUploadBytes bounds dataset uploads.
const maxUploadBytes = 64 << 20

// DashboardHandler handles the dashboard API endpoints
type DashboardHandler struct {
	session       *dataset.Session
	loader        *dataset.Loader
	filters       *services.FilterService
	summaries     *services.SummaryService
	forecasts     *services.ForecastService
	exporter      *exporter.Exporter
	dataCfg       config.DataConfig
	logger        *logging.StructuredLogger
	metrics       *metrics.Collector
	uploadLimiter *rate.Limiter
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	session *dataset.Session,
	loader *dataset.Loader,
	filters *services.FilterService,
	summaries *services.SummaryService,
	forecasts *services.ForecastService,
	exp *exporter.Exporter,
	dataCfg config.DataConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	uploadLimiter *rate.Limiter,
) *DashboardHandler {
	return &DashboardHandler{
		session:       session,
		loader:        loader,
		filters:       filters,
		summaries:     summaries,
		forecasts:     forecasts,
		exporter:      exp,
		dataCfg:       dataCfg,
		logger:        logger,
		metrics:       metricsCollector,
		uploadLimiter: uploadLimiter,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RegisterRoutes registers all dashboard API routes
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/meta", h.GetMeta).Methods("GET")
	router.HandleFunc("/api/overview", h.GetOverview).Methods("GET")
	router.HandleFunc("/api/map", h.GetMap).Methods("GET")
	router.HandleFunc("/api/top-risks", h.GetTopRisks).Methods("GET")
	router.HandleFunc("/api/series", h.GetSeries).Methods("GET")
	router.HandleFunc("/api/heatmap", h.GetHeatmap).Methods("GET")
	router.HandleFunc("/api/regions", h.GetRegions).Methods("GET")
	router.HandleFunc("/api/stats/describe", h.GetDescribe).Methods("GET")
	router.HandleFunc("/api/stats/correlation", h.GetCorrelation).Methods("GET")
	router.HandleFunc("/api/stats/value-counts", h.GetValueCounts).Methods("GET")
	router.HandleFunc("/api/data/health", h.GetDataHealth).Methods("GET")
	router.HandleFunc("/api/forecast/series", h.GetForecastSeries).Methods("GET")
	router.HandleFunc("/api/forecast/pivot", h.GetForecastPivot).Methods("GET")
	router.HandleFunc("/api/export/forecast.xlsx", h.ExportForecastXLSX).Methods("GET")
	router.HandleFunc("/api/export/top-risks.csv", h.ExportTopRisksCSV).Methods("GET")
	router.HandleFunc("/api/datasets/historical", h.UploadHistorical).Methods("POST")
	router.HandleFunc("/api/datasets/forecast", h.UploadForecast).Methods("POST")
}

// HealthCheck handles GET /health
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	hist, fc := h.session.Tables()

	status := map[string]interface{}{
		"status":            "healthy",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"source_mode":       h.session.SourceMode(),
		"historical_loaded": hist != nil && !hist.Empty(),
		"forecast_loaded":   fc != nil && !fc.Empty(),
	}

	h.sendJSON(w, status, http.StatusOK)
}

// GetMeta handles GET /api/meta. It powers the filter widgets: available
// countries, date bounds and the defaults applied when the client sends no
// explicit selection.
func (h *DashboardHandler) GetMeta(w http.ResponseWriter, r *http.Request) {
	hist, fc := h.session.Tables()

	meta := map[string]interface{}{
		"source_mode":     h.session.SourceMode(),
		"forecast_loaded": fc != nil && !fc.Empty(),
	}

	if hist != nil && !hist.Empty() {
		defaults := h.filters.DefaultSelection(hist, h.dataCfg.PreferredCountries, h.dataCfg.WindowYears)
		meta["rows"] = len(hist.Records)
		meta["countries"] = hist.Countries()
		meta["min_date"] = hist.MinDate.Format("2006-01-02")
		meta["max_date"] = hist.MaxDate.Format("2006-01-02")
		meta["has_region"] = hist.HasRegion
		meta["has_label"] = hist.HasLabel
		meta["default_countries"] = defaults.Countries
		meta["default_start"] = defaults.Start.Format("2006-01-02")
		meta["default_end"] = defaults.End.Format("2006-01-02")
		meta["deficit_threshold_cm"] = h.dataCfg.DeficitThreshold
	} else {
		meta["rows"] = 0
	}

	h.sendJSON(w, meta, http.StatusOK)
}

// GetOverview handles GET /api/overview
func (h *DashboardHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	threshold := h.dataCfg.DeficitThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.sendError(w, r, "invalid threshold, expected a number", http.StatusBadRequest)
			return
		}
		threshold = parsed
	}

	overview := h.summaries.ComputeOverview(r.Context(), hist, threshold)
	h.sendJSON(w, overview, http.StatusOK)
}

// GetMap handles GET /api/map
func (h *DashboardHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	month, err := h.parseMonth(r, hist.MaxDate)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	points := h.summaries.MapDataset(hist, month)
	h.sendJSON(w, map[string]interface{}{
		"month":  month.Format("2006-01"),
		"points": points,
	}, http.StatusOK)
}

// GetTopRisks handles GET /api/top-risks
func (h *DashboardHandler) GetTopRisks(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	month, err := h.parseMonth(r, hist.MaxDate)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	limit := services.DefaultTopRisks
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	snapshot := h.summaries.SnapshotAt(hist, month)
	rows := h.summaries.TopRisks(snapshot, limit)

	h.sendJSON(w, map[string]interface{}{
		"as_of": month.Format("2006-01"),
		"rows":  rows,
	}, http.StatusOK)
}

// GetSeries handles GET /api/series
func (h *DashboardHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	sel, err := h.parseSelection(r, hist)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	filtered, _ := h.filters.Apply(r.Context(), hist, sel)
	h.sendJSON(w, map[string]interface{}{
		"countries": sel.Countries,
		"start":     sel.Start.Format("2006-01-02"),
		"end":       sel.End.Format("2006-01-02"),
		"rows":      filtered,
	}, http.StatusOK)
}

// GetHeatmap handles GET /api/heatmap
func (h *DashboardHandler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	sel, err := h.parseSelection(r, hist)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	filtered, _ := h.filters.Apply(r.Context(), hist, sel)
	grid := h.summaries.YearCountryMeans(r.Context(), filtered)

	h.sendJSON(w, map[string]interface{}{"cells": grid}, http.StatusOK)
}

// GetRegions handles GET /api/regions. The distribution falls back to the
// risk label grouping when no region column exists, and is omitted entirely
// when neither column is present.
func (h *DashboardHandler) GetRegions(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	sel, err := h.parseSelection(r, hist)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	// Regional distributions cover all countries in the window, not just
	// the selected ones.
	_, dateOnly := h.filters.Apply(r.Context(), hist, sel)

	regions, ok := h.summaries.RegionDistributions(r.Context(), hist, dateOnly)
	if !ok {
		h.sendError(w, r, "no region or risk label column in the loaded dataset", http.StatusNotFound)
		return
	}

	h.sendJSON(w, map[string]interface{}{"regions": regions}, http.StatusOK)
}

// GetDescribe handles GET /api/stats/describe
func (h *DashboardHandler) GetDescribe(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	stats := h.summaries.Describe(r.Context(), hist)
	h.sendJSON(w, map[string]interface{}{"columns": stats}, http.StatusOK)
}

// GetCorrelation handles GET /api/stats/correlation
func (h *DashboardHandler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	matrix, ok := h.summaries.Correlations(r.Context(), hist)
	if !ok {
		h.sendError(w, r, "correlation requires at least two numeric columns", http.StatusNotFound)
		return
	}

	h.sendJSON(w, matrix, http.StatusOK)
}

// GetValueCounts handles GET /api/stats/value-counts
func (h *DashboardHandler) GetValueCounts(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	column := r.URL.Query().Get("column")
	if column == "" {
		h.sendError(w, r, "column query parameter is required", http.StatusBadRequest)
		return
	}

	counts, err := h.summaries.ValueCounts(hist, column)
	if err != nil {
		if services.IsMissingColumn(err) {
			h.sendError(w, r, err.Error(), http.StatusNotFound)
			return
		}
		h.handleServiceError(w, r, "/api/stats/value-counts", err)
		return
	}

	h.sendJSON(w, map[string]interface{}{
		"column": column,
		"counts": counts,
	}, http.StatusOK)
}

// GetDataHealth handles GET /api/data/health
func (h *DashboardHandler) GetDataHealth(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	h.sendJSON(w, h.summaries.DataHealth(hist), http.StatusOK)
}

// GetForecastSeries handles GET /api/forecast/series
func (h *DashboardHandler) GetForecastSeries(w http.ResponseWriter, r *http.Request) {
	hist, fc, countries, ok := h.forecastRequest(w, r)
	if !ok {
		return
	}

	points, err := h.forecasts.CombinedSeries(r.Context(), hist, fc, countries)
	if err != nil {
		h.handleForecastError(w, r, err)
		return
	}

	h.sendJSON(w, map[string]interface{}{
		"countries": countries,
		"points":    points,
	}, http.StatusOK)
}

// GetForecastPivot handles GET /api/forecast/pivot
func (h *DashboardHandler) GetForecastPivot(w http.ResponseWriter, r *http.Request) {
	_, fc, countries, ok := h.forecastRequest(w, r)
	if !ok {
		return
	}

	pivot, err := h.forecasts.Pivot(r.Context(), fc, countries)
	if err != nil {
		h.handleForecastError(w, r, err)
		return
	}

	h.sendJSON(w, pivot, http.StatusOK)
}

// ExportForecastXLSX handles GET /api/export/forecast.xlsx
func (h *DashboardHandler) ExportForecastXLSX(w http.ResponseWriter, r *http.Request) {
	_, fc, countries, ok := h.forecastRequest(w, r)
	if !ok {
		return
	}

	pivot, err := h.forecasts.Pivot(r.Context(), fc, countries)
	if err != nil {
		h.handleForecastError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="drought_forecast.xlsx"`)

	if err := h.exporter.WriteForecastXLSX(r.Context(), pivot, w); err != nil {
		h.metrics.RecordAPIError("export_error", "/api/export/forecast.xlsx")
		h.logger.Error(r.Context(), "[EXPORT_ERROR] Forecast workbook export failed", logging.Fields{}, err)
	}
}

// ExportTopRisksCSV handles GET /api/export/top-risks.csv
func (h *DashboardHandler) ExportTopRisksCSV(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.requireHistorical(w, r)
	if !ok {
		return
	}

	month, err := h.parseMonth(r, hist.MaxDate)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot := h.summaries.SnapshotAt(hist, month)
	rows := h.summaries.TopRisks(snapshot, services.DefaultTopRisks)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="top_risks.csv"`)

	if err := h.exporter.WriteTopRisksCSV(r.Context(), month, rows, w); err != nil {
		h.metrics.RecordAPIError("export_error", "/api/export/top-risks.csv")
		h.logger.Error(r.Context(), "[EXPORT_ERROR] Risk table export failed", logging.Fields{}, err)
	}
}

// UploadHistorical handles POST /api/datasets/historical
func (h *DashboardHandler) UploadHistorical(w http.ResponseWriter, r *http.Request) {
	data, ok := h.acceptUpload(w, r)
	if !ok {
		return
	}

	table, err := h.loader.LoadHistoricalBytes(r.Context(), uploadName(r, "historical.csv"), data)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	h.session.SetHistorical(table)

	h.logger.Info(r.Context(), "[UPLOAD] Historical dataset replaced", logging.Fields{
		"rows":      len(table.Records),
		"countries": table.CountryCount(),
	})

	h.sendJSON(w, map[string]interface{}{
		"rows":      len(table.Records),
		"countries": table.CountryCount(),
		"min_date":  table.MinDate.Format("2006-01-02"),
		"max_date":  table.MaxDate.Format("2006-01-02"),
	}, http.StatusCreated)
}

// UploadForecast handles POST /api/datasets/forecast
func (h *DashboardHandler) UploadForecast(w http.ResponseWriter, r *http.Request) {
	data, ok := h.acceptUpload(w, r)
	if !ok {
		return
	}

	table, err := h.loader.LoadForecastBytes(r.Context(), uploadName(r, "forecast.csv"), data)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	h.session.SetForecast(table)

	h.logger.Info(r.Context(), "[UPLOAD] Forecast dataset replaced", logging.Fields{
		"rows": len(table.Records),
	})

	h.sendJSON(w, map[string]interface{}{
		"rows":     len(table.Records),
		"min_date": table.MinDate.Format("2006-01-02"),
		"max_date": table.MaxDate.Format("2006-01-02"),
	}, http.StatusCreated)
}

// requireHistorical fetches the historical snapshot or renders the degraded
// response when no dataset is loaded yet.
func (h *DashboardHandler) requireHistorical(w http.ResponseWriter, r *http.Request) (*models.HistoricalTable, bool) {
	hist := h.session.Historical()
	if hist == nil || hist.Empty() {
		h.sendError(w, r, "historical dataset not loaded", http.StatusServiceUnavailable)
		return nil, false
	}
	return hist, true
}

// forecastRequest resolves the forecast snapshot (reconciled against the
// historical table) and the country selection for the forecast endpoints.
func (h *DashboardHandler) forecastRequest(w http.ResponseWriter, r *http.Request) (*models.HistoricalTable, *models.ForecastTable, []string, bool) {
	hist, fc := h.session.Tables()
	if fc == nil || fc.Empty() {
		h.sendError(w, r, "forecast dataset not loaded", http.StatusServiceUnavailable)
		return nil, nil, nil, false
	}

	fc = h.forecasts.Reconcile(r.Context(), hist, fc)

	countries := queryList(r, "countries")
	if len(countries) == 0 {
		if hist != nil && !hist.Empty() {
			countries = h.filters.DefaultSelection(hist, h.dataCfg.PreferredCountries, h.dataCfg.WindowYears).Countries
		} else {
			h.sendError(w, r, "countries query parameter is required", http.StatusBadRequest)
			return nil, nil, nil, false
		}
	}

	return hist, fc, countries, true
}

// handleForecastError maps the forecast service errors onto panel-scoped
// status codes.
func (h *DashboardHandler) handleForecastError(w http.ResponseWriter, r *http.Request, err error) {
	var emptyErr *services.EmptySelectionError
	if errors.As(err, &emptyErr) {
		h.sendError(w, r, emptyErr.Error(), http.StatusNotFound)
		return
	}

	var ambErr *services.AmbiguousPivotError
	if errors.As(err, &ambErr) {
		h.sendError(w, r, ambErr.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.handleServiceError(w, r, r.URL.Path, err)
}

func (h *DashboardHandler) handleServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.sendError(w, r, "internal server error", http.StatusInternalServerError)
}

// acceptUpload enforces the upload preconditions: upload source mode, rate
// limit, bounded body size.
func (h *DashboardHandler) acceptUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if h.session.SourceMode() != config.SourceUpload {
		h.sendError(w, r, "dataset uploads are disabled for this data source", http.StatusForbidden)
		return nil, false
	}

	if !h.uploadLimiter.Allow() {
		h.sendError(w, r, "too many uploads, slow down", http.StatusTooManyRequests)
		return nil, false
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		h.sendError(w, r, "failed to read upload body", http.StatusBadRequest)
		return nil, false
	}

	return data, true
}

// parseSelection builds the filter selection from query parameters, falling
// back to the configured defaults.
func (h *DashboardHandler) parseSelection(r *http.Request, hist *models.HistoricalTable) (models.FilterSelection, error) {
	defaults := h.filters.DefaultSelection(hist, h.dataCfg.PreferredCountries, h.dataCfg.WindowYears)

	sel := models.FilterSelection{
		Countries: defaults.Countries,
		Start:     defaults.Start,
		End:       defaults.End,
	}

	if countries := queryList(r, "countries"); len(countries) > 0 {
		sel.Countries = countries
	}

	if v := r.URL.Query().Get("start"); v != "" {
		start, err := models.ParseDate(v)
		if err != nil {
			return sel, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", v)
		}
		sel.Start = start
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, err := models.ParseDate(v)
		if err != nil {
			return sel, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", v)
		}
		sel.End = end
	}

	sel.Start, sel.End = services.ClampRange(hist, sel.Start, sel.End)
	return sel, nil
}

// parseMonth reads a YYYY-MM month parameter, defaulting to the given month.
func (h *DashboardHandler) parseMonth(r *http.Request, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get("month")
	if v == "" {
		return fallback, nil
	}
	month, err := time.Parse("2006-01", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", v)
	}
	return month, nil
}

func queryList(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func uploadName(r *http.Request, fallback string) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return fallback
}

// sendJSON sends a JSON response
func (h *DashboardHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *DashboardHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}
