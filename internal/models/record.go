package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HistoricalRecord represents one country-month water storage observation.
// TWSMeanCm is the terrestrial water storage anomaly in centimeters relative
// to a long-term baseline of zero.
type HistoricalRecord struct {
	Country        string    `json:"country" db:"country"`
	ISOA3          string    `json:"iso_a3" db:"iso_a3"`
	Date           time.Time `json:"date" db:"date"`
	TWSMeanCm      float64   `json:"tws_mean_cm" db:"tws_mean_cm"`
	AqueductLabel  string    `json:"aqueduct_label,omitempty" db:"aqueduct_label"`
	AqueductRegion string    `json:"aqueduct_wb_region,omitempty" db:"aqueduct_wb_region"`
}

// ForecastRecord represents one pre-computed drought-risk prediction.
// Country may hold either an ISO3 code or a display name; CountryName is
// filled by reconciliation against the historical table.
type ForecastRecord struct {
	Country      string    `json:"country" db:"country"`
	CountryName  string    `json:"country_name,omitempty" db:"country_name"`
	ForecastDate time.Time `json:"forecast_date" db:"forecast_date"`
	PredictedTWS float64   `json:"predicted_tws" db:"predicted_tws"`
}

// RawHistoricalRow is a single CSV row of the historical table before type
// coercion. Used during loading.
type RawHistoricalRow struct {
	Country        string
	ISOA3          string
	Date           string
	TWSMeanCm      string
	AqueductLabel  string
	AqueductRegion string
}

// RawForecastRow is a single CSV row of the forecast table before type coercion.
type RawForecastRow struct {
	Country      string
	CountryName  string
	ForecastDate string
	PredictedTWS string
}

// dateLayouts accepted for the month-resolution date columns.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006-01-02T15:04:05Z07:00"}

// ParseDate coerces a date cell into a timestamp.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ValidationError{
		Field:   "date",
		Value:   s,
		Message: "invalid date format, expected YYYY-MM-DD",
		cause:   lastErr,
	}
}

// ToRecord converts RawHistoricalRow to HistoricalRecord.
func (r *RawHistoricalRow) ToRecord() (*HistoricalRecord, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return nil, err
	}

	tws, err := strconv.ParseFloat(strings.TrimSpace(r.TWSMeanCm), 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   "tws_mean_cm",
			Value:   r.TWSMeanCm,
			Message: "invalid tws_mean_cm, expected real number",
			cause:   err,
		}
	}

	return &HistoricalRecord{
		Country:        strings.TrimSpace(r.Country),
		ISOA3:          strings.TrimSpace(r.ISOA3),
		Date:           date,
		TWSMeanCm:      tws,
		AqueductLabel:  strings.TrimSpace(r.AqueductLabel),
		AqueductRegion: strings.TrimSpace(r.AqueductRegion),
	}, nil
}

// ToRecord converts RawForecastRow to ForecastRecord.
func (r *RawForecastRow) ToRecord() (*ForecastRecord, error) {
	date, err := ParseDate(r.ForecastDate)
	if err != nil {
		return nil, &ValidationError{
			Field:   "forecast_date",
			Value:   r.ForecastDate,
			Message: "invalid forecast_date, expected YYYY-MM-DD",
			cause:   err,
		}
	}

	predicted, err := strconv.ParseFloat(strings.TrimSpace(r.PredictedTWS), 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   "predicted_tws",
			Value:   r.PredictedTWS,
			Message: "invalid predicted_tws, expected real number",
			cause:   err,
		}
	}

	return &ForecastRecord{
		Country:      strings.TrimSpace(r.Country),
		CountryName:  strings.TrimSpace(r.CountryName),
		ForecastDate: date,
		PredictedTWS: predicted,
	}, nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
	cause   error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// MissingColumnError reports a column a consumer needs but the table does
// not carry, whether absent from the header row or not of the expected kind.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column: %s", e.Column)
}
