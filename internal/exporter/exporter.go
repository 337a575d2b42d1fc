package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"drought-tracker/internal/services"
	"drought-tracker/pkg/logging"
)

const forecastSheet = "Forecast"

// Exporter renders dashboard views into downloadable files.
type Exporter struct {
	logger *logging.StructuredLogger
}

// NewExporter creates a new exporter
func NewExporter(logger *logging.StructuredLogger) *Exporter {
	return &Exporter{logger: logger}
}

// WriteForecastXLSX writes the forecast pivot as an xlsx workbook: countries
// down the rows, forecast dates across the columns. Empty cells stay empty.
func (e *Exporter) WriteForecastXLSX(ctx context.Context, pivot *services.ForecastPivot, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", forecastSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := setCell(f, 1, 1, "country"); err != nil {
		return err
	}
	for i, d := range pivot.Dates {
		if err := setCell(f, i+2, 1, d.Format("2006-01-02")); err != nil {
			return err
		}
	}

	for r, row := range pivot.Rows {
		if err := setCell(f, 1, r+2, row.Country); err != nil {
			return err
		}
		for c, v := range row.Values {
			if v == nil {
				continue
			}
			if err := setCell(f, c+2, r+2, *v); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Debug(ctx, "[EXPORT_XLSX] Forecast workbook written", logging.Fields{
		"countries": len(pivot.Rows),
		"dates":     len(pivot.Dates),
	})

	return nil
}

// WriteTopRisksCSV writes the ranked risk table as CSV.
func (e *Exporter) WriteTopRisksCSV(ctx context.Context, asOf time.Time, rows []services.RiskRow, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"rank", "country", "date", "tws_mean_cm", "aqueduct_label"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Rank),
			row.Country,
			asOf.Format("2006-01-02"),
			strconv.FormatFloat(row.TWSMeanCm, 'f', -1, 64),
			row.AqueductLabel,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	e.logger.Debug(ctx, "[EXPORT_CSV] Risk table written", logging.Fields{
		"rows": len(rows),
	})

	return nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(forecastSheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
