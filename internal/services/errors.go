package services

import (
	"fmt"
	"strings"
	"time"
)

// EmptySelectionError reports that the active filter selection matched no
// rows. Panels render it inline; it is never fatal.
type EmptySelectionError struct {
	Countries []string
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("no forecast available for selection: %s", strings.Join(e.Countries, ", "))
}

// AmbiguousPivotError reports a duplicated (country, forecast_date) pair that
// makes the forecast pivot ambiguous. The reshape is rejected rather than
// silently dropping or averaging the duplicates.
type AmbiguousPivotError struct {
	Country string
	Date    time.Time
}

func (e *AmbiguousPivotError) Error() string {
	return fmt.Sprintf("ambiguous pivot: duplicate forecast for (%s, %s)", e.Country, e.Date.Format("2006-01-02"))
}
