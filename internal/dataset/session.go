package dataset

import (
	"sync"

	"drought-tracker/internal/models"
)

// Session owns the loaded tables for the lifetime of the process. Handlers
// take read snapshots; uploads replace the table pointers under the write
// lock. The tables themselves are never mutated after load.
type Session struct {
	mu         sync.RWMutex
	historical *models.HistoricalTable
	forecast   *models.ForecastTable
	sourceMode string
}

// NewSession creates an empty session for the given source mode.
func NewSession(sourceMode string) *Session {
	return &Session{sourceMode: sourceMode}
}

// Tables returns the current table snapshots. Either may be nil when the
// corresponding source has not loaded.
func (s *Session) Tables() (*models.HistoricalTable, *models.ForecastTable) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historical, s.forecast
}

// Historical returns the current historical table snapshot.
func (s *Session) Historical() *models.HistoricalTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historical
}

// Forecast returns the current forecast table snapshot.
func (s *Session) Forecast() *models.ForecastTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forecast
}

// SetHistorical atomically replaces the historical table.
func (s *Session) SetHistorical(t *models.HistoricalTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historical = t
}

// SetForecast atomically replaces the forecast table.
func (s *Session) SetForecast(t *models.ForecastTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecast = t
}

// SourceMode reports which data source mode the session was started with.
func (s *Session) SourceMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceMode
}
