package models

import (
	"sort"
	"time"
)

// HistoricalTable holds the fully-loaded historical record set together with
// the column-presence flags and observed date bounds. Read-only after load;
// every derived view works on copies.
type HistoricalTable struct {
	Records   []HistoricalRecord
	HasRegion bool
	HasLabel  bool
	MinDate   time.Time
	MaxDate   time.Time

	// Extra columns present in the source beyond the modeled schema, aligned
	// index-for-index with Records. Numeric columns use NaN for blank cells.
	ExtraNumeric     map[string][]float64
	ExtraCategorical map[string][]string

	// Load-time health counters (see the duplicate-key note in DESIGN.md).
	DuplicateRows int
	DuplicateKeys int
}

// ForecastTable holds the fully-loaded forecast record set.
type ForecastTable struct {
	Records        []ForecastRecord
	HasCountryName bool
	MinDate        time.Time
	MaxDate        time.Time
}

// FilterSelection is one user interaction's filter state: a country subset
// and an inclusive date interval.
type FilterSelection struct {
	Countries []string  `json:"countries"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Empty reports whether the table holds no records.
func (t *HistoricalTable) Empty() bool {
	return t == nil || len(t.Records) == 0
}

// Empty reports whether the table holds no records.
func (t *ForecastTable) Empty() bool {
	return t == nil || len(t.Records) == 0
}

// Countries returns the sorted distinct country names present in the table.
func (t *HistoricalTable) Countries() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(t.Records))
	out := make([]string, 0, 64)
	for i := range t.Records {
		c := t.Records[i].Country
		if c == "" {
			continue
		}
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// CountryCount returns the number of distinct countries tracked.
func (t *HistoricalTable) CountryCount() int {
	return len(t.Countries())
}

// NumericColumns returns every numeric column by name, the modeled value
// column plus any extra numeric columns from the source.
func (t *HistoricalTable) NumericColumns() map[string][]float64 {
	cols := make(map[string][]float64, 1+len(t.ExtraNumeric))

	tws := make([]float64, len(t.Records))
	for i := range t.Records {
		tws[i] = t.Records[i].TWSMeanCm
	}
	cols["tws_mean_cm"] = tws

	for name, values := range t.ExtraNumeric {
		cols[name] = values
	}
	return cols
}

// CategoricalColumn returns the named non-numeric column, or false when the
// table has no such column.
func (t *HistoricalTable) CategoricalColumn(name string) ([]string, bool) {
	extract := func(f func(*HistoricalRecord) string) []string {
		out := make([]string, len(t.Records))
		for i := range t.Records {
			out[i] = f(&t.Records[i])
		}
		return out
	}

	switch name {
	case "country":
		return extract(func(r *HistoricalRecord) string { return r.Country }), true
	case "iso_a3":
		return extract(func(r *HistoricalRecord) string { return r.ISOA3 }), true
	case "aqueduct_label":
		if !t.HasLabel {
			return nil, false
		}
		return extract(func(r *HistoricalRecord) string { return r.AqueductLabel }), true
	case "aqueduct_wb_region":
		if !t.HasRegion {
			return nil, false
		}
		return extract(func(r *HistoricalRecord) string { return r.AqueductRegion }), true
	}

	if values, ok := t.ExtraCategorical[name]; ok {
		return values, true
	}
	return nil, false
}

// CategoricalColumnNames lists the non-numeric columns available for value
// counts, in stable order.
func (t *HistoricalTable) CategoricalColumnNames() []string {
	names := []string{"country", "iso_a3"}
	if t.HasLabel {
		names = append(names, "aqueduct_label")
	}
	if t.HasRegion {
		names = append(names, "aqueduct_wb_region")
	}
	extra := make([]string, 0, len(t.ExtraCategorical))
	for name := range t.ExtraCategorical {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// ISOMap builds the iso_a3 -> country lookup from distinct pairs. The first
// occurrence of a code wins, matching table order.
func (t *HistoricalTable) ISOMap() map[string]string {
	m := make(map[string]string)
	if t == nil {
		return m
	}
	for i := range t.Records {
		code := t.Records[i].ISOA3
		if code == "" {
			continue
		}
		if _, ok := m[code]; !ok {
			m[code] = t.Records[i].Country
		}
	}
	return m
}
