package models

import (
	"testing"
	"time"
)

func TestRawHistoricalRow_ToRecord(t *testing.T) {
	tests := []struct {
		name        string
		row         RawHistoricalRow
		wantErr     bool
		checkValues func(*testing.T, *HistoricalRecord)
	}{
		{
			name: "valid row with all columns",
			row: RawHistoricalRow{
				Country:        "India",
				ISOA3:          "IND",
				Date:           "2023-06-01",
				TWSMeanCm:      "-7.25",
				AqueductLabel:  "High (40-80%)",
				AqueductRegion: "South Asia",
			},
			wantErr: false,
			checkValues: func(t *testing.T, rec *HistoricalRecord) {
				if rec.Country != "India" {
					t.Errorf("Country = %v, want %v", rec.Country, "India")
				}

				expectedDate := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
				if !rec.Date.Equal(expectedDate) {
					t.Errorf("Date = %v, want %v", rec.Date, expectedDate)
				}

				if rec.TWSMeanCm != -7.25 {
					t.Errorf("TWSMeanCm = %v, want %v", rec.TWSMeanCm, -7.25)
				}

				if rec.AqueductRegion != "South Asia" {
					t.Errorf("AqueductRegion = %v, want %v", rec.AqueductRegion, "South Asia")
				}
			},
		},
		{
			name: "month-resolution date",
			row: RawHistoricalRow{
				Country:   "Brazil",
				ISOA3:     "BRA",
				Date:      "2020-02",
				TWSMeanCm: "3.1",
			},
			wantErr: false,
			checkValues: func(t *testing.T, rec *HistoricalRecord) {
				expectedDate := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
				if !rec.Date.Equal(expectedDate) {
					t.Errorf("Date = %v, want %v", rec.Date, expectedDate)
				}
			},
		},
		{
			name: "surrounding whitespace is trimmed",
			row: RawHistoricalRow{
				Country:   " Australia ",
				ISOA3:     " AUS",
				Date:      " 2021-01-01 ",
				TWSMeanCm: " 1.5 ",
			},
			wantErr: false,
			checkValues: func(t *testing.T, rec *HistoricalRecord) {
				if rec.Country != "Australia" {
					t.Errorf("Country = %q, want %q", rec.Country, "Australia")
				}
				if rec.ISOA3 != "AUS" {
					t.Errorf("ISOA3 = %q, want %q", rec.ISOA3, "AUS")
				}
				if rec.TWSMeanCm != 1.5 {
					t.Errorf("TWSMeanCm = %v, want %v", rec.TWSMeanCm, 1.5)
				}
			},
		},
		{
			name: "invalid date",
			row: RawHistoricalRow{
				Country:   "India",
				ISOA3:     "IND",
				Date:      "June 2023",
				TWSMeanCm: "1.0",
			},
			wantErr: true,
		},
		{
			name: "invalid value",
			row: RawHistoricalRow{
				Country:   "India",
				ISOA3:     "IND",
				Date:      "2023-06-01",
				TWSMeanCm: "n/a",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tt.row.ToRecord()

			if (err != nil) != tt.wantErr {
				t.Fatalf("ToRecord() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error type = %T, want *ValidationError", err)
				}
				return
			}

			if tt.checkValues != nil {
				tt.checkValues(t, rec)
			}
		})
	}
}

func TestRawForecastRow_ToRecord(t *testing.T) {
	tests := []struct {
		name    string
		row     RawForecastRow
		wantErr bool
		want    ForecastRecord
	}{
		{
			name: "iso-coded row without country_name",
			row: RawForecastRow{
				Country:      "USA",
				ForecastDate: "2024-03-01",
				PredictedTWS: "-4.8",
			},
			want: ForecastRecord{
				Country:      "USA",
				ForecastDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				PredictedTWS: -4.8,
			},
		},
		{
			name: "row with resolved country_name",
			row: RawForecastRow{
				Country:      "IND",
				CountryName:  "India",
				ForecastDate: "2024-04-01",
				PredictedTWS: "2.0",
			},
			want: ForecastRecord{
				Country:      "IND",
				CountryName:  "India",
				ForecastDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
				PredictedTWS: 2.0,
			},
		},
		{
			name: "invalid forecast_date",
			row: RawForecastRow{
				Country:      "USA",
				ForecastDate: "03/2024",
				PredictedTWS: "1.0",
			},
			wantErr: true,
		},
		{
			name: "invalid predicted value",
			row: RawForecastRow{
				Country:      "USA",
				ForecastDate: "2024-03-01",
				PredictedTWS: "",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tt.row.ToRecord()

			if (err != nil) != tt.wantErr {
				t.Fatalf("ToRecord() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				return
			}

			if *rec != tt.want {
				t.Errorf("ToRecord() = %+v, want %+v", *rec, tt.want)
			}
		})
	}
}

func TestHistoricalTable_Countries(t *testing.T) {
	table := &HistoricalTable{
		Records: []HistoricalRecord{
			{Country: "India", ISOA3: "IND"},
			{Country: "Brazil", ISOA3: "BRA"},
			{Country: "India", ISOA3: "IND"},
			{Country: "Australia", ISOA3: "AUS"},
		},
	}

	got := table.Countries()
	want := []string{"Australia", "Brazil", "India"}

	if len(got) != len(want) {
		t.Fatalf("Countries() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Countries()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if table.CountryCount() != 3 {
		t.Errorf("CountryCount() = %d, want 3", table.CountryCount())
	}
}

func TestHistoricalTable_ISOMap_FirstOccurrenceWins(t *testing.T) {
	table := &HistoricalTable{
		Records: []HistoricalRecord{
			{Country: "United States", ISOA3: "USA"},
			{Country: "USA (alias)", ISOA3: "USA"},
			{Country: "India", ISOA3: "IND"},
			{Country: "Unmapped", ISOA3: ""},
		},
	}

	m := table.ISOMap()

	if m["USA"] != "United States" {
		t.Errorf(`ISOMap()["USA"] = %v, want "United States"`, m["USA"])
	}
	if m["IND"] != "India" {
		t.Errorf(`ISOMap()["IND"] = %v, want "India"`, m["IND"])
	}
	if len(m) != 2 {
		t.Errorf("len(ISOMap()) = %d, want 2", len(m))
	}
}
