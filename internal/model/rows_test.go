package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
)

func TestValuesMatchColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		columns []string
		values  []any
	}{
		{"country", CountryColumns, CountryRow{}.Values()},
		{"location", LocationColumns, LocationRow{}.Values()},
		{"parameter", ParameterColumns, ParameterRow{}.Values()},
		{"measurement", MeasurementColumns, MeasurementRow{}.Values()},
		{"station", StationColumns, StationRow{}.Values()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, tt.values, len(tt.columns))
		})
	}
}

func TestKeysAreColumns(t *testing.T) {
	t.Parallel()

	for _, k := range MeasurementKey {
		assert.Contains(t, MeasurementColumns, k)
	}
	for _, k := range StationKey {
		assert.Contains(t, StationColumns, k)
	}
	assert.NotContains(t, MeasurementColumns, TouchColumn)
}

func TestLocationRowValues(t *testing.T) {
	t.Parallel()

	row := LocationRow{
		LocationID:  42,
		Name:        null.StringFrom("Las Encinas"),
		CountryCode: null.StringFrom("CL"),
		IsMobile:    null.BoolFrom(false),
		Latitude:    null.FloatFrom(-38.75),
		Sensors:     json.RawMessage(`[{"id":1}]`),
	}
	v := row.Values()

	assert.Equal(t, int64(42), v[0])
	assert.Equal(t, null.StringFrom("Las Encinas"), v[1])
	assert.Equal(t, null.StringFrom("CL"), v[4])
	assert.Equal(t, null.BoolFrom(false), v[8])
	assert.Equal(t, null.Bool{}, v[9])
	assert.Equal(t, `[{"id":1}]`, v[12])
	assert.Nil(t, v[13], "absent instruments blob is SQL NULL")
}

func TestMeasurementRowValues(t *testing.T) {
	t.Parallel()

	from := time.Date(2021, 8, 13, 0, 0, 0, 0, time.UTC)
	row := MeasurementRow{
		SensorID:      7,
		Value:         null.FloatFrom(12.5),
		PeriodFromUTC: null.TimeFrom(from),
		PeriodToUTC:   null.TimeFrom(from.Add(time.Hour)),
		RawData:       json.RawMessage(`{"value":12.5}`),
	}
	v := row.Values()

	assert.Equal(t, int64(7), v[0])
	assert.Equal(t, null.FloatFrom(12.5), v[2])
	assert.Equal(t, null.TimeFrom(from), v[10])
	assert.Equal(t, null.Bool{}, v[14], "absent flag stays null")
	assert.Equal(t, `{"value":12.5}`, v[len(v)-1])
}

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   TaskStatus
		want     string
		terminal bool
	}{
		{TaskStatusRunning, "running", false},
		{TaskStatusComplete, "complete", true},
		{TaskStatusFailed, "failed", false},
		{TaskStatusUpstreamFailed, "upstream_failed", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestTaskRunDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	run := TaskRun{StartedAt: start}
	assert.Zero(t, run.Duration())

	done := start.Add(90 * time.Second)
	run.CompletedAt = &done
	assert.Equal(t, 90*time.Second, run.Duration())
}
