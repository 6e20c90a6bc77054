package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/openaq-sync/internal/config"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/pipeline"
	"github.com/sells-group/openaq-sync/internal/sensors"
	"github.com/sells-group/openaq-sync/internal/sqliteimport"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

func TestFormatRunResult(t *testing.T) {
	start := time.Date(2021, 8, 20, 4, 0, 0, 0, time.UTC)
	r := &pipeline.RunResult{
		RunID:      "3f2a9c1e-0000-0000-0000-000000000000",
		StartedAt:  start,
		FinishedAt: start.Add(95 * time.Second),
		Tasks: []*pipeline.Outcome{
			{
				Task: pipeline.TaskLoadCountries, Status: model.TaskStatusComplete, Attempts: 1,
				Duration: 1500 * time.Millisecond,
				Result:   &model.TaskResult{RowsWritten: 120, RowsSkipped: 2},
			},
			{
				Task: pipeline.TaskExtractLocations, Status: model.TaskStatusFailed, Attempts: 3,
				Err: errors.New("openaq: GET /locations: 502 bad gateway"),
			},
			{Task: pipeline.TaskLoadLocations, Status: model.TaskStatusUpstreamFailed},
		},
	}

	var buf bytes.Buffer
	formatRunResult(&buf, r)
	out := buf.String()

	assert.Contains(t, out, "Run 3f2a9c1e")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "load_countries")
	assert.Contains(t, out, "120")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "502 bad gateway")
	assert.Contains(t, out, "upstream_failed")
}

func TestFormatRunResult_SingleTaskHasNoHeader(t *testing.T) {
	var buf bytes.Buffer
	formatRunResult(&buf, &pipeline.RunResult{Tasks: []*pipeline.Outcome{
		{Task: pipeline.TaskValidate, Status: model.TaskStatusComplete, Attempts: 1},
	}})
	assert.False(t, strings.HasPrefix(buf.String(), "Run "))
	assert.Contains(t, buf.String(), "validate")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestFormatTaskGraph(t *testing.T) {
	var buf bytes.Buffer
	formatTaskGraph(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	require.Len(t, lines, len(pipeline.TaskNames())+1)
	assert.Contains(t, lines[0], "DEPENDS ON")
	assert.Contains(t, lines[1], pipeline.TaskCreateTables)
	assert.Contains(t, lines[1], "-")
}

func TestFormatStats(t *testing.T) {
	st := warehouse.Stats{
		Tables: []warehouse.TableStat{
			{Table: model.TableCountries, Rows: 120, DistinctColumn: "code", Distinct: 118},
			{Table: model.TableMeasurements, Rows: 0, DistinctColumn: "sensor_id"},
		},
		TopCountries: []warehouse.CountryLocations{{CountryName: "Chile", Locations: 211}},
		Sensors: []warehouse.SensorMeasurements{
			{
				SensorID: 101, ParameterName: null.StringFrom("pm25"), Measurements: 168,
				LatestPeriodTo: null.TimeFrom(time.Date(2021, 8, 20, 3, 0, 0, 0, time.UTC)),
			},
			{SensorID: 102, Measurements: 1},
		},
	}

	var buf bytes.Buffer
	formatStats(&buf, st)
	out := buf.String()

	assert.Contains(t, out, "openaq_countries")
	assert.Contains(t, out, "118 code")
	assert.Contains(t, out, "Chile")
	assert.Contains(t, out, "Sensors with measurements: 2")
	assert.Contains(t, out, "2021-08-20 03:00")
	assert.Contains(t, out, "pm25")
}

func TestFormatTaskRuns(t *testing.T) {
	start := time.Date(2021, 8, 20, 4, 0, 0, 0, time.UTC)
	done := start.Add(2 * time.Second)
	runs := []model.TaskRun{
		{
			ID: 2, RunID: "abcdef0123456789", Task: "load_locations", Attempt: 1,
			Status: model.TaskStatusComplete, StartedAt: start, CompletedAt: &done, RowsWritten: 40,
		},
		{ID: 1, RunID: "abcdef0123456789", Task: "extract_locations", Attempt: 2, Status: model.TaskStatusRunning, StartedAt: start},
	}

	var buf bytes.Buffer
	formatTaskRuns(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "abcdef01")
	assert.NotContains(t, out, "abcdef0123456789")
	assert.Contains(t, out, "load_locations")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "2021-08-20 04:00")
}

func TestFormatDiscovery(t *testing.T) {
	d := sensors.Discovery{
		Sensors: []model.Sensor{
			{SensorID: 101, LocationID: 1, LocationName: null.StringFrom("Las Encinas"), ParameterName: null.StringFrom("pm25"), ParameterUnits: null.StringFrom("µg/m³")},
		},
		Locations: 2,
		Skipped:   []sensors.Skipped{{LocationID: 7, Outcome: sensors.OutcomeMalformed, Reason: "not a list"}},
	}

	var buf bytes.Buffer
	formatDiscovery(&buf, d)
	out := buf.String()

	assert.Contains(t, out, "1 sensors across 2 locations")
	assert.Contains(t, out, "Las Encinas")
	assert.Contains(t, out, "skipped location 7 (malformed): not a list")
}

func TestFormatImportReport(t *testing.T) {
	rep := sqliteimport.Report{
		Source:  "airflow_countries_stations.db",
		Missing: []string{model.TableLocations},
		Tables: []warehouse.LoadResult{
			{Table: model.TableCountries, Received: 3, Written: 2, InvalidSkipped: 1},
		},
	}

	var buf bytes.Buffer
	formatImportReport(&buf, rep)
	out := buf.String()

	assert.Contains(t, out, "Imported from airflow_countries_stations.db")
	assert.Contains(t, out, "openaq_countries")
	assert.Contains(t, out, "not present in source: openaq_locations")
}

func TestWriteConfig_Redacts(t *testing.T) {
	c := &config.Config{
		Store:  config.StoreConfig{Host: "db", Password: "hunter2"},
		OpenAQ: config.OpenAQConfig{APIKey: "secret-key", BaseURL: "https://api.openaq.org/v3"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, c))
	out := buf.String()

	assert.Contains(t, out, "base_url: https://api.openaq.org/v3")
	assert.Contains(t, out, "redacted")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "secret-key")
}
