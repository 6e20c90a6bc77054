package handoff

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/config"
	"github.com/sells-group/openaq-sync/internal/openaq"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	records := []openaq.Country{
		{ID: null.IntFrom(3), Code: null.StringFrom("CL"), DatetimeFirst: openaq.DateTime{UTC: null.StringFrom("2016-01-30T01:00:00Z")}},
		{ID: null.IntFrom(4), Code: null.StringFrom("AR")},
	}
	require.NoError(t, Write(ctx, s, "countries", "run-1", records, map[string]any{"stop": "short_page"}))

	b, err := Read[openaq.Country](ctx, s, "countries")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, b.SchemaVersion)
	assert.Equal(t, "countries", b.Entity)
	assert.Equal(t, "run-1", b.RunID)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, "short_page", b.Meta["stop"])
	assert.False(t, b.ExtractedAt.IsZero())
	assert.Equal(t, records, b.Records)
}

func TestWrite_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, Write[openaq.Parameter](ctx, s, "parameters", "run-1", nil, nil))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "parameters.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"records":[]`)

	b, err := Read[openaq.Parameter](ctx, s, "parameters")
	require.NoError(t, err)
	assert.Zero(t, b.Count)
	assert.Empty(t, b.Records)
}

func TestWrite_RawMeasurementsSurvive(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	payload := json.RawMessage(`{"value":1.5,"period":{"label":"raw"}}`)
	require.NoError(t, Write(ctx, s, "measurements", "run-1",
		[]openaq.SensorMeasurement{{SensorID: 7, LocationID: 1, Payload: payload}}, nil))

	b, err := Read[openaq.SensorMeasurement](ctx, s, "measurements")
	require.NoError(t, err)
	require.Len(t, b.Records, 1)
	assert.JSONEq(t, string(payload), string(b.Records[0].Payload))
}

func TestRead_Missing(t *testing.T) {
	_, err := Read[openaq.Country](context.Background(), newFileStore(t), "countries")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRead_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"schema_version": 1, "records": [`},
		{"old version", `{"schema_version": 0, "entity": "countries", "count": 0, "records": []}`},
		{"future version", `{"schema_version": 2, "entity": "countries", "count": 0, "records": []}`},
		{"wrong entity", `{"schema_version": 1, "entity": "locations", "count": 0, "records": []}`},
		{"count mismatch", `{"schema_version": 1, "entity": "countries", "count": 3, "records": [{"id": 1}]}`},
		{"wrong record shape", `{"schema_version": 1, "entity": "countries", "count": 1, "records": [{"id": "three"}]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := newFileStore(t)
			require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "countries.json"), []byte(tt.body), 0o644))

			_, err := Read[openaq.Country](context.Background(), s, "countries")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, Write(ctx, s, "sensors", "run-1", []int{1, 2}, nil))
	require.NoError(t, Remove(ctx, s, "sensors"))
	_, err := os.Stat(filepath.Join(s.Dir(), "sensors.json"))
	assert.True(t, os.IsNotExist(err))

	// removing twice is fine
	assert.NoError(t, Remove(ctx, s, "sensors"))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, s.Put(ctx, "a.json", []byte("1")))
	require.NoError(t, s.Put(ctx, "a.json", []byte("2")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())

	data, err := s.Get(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestNewFileStore_NoDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), config.HandoffConfig{Backend: "file", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "file", s.Backend())

	_, err = Open(context.Background(), config.HandoffConfig{Backend: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	_, err = Open(context.Background(), config.HandoffConfig{Backend: "minio"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint and bucket are required")
}
