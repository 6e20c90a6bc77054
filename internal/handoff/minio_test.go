package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memObjects is an in-memory objects implementation that answers missing
// keys the way S3 does.
type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
	meta map[string]map[string]string
	fail error
}

func newMemObjects() *memObjects {
	return &memObjects{data: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Key: key, StatusCode: 404, Message: "The specified key does not exist."}
}

func (m *memObjects) put(_ context.Context, key string, body []byte, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = append([]byte(nil), body...)
	m.meta[key] = meta
	return nil
}

func (m *memObjects) get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	b, ok := m.data[key]
	if !ok {
		return nil, noSuchKey(key)
	}
	return b, nil
}

func (m *memObjects) remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return noSuchKey(key)
	}
	delete(m.data, key)
	return nil
}

func TestMinioStore_Key(t *testing.T) {
	assert.Equal(t, "openaq/run/countries.json.gz", newMinioStore(nil, "b", "/openaq/run/").Key("countries.json"))
	assert.Equal(t, "countries.json.gz", newMinioStore(nil, "b", "").Key("countries.json"))
}

func TestMinioStore_RoundTripCompressed(t *testing.T) {
	ctx := context.Background()
	objs := newMemObjects()
	s := newMinioStore(objs, "handoff", "openaq")

	require.NoError(t, Write(ctx, s, "locations", "run-9", []map[string]int{{"id": 1}}, nil))

	stored := objs.data["openaq/locations.json.gz"]
	require.NotEmpty(t, stored)
	assert.Equal(t, []byte{0x1f, 0x8b}, stored[:2], "stored gzipped")
	assert.Equal(t, "locations.json", objs.meta["openaq/locations.json.gz"]["artifact"])

	b, err := Read[map[string]int](ctx, s, "locations")
	require.NoError(t, err)
	assert.Equal(t, "run-9", b.RunID)
	assert.Equal(t, 1, b.Records[0]["id"])
}

func TestMinioStore_MissingIsNotFound(t *testing.T) {
	s := newMinioStore(newMemObjects(), "handoff", "")

	_, err := Read[int](context.Background(), s, "sensors")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMinioStore_DeleteMissingIsFine(t *testing.T) {
	s := newMinioStore(newMemObjects(), "handoff", "")
	assert.NoError(t, Remove(context.Background(), s, "sensors"))
}

func TestMinioStore_BackendErrors(t *testing.T) {
	objs := newMemObjects()
	objs.fail = errors.New("dial tcp: connection refused")
	s := newMinioStore(objs, "handoff", "")

	err := s.Put(context.Background(), "x.json", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://handoff/x.json.gz")

	_, err = s.Get(context.Background(), "x.json")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestMinioStore_CorruptObject(t *testing.T) {
	objs := newMemObjects()
	objs.data["x.json.gz"] = []byte("not gzip")
	s := newMinioStore(objs, "handoff", "")

	_, err := s.Get(context.Background(), "x.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gunzip")
}
