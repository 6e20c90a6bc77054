// Package handoff passes extracted records from an extract task to its load
// task as a typed, versioned batch kept in a file or object store.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SchemaVersion is bumped whenever the Batch layout changes incompatibly.
const SchemaVersion = 1

// Sentinel errors.
var (
	ErrNotFound       = eris.New("handoff: artifact not found")
	ErrSchemaMismatch = eris.New("handoff: artifact does not match expected schema")
)

// Store keeps named artifacts.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error) // ErrNotFound when absent
	Delete(ctx context.Context, name string) error        // absent is not an error
	Backend() string
}

// Batch is the artifact an extract task leaves for its load task.
type Batch[T any] struct {
	SchemaVersion int            `json:"schema_version"`
	Entity        string         `json:"entity"`
	RunID         string         `json:"run_id"`
	ExtractedAt   time.Time      `json:"extracted_at"`
	Count         int            `json:"count"`
	Meta          map[string]any `json:"meta,omitempty"`
	Records       []T            `json:"records"`
}

// ArtifactName is the store name for an entity's batch.
func ArtifactName(entity string) string {
	return entity + ".json"
}

// Write stores records as the entity's batch, replacing any previous one.
func Write[T any](ctx context.Context, s Store, entity, runID string, records []T, meta map[string]any) error {
	if records == nil {
		records = []T{}
	}
	b := Batch[T]{
		SchemaVersion: SchemaVersion,
		Entity:        entity,
		RunID:         runID,
		ExtractedAt:   time.Now().UTC(),
		Count:         len(records),
		Meta:          meta,
		Records:       records,
	}
	data, err := json.Marshal(b)
	if err != nil {
		return eris.Wrapf(err, "handoff: encode %s batch", entity)
	}
	if err := s.Put(ctx, ArtifactName(entity), data); err != nil {
		return eris.Wrapf(err, "handoff: write %s batch", entity)
	}

	zap.L().Info("handoff: batch written",
		zap.String("entity", entity),
		zap.String("backend", s.Backend()),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Read loads the entity's batch and checks it before handing it out: the
// schema version and entity name must match and Count must equal the number
// of records. A missing artifact is ErrNotFound.
func Read[T any](ctx context.Context, s Store, entity string) (Batch[T], error) {
	data, err := s.Get(ctx, ArtifactName(entity))
	if err != nil {
		return Batch[T]{}, eris.Wrapf(err, "handoff: read %s batch", entity)
	}

	var b Batch[T]
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch[T]{}, eris.Wrapf(ErrSchemaMismatch, "handoff: decode %s batch: %v", entity, err)
	}
	switch {
	case b.SchemaVersion != SchemaVersion:
		return Batch[T]{}, eris.Wrapf(ErrSchemaMismatch, "handoff: %s batch has schema version %d, want %d", entity, b.SchemaVersion, SchemaVersion)
	case b.Entity != entity:
		return Batch[T]{}, eris.Wrapf(ErrSchemaMismatch, "handoff: %s batch holds entity %q", entity, b.Entity)
	case b.Count != len(b.Records):
		return Batch[T]{}, eris.Wrapf(ErrSchemaMismatch, "handoff: %s batch declares %d records, holds %d", entity, b.Count, len(b.Records))
	}
	return b, nil
}

// Remove deletes the entity's batch. Load tasks call it after commit.
func Remove(ctx context.Context, s Store, entity string) error {
	if err := s.Delete(ctx, ArtifactName(entity)); err != nil {
		return eris.Wrapf(err, "handoff: remove %s batch", entity)
	}
	return nil
}

// IsNotFound reports whether err is a missing artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
