package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UpsertConfig defines the parameters for a transactional upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "openaq_locations")
	Columns      []string // all columns being inserted, in row order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	TouchColumn  string   // set to CURRENT_TIMESTAMP on insert and update; "" = none
	Replace      bool     // delete every existing row first (snapshot replacement)
}

// UpsertResult reports what one Upsert call did.
type UpsertResult struct {
	Deleted int64 // rows removed by Replace
	Written int64 // rows inserted or updated
	Skipped int64 // rows rolled back after a row-level error
}

// Upsert writes rows in one transaction. Each row runs inside its own
// savepoint: a failing row is rolled back to the savepoint, logged and skipped.
// Failures to begin, delete, savepoint or commit abort the call and roll back
// everything it wrote. An empty rows slice is a no-op and leaves the table
// untouched even when Replace is set.
func Upsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	upsertSQL, err := BuildUpsertSQL(cfg)
	if err != nil {
		return res, err
	}
	keyIdx := keyIndexes(cfg)
	log := zap.L().With(zap.String("component", "db.upsert"), zap.String("table", cfg.Table))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrapf(err, "db: upsert %s: begin tx", cfg.Table)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if cfg.Replace {
		tag, err := tx.Exec(ctx, "DELETE FROM "+sanitizeTable(cfg.Table))
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "db: upsert %s: clear table", cfg.Table)
		}
		res.Deleted = tag.RowsAffected()
	}

	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			log.Warn("skipping row with wrong arity",
				zap.Int("row", i),
				zap.Int("got", len(row)),
				zap.Int("want", len(cfg.Columns)),
			)
			res.Skipped++
			continue
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "db: upsert %s: savepoint for row %d", cfg.Table, i)
		}

		if _, err := sp.Exec(ctx, upsertSQL, row...); err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return UpsertResult{}, eris.Wrapf(rbErr, "db: upsert %s: rollback savepoint for row %d", cfg.Table, i)
			}
			log.Warn("skipping row after insert failure",
				zap.Int("row", i),
				zap.Any("key", pick(row, keyIdx)),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}

		if err := sp.Commit(ctx); err != nil {
			return UpsertResult{}, eris.Wrapf(err, "db: upsert %s: release savepoint for row %d", cfg.Table, i)
		}
		res.Written++
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert %s: commit tx", cfg.Table)
	}

	log.Info("upsert complete",
		zap.Int64("deleted", res.Deleted),
		zap.Int64("written", res.Written),
		zap.Int64("skipped", res.Skipped),
	)
	return res, nil
}

// BuildUpsertSQL renders the single-row INSERT ... ON CONFLICT statement for cfg.
func BuildUpsertSQL(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	insertCols := quoteAndJoin(cfg.Columns)
	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var setClauses []string
	for _, col := range updateCols {
		if col == cfg.TouchColumn {
			continue
		}
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	if cfg.TouchColumn != "" && !contains(cfg.Columns, cfg.TouchColumn) {
		touch := pgx.Identifier{cfg.TouchColumn}.Sanitize()
		insertCols += ", " + touch
		placeholders = append(placeholders, "CURRENT_TIMESTAMP")
		setClauses = append(setClauses, touch+" = CURRENT_TIMESTAMP")
	}

	action := "DO NOTHING"
	if len(setClauses) > 0 {
		action = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		insertCols,
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

func keyIndexes(cfg UpsertConfig) []int {
	var idx []int
	for _, k := range cfg.ConflictKeys {
		for i, c := range cfg.Columns {
			if c == k {
				idx = append(idx, i)
			}
		}
	}
	return idx
}

func pick(row []any, idx []int) []any {
	out := make([]any, 0, len(idx))
	for _, i := range idx {
		out = append(out, row[i])
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sanitizeTable handles schema-qualified table names like "public.station".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
