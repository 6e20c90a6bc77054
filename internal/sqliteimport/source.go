// Package sqliteimport copies the tables of a legacy SQLite database into the
// PostgreSQL warehouse using the same upsert contract as the pipeline.
package sqliteimport

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/openaq-sync/internal/model"
)

// KnownTables are the tables the import understands, in load order.
var KnownTables = []string{model.TableCountries, model.TableLocations, model.TableParameters, model.TableStation}

// Source is a read-only handle on a SQLite file.
type Source struct {
	db   *sql.DB
	path string
}

// Open opens the SQLite file at path. A missing file is an error rather than
// a freshly created empty database.
func Open(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Errorf("sqliteimport: file %s not found", path)
		}
		return nil, eris.Wrapf(err, "sqliteimport: stat %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqliteimport: open")
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA query_only=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqliteimport: exec %s", pragma)
		}
	}
	return &Source{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// Path returns the file the source was opened from.
func (s *Source) Path() string { return s.path }

// Tables returns which of KnownTables exist in the file, in KnownTables order.
func (s *Source) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, eris.Wrap(err, "sqliteimport: list tables")
	}
	defer rows.Close() //nolint:errcheck

	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqliteimport: scan table name")
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqliteimport: list tables")
	}

	var out []string
	for _, t := range KnownTables {
		if present[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Count returns the number of rows in table.
func (s *Source) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqliteimport: count %s", table)
	}
	return n, nil
}

func (s *Source) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "sqliteimport: columns of %s", table)
	}
	defer rows.Close() //nolint:errcheck

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrapf(err, "sqliteimport: scan column of %s", table)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// field is one output value and the source column names it may be stored
// under, preferred first.
type field struct {
	name    string
	aliases []string
}

// record is one source row keyed by field name. Absent columns are nil.
type record map[string]any

// read selects fields from table. Each field takes the first alias the table
// actually has; a field with none reads as NULL.
func (s *Source) read(ctx context.Context, table string, fields []field) ([]record, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = "NULL"
		for _, a := range f.aliases {
			if cols[strings.ToLower(a)] {
				exprs[i] = `"` + a + `"`
				break
			}
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+strings.Join(exprs, ", ")+` FROM "`+table+`"`)
	if err != nil {
		return nil, eris.Wrapf(err, "sqliteimport: read %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var out []record
	for rows.Next() {
		vals := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "sqliteimport: scan %s row", table)
		}
		rec := make(record, len(fields))
		for i, f := range fields {
			rec[f.name] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqliteimport: read %s", table)
	}
	return out, nil
}
